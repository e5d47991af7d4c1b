package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePartial(t *testing.T) {
	tests := []struct {
		name     string
		buf      string
		wantOK   bool
		wantLen  int
		wantText string
	}{
		{name: "まだ何もない", buf: `{"resp`, wantOK: false},
		{name: "配列が開いただけ", buf: `{"response":[`, wantOK: false},
		{name: "本文の途中", buf: `{"response":[{"text":"Photo`, wantOK: true, wantLen: 1, wantText: "Photo"},
		{name: "キーの途中は直前の値まで", buf: `{"response":[{"text":"Photosynthesis","ty`, wantOK: true, wantLen: 1, wantText: "Photosynthesis"},
		{name: "値の直前", buf: `{"response":[{"text":"Light","type":`, wantOK: true, wantLen: 1, wantText: "Light"},
		{name: "エスケープの途中", buf: `{"response":[{"text":"say \`, wantOK: true, wantLen: 1, wantText: "say "},
		{name: "2件目の開始", buf: `{"response":[{"text":"A","type":"generated","sourceDocumentId":null,"sourceDocumentTitle":null,"confidence":0.9},{"te`, wantOK: true, wantLen: 1, wantText: "A"},
		{name: "数値の途中", buf: `{"response":[{"text":"A","confidence":0.`, wantOK: true, wantLen: 1, wantText: "A"},
		{name: "完全なJSON", buf: `{"response":[{"text":"A"},{"text":"B"}],"metadata":{}}`, wantOK: true, wantLen: 2, wantText: "A"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParsePartial(tt.buf)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			require.Len(t, got.Response, tt.wantLen)
			require.NotNil(t, got.Response[0].Text)
			assert.Equal(t, tt.wantText, *got.Response[0].Text)
		})
	}
}

func TestParsePartial_KeepsTypedFields(t *testing.T) {
	got, ok := ParsePartial(`{"response":[{"text":"A","type":"from_file","sourceDocumentId":"d1","confidence":0.75`)
	require.True(t, ok)
	seg := got.Response[0]
	require.NotNil(t, seg.Type)
	assert.Equal(t, SegmentFromFile, *seg.Type)
	require.NotNil(t, seg.SourceDocumentID)
	assert.Equal(t, "d1", *seg.SourceDocumentID)
	require.NotNil(t, seg.Confidence)
	assert.Equal(t, 0.75, *seg.Confidence)
	assert.Nil(t, seg.SourceDocumentTitle)
}
