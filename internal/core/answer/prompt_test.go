package answer

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

func TestBuildSystemPrompt(t *testing.T) {
	t.Run("カタログと本文を含み、長い本文は切り詰める", func(t *testing.T) {
		id := uuid.New()
		doc := retrieved(id, "Long Notes", 0.5)
		doc.Content = strings.Repeat("あ", MaxDocumentChars+50)

		prompt := BuildSystemPrompt([]retrieval.RetrievedDocument{doc})

		assert.Contains(t, prompt, "- id: "+id.String()+" | title: Long Notes")
		assert.Contains(t, prompt, strings.Repeat("あ", MaxDocumentChars)+"...")
		assert.NotContains(t, prompt, strings.Repeat("あ", MaxDocumentChars+1))
	})

	t.Run("ドキュメントがない場合は一般知識で答えるよう指示する", func(t *testing.T) {
		prompt := BuildSystemPrompt(nil)
		assert.Contains(t, prompt, "no matching documents")
		assert.NotContains(t, prompt, "## Document contents")
	})
}

func TestFlattenContent(t *testing.T) {
	stored, err := StructuredResponse{Response: []Segment{generated("one", 1), generated("two", 1)}}.Marshal()
	assert.NoError(t, err)

	assert.Equal(t, "one two", FlattenContent(stored))
	assert.Equal(t, "plain text", FlattenContent("plain text"))
	assert.Equal(t, `{"foo":1}`, FlattenContent(`{"foo":1}`))
}

// runeCounter は1文字を1トークンとして数える
type runeCounter struct{}

func (runeCounter) CountTokens(text string) int { return len([]rune(text)) }

func TestBuildSystemPromptWithBudget(t *testing.T) {
	first := retrieved(uuid.New(), "First", 0.8)
	first.Content = strings.Repeat("a", 10)
	second := retrieved(uuid.New(), "Second", 0.6)
	second.Content = strings.Repeat("b", 10)
	third := retrieved(uuid.New(), "Third", 0.4)
	third.Content = strings.Repeat("c", 10)
	docs := []retrieval.RetrievedDocument{first, second, third}

	tests := []struct {
		name         string
		budget       ContextBudget
		wantContains []string
		wantMissing  []string
	}{
		{
			name:         "上限内なら全文を含める",
			budget:       ContextBudget{Counter: runeCounter{}, MaxTokens: 30},
			wantContains: []string{strings.Repeat("a", 10), strings.Repeat("b", 10), strings.Repeat("c", 10)},
			wantMissing:  []string{"content omitted"},
		},
		{
			name:         "上限を超えると検索順に詰めて残りは省略する",
			budget:       ContextBudget{Counter: runeCounter{}, MaxTokens: 15},
			wantContains: []string{strings.Repeat("a", 10), "\n" + strings.Repeat("b", 5) + "...\n", "content omitted"},
			wantMissing:  []string{strings.Repeat("b", 6), strings.Repeat("c", 10)},
		},
		{
			name:         "Counter がなければ制限しない",
			budget:       ContextBudget{MaxTokens: 1},
			wantContains: []string{strings.Repeat("c", 10)},
			wantMissing:  []string{"content omitted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := BuildSystemPromptWithBudget(docs, tt.budget)

			for _, d := range docs {
				assert.Contains(t, prompt, "- id: "+d.ID.String()+" | title: "+d.Title)
			}
			for _, s := range tt.wantContains {
				assert.Contains(t, prompt, s)
			}
			for _, s := range tt.wantMissing {
				assert.NotContains(t, prompt, s)
			}
		})
	}
}

func TestBuildMessages_FlattensOnlyAssistantHistory(t *testing.T) {
	stored, err := StructuredResponse{Response: []Segment{generated("one", 1), generated("two", 1)}}.Marshal()
	require.NoError(t, err)

	msgs := BuildMessages([]HistoryMessage{
		{Role: RoleUser, Content: stored},
		{Role: RoleAssistant, Content: stored},
	}, "next")

	require.Len(t, msgs, 3)
	assert.Equal(t, stored, msgs[0].Content)
	assert.Equal(t, "one two", msgs[1].Content)
	assert.Equal(t, ChatMessage{Role: RoleUser, Content: "next"}, msgs[2])
}
