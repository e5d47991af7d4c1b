package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
)

// partialBufferSize はスナップショットチャネルのバッファ長
const partialBufferSize = 16

var errStreamEnded = errors.New("stream ended without a valid response")

// Stream はストリーミング生成の進行中の状態。
// Partials は生成が終わると閉じられ、その後 Final に最終結果がちょうど1件届く
type Stream struct {
	partials chan PartialResponse
	final    chan *Result
	stop     chan struct{}
	stopOnce sync.Once
}

// Partials は生成途中のスナップショットを返すチャネル
func (s *Stream) Partials() <-chan PartialResponse {
	return s.partials
}

// Final は最終結果を受け取るチャネル
func (s *Stream) Final() <-chan *Result {
	return s.final
}

// Stop はスナップショットの受信をやめる。最終結果の解決は継続する
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Wait はスナップショットを読み捨てて最終結果を待つ
func (s *Stream) Wait(ctx context.Context) (*Result, error) {
	s.Stop()
	select {
	case res := <-s.final:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Stream) emit(ctx context.Context, p PartialResponse) {
	select {
	case s.partials <- p:
	case <-s.stop:
	case <-ctx.Done():
	}
}

// Stream は構造化回答をストリーミング生成する。
// 接続確立と最終結果の解決にそれぞれフォールバックチェーンを適用し、最終結果は必ず届く
func (g *Generator) Stream(ctx context.Context, params GenerateParams) *Stream {
	s := &Stream{
		partials: make(chan PartialResponse, partialBufferSize),
		final:    make(chan *Result, 1),
		stop:     make(chan struct{}),
	}

	go func() {
		result := g.runStream(ctx, s, params)
		close(s.partials)
		s.final <- result
	}()

	return s
}

func (g *Generator) runStream(ctx context.Context, s *Stream, params GenerateParams) *Result {
	req := g.baseRequest(params)

	for _, model := range g.models {
		if ctx.Err() != nil {
			break
		}

		result, err := g.streamAttempt(ctx, s, req, model)
		if err == nil {
			g.observeAttempt(model, OutcomeSuccess)
			return g.reconciled(result, params.Documents)
		}
		g.recordFailure(model, err)

		if errors.Is(err, errStreamEnded) || errors.Is(err, ErrSchemaValidation) {
			// 出力途中で失敗した場合は非ストリーミングのチェーンで最終結果を解決する
			g.logger.Warn("stream did not yield a valid response, resolving final response without streaming", "model", model)
			return g.Generate(ctx, params)
		}
	}

	return g.fallback(params.Documents)
}

// streamAttempt は1モデルでストリーミング生成を行う。
// 接続確立に失敗した場合は何も送出せずにエラーを返す
func (g *Generator) streamAttempt(ctx context.Context, s *Stream, req StructuredRequest, model string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
	defer cancel()

	req.Model = model
	stream, err := g.client.StreamStructured(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		buf        strings.Builder
		tokensUsed *int
		last       string
	)
	for stream.Next() {
		chunk := stream.Chunk()
		if chunk.TokensUsed != nil {
			tokensUsed = chunk.TokensUsed
		}
		if chunk.Delta == "" {
			continue
		}
		buf.WriteString(chunk.Delta)

		partial, ok := ParsePartial(buf.String())
		if !ok {
			continue
		}
		key, err := json.Marshal(partial)
		if err != nil || string(key) == last {
			continue
		}
		last = string(key)
		s.emit(ctx, partial)
	}
	if err := stream.Err(); err != nil {
		if buf.Len() == 0 {
			return nil, err
		}
		return nil, errors.Join(errStreamEnded, err)
	}

	resp, err := DecodeResponse(buf.String())
	if err != nil {
		return nil, err
	}

	return &Result{
		Response:   *resp,
		Model:      model,
		TokensUsed: tokensUsed,
	}, nil
}
