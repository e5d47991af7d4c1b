package conversation

import (
	"context"

	"github.com/jinford/study-rag/internal/core/answer"
)

// TurnOutcome はストリーミングの1往復の最終結果
type TurnOutcome struct {
	Result *TurnResult
	Err    error
}

// TurnStream はストリーミング中の1往復
type TurnStream struct {
	// UserMessage は保存済みのユーザーメッセージ
	UserMessage *Message

	stream *answer.Stream
	done   chan TurnOutcome
}

// Partials は生成途中のスナップショットを返す。生成が終わると閉じられる
func (ts *TurnStream) Partials() <-chan answer.PartialResponse {
	return ts.stream.Partials()
}

// Done は保存まで完了した最終結果を1件だけ受け取るチャネル
func (ts *TurnStream) Done() <-chan TurnOutcome {
	return ts.done
}

// Stop はスナップショットの受信をやめる。生成と保存は継続する
func (ts *TurnStream) Stop() {
	ts.stream.Stop()
}

// StreamMessage は SendMessage のストリーミング版。
// アシスタントメッセージは最終結果が確定してから保存する。ctx がキャンセルされてもスナップショットの
// 送出を止めるだけで、最終結果の解決と保存は streamTimeout まで継続する
func (s *Service) StreamMessage(ctx context.Context, params SendMessageParams) (*TurnStream, error) {
	t, err := s.prepare(ctx, params)
	if err != nil {
		return nil, err
	}

	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.streamTimeout)
	stream := s.responder.Stream(genCtx, t.generateParams())

	ts := &TurnStream{
		UserMessage: t.userMessage,
		stream:      stream,
		done:        make(chan TurnOutcome, 1),
	}

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			stream.Stop()
		case <-finished:
		}
	}()

	go func() {
		defer cancel()
		defer close(finished)

		result := <-stream.Final()
		turnResult, err := s.complete(genCtx, t, result)
		if err != nil {
			s.logger.Error("failed to complete streamed message", "conversationID", t.conversation.ID.String(), "error", err)
		}
		ts.done <- TurnOutcome{Result: turnResult, Err: err}
	}()

	return ts, nil
}
