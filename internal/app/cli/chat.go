package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/study-rag/internal/core/answer"
	"github.com/jinford/study-rag/internal/core/conversation"
)

// ChatSendAction は1件のメッセージを送信して回答を表示する
func ChatSendAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		message := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
		if message == "" {
			return fmt.Errorf("メッセージを指定してください")
		}

		session, err := newChatSession(ctx, cmd, appCtx)
		if err != nil {
			return err
		}
		return session.send(ctx, message, cmd.Bool("stream"))
	})(ctx, cmd)
}

// ChatInteractiveAction は対話モードで会話する
func ChatInteractiveAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		session, err := newChatSession(ctx, cmd, appCtx)
		if err != nil {
			return err
		}

		fmt.Printf("会話 %s を開始します（exit で終了）\n", session.conversationID)
		for {
			prompt := promptui.Prompt{Label: "あなた"}
			input, err := prompt.Run()
			if err != nil {
				if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
					return nil
				}
				return err
			}

			input = strings.TrimSpace(input)
			if input == "" {
				continue
			}
			if input == "exit" || input == "quit" {
				return nil
			}

			if err := session.send(ctx, input, true); err != nil {
				fmt.Printf("エラー: %v\n", err)
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})(ctx, cmd)
}

type chatSession struct {
	service        *conversation.Service
	userID         uuid.UUID
	conversationID uuid.UUID
	subjectID      mo.Option[uuid.UUID]
	showSources    bool
}

// newChatSession は --conversation が未指定なら新しい会話を作成する
func newChatSession(ctx context.Context, cmd *cli.Command, appCtx *AppContext) (*chatSession, error) {
	userID, err := requiredUUID(cmd, "user")
	if err != nil {
		return nil, err
	}
	subjectID, err := optionalUUID(cmd, "subject")
	if err != nil {
		return nil, err
	}

	session := &chatSession{
		service:     appCtx.Container.ConversationService,
		userID:      userID,
		subjectID:   subjectID,
		showSources: cmd.Bool("show-sources"),
	}

	if cmd.String("conversation") != "" {
		id, err := requiredUUID(cmd, "conversation")
		if err != nil {
			return nil, err
		}
		session.conversationID = id
		return session, nil
	}

	conv, err := session.service.CreateConversation(ctx, userID, subjectID)
	if err != nil {
		return nil, err
	}
	session.conversationID = conv.ID
	return session, nil
}

func (s *chatSession) params(content string) conversation.SendMessageParams {
	return conversation.SendMessageParams{
		UserID:         s.userID,
		ConversationID: s.conversationID,
		Content:        content,
		SubjectID:      s.subjectID,
	}
}

func (s *chatSession) send(ctx context.Context, content string, stream bool) error {
	if !stream {
		result, err := s.service.SendMessage(ctx, s.params(content))
		if err != nil {
			return err
		}
		s.render(result)
		return nil
	}

	ts, err := s.service.StreamMessage(ctx, s.params(content))
	if err != nil {
		return err
	}

	var printed string
	for p := range ts.Partials() {
		text := partialText(p)
		if rest, ok := strings.CutPrefix(text, printed); ok {
			fmt.Print(rest)
			printed = text
		}
	}
	fmt.Println()

	outcome := <-ts.Done()
	if outcome.Err != nil {
		return outcome.Err
	}
	s.render(outcome.Result)
	return nil
}

func (s *chatSession) render(result *conversation.TurnResult) {
	renderAnswer(result.AntiHallucinationData)
	if s.showSources {
		renderSources(result.Sources)
	}
}

// partialText はスナップショットの本文を連結する
func partialText(p answer.PartialResponse) string {
	parts := make([]string, 0, len(p.Response))
	for _, seg := range p.Response {
		if seg.Text != nil {
			parts = append(parts, *seg.Text)
		}
	}
	return strings.Join(parts, " ")
}
