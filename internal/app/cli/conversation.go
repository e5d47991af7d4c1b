package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// ConversationCreateAction は会話を作成する
func ConversationCreateAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, err := requiredUUID(cmd, "user")
		if err != nil {
			return err
		}
		subjectID, err := optionalUUID(cmd, "subject")
		if err != nil {
			return err
		}

		conv, err := appCtx.Container.ConversationService.CreateConversation(ctx, userID, subjectID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ 会話を作成しました: %s\n", conv.ID)
		return nil
	})(ctx, cmd)
}

// ConversationListAction は会話一覧を更新日時の新しい順に表示する
func ConversationListAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, err := requiredUUID(cmd, "user")
		if err != nil {
			return err
		}

		convs, err := appCtx.Container.ConversationService.ListConversations(ctx, userID)
		if err != nil {
			return err
		}
		if len(convs) == 0 {
			fmt.Println("会話はありません")
			return nil
		}
		renderConversationsTable(convs)
		return nil
	})(ctx, cmd)
}

// ConversationShowAction は会話のメッセージを表示する。--retitle でタイトルを再生成する
func ConversationShowAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, id, err := userAndID(cmd)
		if err != nil {
			return err
		}
		svc := appCtx.Container.ConversationService

		if cmd.Bool("retitle") {
			title, err := svc.RegenerateTitle(ctx, userID, id)
			if err != nil {
				return err
			}
			fmt.Printf("✓ タイトルを更新しました: %s\n", title)
		}

		detail, err := svc.GetConversation(ctx, userID, id)
		if err != nil {
			return err
		}
		renderConversationDetail(detail)
		return nil
	})(ctx, cmd)
}
