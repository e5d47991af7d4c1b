package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/jinford/study-rag/internal/core/document"
	"github.com/jinford/study-rag/internal/infra/extract"
)

// DocumentAddAction はファイルまたはテキストからドキュメントを登録する
func DocumentAddAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(documentAdd)(ctx, cmd)
}

func documentAdd(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
	userID, err := requiredUUID(cmd, "user")
	if err != nil {
		return err
	}
	subjectID, err := optionalUUID(cmd, "subject")
	if err != nil {
		return err
	}

	params := document.CreateParams{
		UserID:    userID,
		SubjectID: subjectID,
		Title:     cmd.String("title"),
		Content:   cmd.String("content"),
		Metadata:  map[string]any{},
	}

	if path := cmd.String("file"); path != "" {
		res, err := extract.File(path)
		if err != nil {
			return fmt.Errorf("テキスト抽出に失敗: %w", err)
		}
		if params.Title == "" {
			params.Title = res.Title
		}
		params.Content = res.Content
		params.FileName = mo.Some(res.FileName)
		params.PageCount = res.PageCount
		params.Metadata["format"] = res.Format
	}

	if params.Title == "" {
		return fmt.Errorf("--title または --file を指定してください")
	}

	doc, err := appCtx.Container.DocumentService.Create(ctx, params)
	if err != nil {
		return err
	}

	fmt.Printf("✓ ドキュメントを登録しました: %s\n", doc.ID)
	if !doc.HasEmbedding() {
		fmt.Println("  Embeddingは未計算です（document reembed で再試行できます）")
	}
	slog.Info("ドキュメントを登録", "documentID", doc.ID.String(), "words", doc.WordCount)
	return nil
}

// DocumentListAction はドキュメント一覧を表示する
func DocumentListAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, err := requiredUUID(cmd, "user")
		if err != nil {
			return err
		}
		subjectID, err := optionalUUID(cmd, "subject")
		if err != nil {
			return err
		}

		docs, err := appCtx.Container.DocumentService.List(ctx, userID, subjectID)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("ドキュメントはありません")
			return nil
		}
		renderDocumentsTable(docs)
		return nil
	})(ctx, cmd)
}

// DocumentShowAction はドキュメントの詳細を表示する
func DocumentShowAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, id, err := userAndID(cmd)
		if err != nil {
			return err
		}

		doc, err := appCtx.Container.DocumentService.Get(ctx, userID, id)
		if err != nil {
			return err
		}
		renderDocumentDetail(doc, cmd.Bool("full"))
		return nil
	})(ctx, cmd)
}

// DocumentEditAction は指定されたフィールドのみ更新する。本文が変わった場合は再Embeddingする
func DocumentEditAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, id, err := userAndID(cmd)
		if err != nil {
			return err
		}

		var params document.UpdateParams
		if cmd.IsSet("title") {
			params.Title = mo.Some(cmd.String("title"))
		}
		if cmd.IsSet("content") {
			params.Content = mo.Some(cmd.String("content"))
		}
		if cmd.IsSet("subject") {
			subjectID, err := requiredUUID(cmd, "subject")
			if err != nil {
				return err
			}
			params.SubjectID = mo.Some(subjectID)
		}
		if params.Title.IsAbsent() && params.Content.IsAbsent() && params.SubjectID.IsAbsent() {
			return fmt.Errorf("--title, --content, --subject のいずれかを指定してください")
		}

		doc, err := appCtx.Container.DocumentService.Update(ctx, userID, id, params)
		if err != nil {
			return err
		}
		fmt.Printf("✓ ドキュメントを更新しました: %s\n", doc.ID)
		return nil
	})(ctx, cmd)
}

// DocumentDeleteAction はドキュメントを削除する
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		userID, id, err := userAndID(cmd)
		if err != nil {
			return err
		}
		if err := appCtx.Container.DocumentService.Delete(ctx, userID, id); err != nil {
			return err
		}
		fmt.Printf("✓ ドキュメントを削除しました: %s\n", id)
		return nil
	})(ctx, cmd)
}

// DocumentReembedAction は1件、または --missing でEmbedding未計算の全件を再計算する
func DocumentReembedAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		svc := appCtx.Container.DocumentService

		if cmd.Bool("missing") {
			job := appCtx.Container.NewBackfillJob(int(cmd.Int("limit")))
			result, err := job.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ %d件処理しました（成功 %d / 失敗 %d）\n", result.Processed, result.Succeeded, result.Failed)
			return nil
		}

		userID, id, err := userAndID(cmd)
		if err != nil {
			return err
		}
		if err := svc.Reembed(ctx, userID, id); err != nil {
			return err
		}
		fmt.Printf("✓ Embeddingを再計算しました: %s\n", id)
		return nil
	})(ctx, cmd)
}

func userAndID(cmd *cli.Command) (uuid.UUID, uuid.UUID, error) {
	userID, err := requiredUUID(cmd, "user")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	id, err := requiredUUID(cmd, "id")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return userID, id, nil
}
