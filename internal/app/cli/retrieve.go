package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/study-rag/internal/core/retrieval"
)

// RetrieveAction は検索ティアの結果を確認するデバッグ用コマンド
func RetrieveAction(ctx context.Context, cmd *cli.Command) error {
	return withAppContext(func(ctx context.Context, cmd *cli.Command, appCtx *AppContext) error {
		query := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
		if query == "" {
			return fmt.Errorf("検索クエリを指定してください")
		}
		userID, err := requiredUUID(cmd, "user")
		if err != nil {
			return err
		}
		subjectID, err := optionalUUID(cmd, "subject")
		if err != nil {
			return err
		}

		docs := appCtx.Container.Retriever.Retrieve(ctx, retrieval.RetrieveParams{
			Query:      query,
			UserID:     userID,
			SubjectID:  subjectID,
			MaxResults: int(cmd.Int("max")),
		})
		if len(docs) == 0 {
			fmt.Println("該当するドキュメントはありません")
			return nil
		}
		renderRetrievedTable(docs)
		return nil
	})(ctx, cmd)
}
