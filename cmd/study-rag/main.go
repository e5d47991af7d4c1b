package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	commands "github.com/jinford/study-rag/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定（設定読み込み後に LOG_LEVEL / LOG_FORMAT で置き換わる）
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "study-rag",
		Usage: "学習資料に基づいて出典付きで回答する学習アシスタント",
		Commands: []*cli.Command{
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバとEmbeddingバックフィルジョブを起動",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート（省略時は HTTP_PORT またはデフォルトの8080）",
								Value: 8080,
							},
						},
						Action: commands.ServerStartAction,
					},
					{
						Name:  "token",
						Usage: "開発用のアクセストークンを発行",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							&cli.DurationFlag{
								Name:  "ttl",
								Usage: "有効期間",
								Value: 24 * time.Hour,
							},
						},
						Action: commands.ServerTokenAction,
					},
				},
			},
			{
				Name:  "document",
				Usage: "学習資料の管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "add",
						Usage: "ファイル（.txt/.md/.pdf/.docx）またはテキストから資料を登録",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							commands.SubjectFlag(),
							&cli.StringFlag{
								Name:  "file",
								Usage: "資料ファイルパス",
							},
							&cli.StringFlag{
								Name:  "title",
								Usage: "タイトル（--file 指定時は省略可）",
							},
							&cli.StringFlag{
								Name:  "content",
								Usage: "本文（--file を指定しない場合）",
							},
						},
						Action: commands.DocumentAddAction,
					},
					{
						Name:  "list",
						Usage: "資料一覧を表示",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							commands.SubjectFlag(),
						},
						Action: commands.DocumentListAction,
					},
					{
						Name:  "show",
						Usage: "資料の詳細を表示",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "full",
								Usage: "本文を省略せずに表示",
							},
						},
						Action: commands.DocumentShowAction,
					},
					{
						Name:  "edit",
						Usage: "資料を更新（本文を変更した場合はEmbeddingを再計算）",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							commands.SubjectFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "title",
								Usage: "新しいタイトル",
							},
							&cli.StringFlag{
								Name:  "content",
								Usage: "新しい本文",
							},
						},
						Action: commands.DocumentEditAction,
					},
					{
						Name:  "delete",
						Usage: "資料を削除",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "ドキュメントID",
								Required: true,
							},
						},
						Action: commands.DocumentDeleteAction,
					},
					{
						Name:  "reembed",
						Usage: "Embeddingを再計算",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.OptionalUserFlag(),
							&cli.StringFlag{
								Name:  "id",
								Usage: "ドキュメントID",
							},
							&cli.BoolFlag{
								Name:  "missing",
								Usage: "Embedding未計算の資料をまとめて処理",
							},
							&cli.IntFlag{
								Name:  "limit",
								Usage: "--missing で処理する最大件数",
								Value: 100,
							},
						},
						Action: commands.DocumentReembedAction,
					},
				},
			},
			{
				Name:  "conversation",
				Usage: "会話管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "create",
						Usage: "会話を作成",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							commands.SubjectFlag(),
						},
						Action: commands.ConversationCreateAction,
					},
					{
						Name:  "list",
						Usage: "会話一覧を表示",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
						},
						Action: commands.ConversationListAction,
					},
					{
						Name:  "show",
						Usage: "会話のメッセージを表示",
						Flags: []cli.Flag{
							commands.EnvFlag(),
							commands.UserFlag(),
							&cli.StringFlag{
								Name:     "id",
								Usage:    "会話ID",
								Required: true,
							},
							&cli.BoolFlag{
								Name:  "retitle",
								Usage: "最初のメッセージからタイトルを再生成",
							},
						},
						Action: commands.ConversationShowAction,
					},
				},
			},
			{
				Name:  "chat",
				Usage: "学習アシスタントとの会話",
				Commands: []*cli.Command{
					{
						Name:      "send",
						Usage:     "メッセージを1件送信",
						ArgsUsage: "<message>",
						Flags:     chatFlags(&cli.BoolFlag{Name: "stream", Usage: "生成途中の回答を逐次表示"}),
						Action:    commands.ChatSendAction,
					},
					{
						Name:   "interactive",
						Usage:  "対話モードで会話",
						Flags:  chatFlags(),
						Action: commands.ChatInteractiveAction,
					},
				},
			},
			{
				Name:      "retrieve",
				Usage:     "検索ティアの結果を確認（デバッグ用）",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					commands.EnvFlag(),
					commands.UserFlag(),
					commands.SubjectFlag(),
					&cli.IntFlag{
						Name:  "max",
						Usage: "最大件数",
						Value: 5,
					},
				},
				Action: commands.RetrieveAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func chatFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		commands.EnvFlag(),
		commands.UserFlag(),
		commands.SubjectFlag(),
		&cli.StringFlag{
			Name:  "conversation",
			Usage: "会話ID（省略時は新しい会話を作成）",
		},
		&cli.BoolFlag{
			Name:  "show-sources",
			Usage: "参照ドキュメントを表示",
		},
	}
	return append(flags, extra...)
}
