package cli

import "github.com/urfave/cli/v3"

// EnvFlag は全コマンド共通の環境変数ファイル指定
func EnvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// UserFlag は操作対象のユーザーID
func UserFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "user",
		Usage:    "ユーザーID (UUID)",
		Sources:  cli.EnvVars("STUDY_RAG_USER_ID"),
		Required: true,
	}
}

// SubjectFlag は科目IDによる絞り込み
func SubjectFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "subject",
		Usage: "科目ID (UUID、省略時は全科目)",
	}
}

// OptionalUserFlag は --missing などユーザー指定が不要な場合があるコマンド用
func OptionalUserFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "user",
		Usage:   "ユーザーID (UUID)",
		Sources: cli.EnvVars("STUDY_RAG_USER_ID"),
	}
}
