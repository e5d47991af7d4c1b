package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jinford/study-rag/internal/infra/postgres/sqlc"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// ApplySchema は schema/ 配下のSQLをファイル名順に実行する。各ファイルは冪等であること
func ApplySchema(ctx context.Context, db sqlc.DBTX) error {
	names, err := fs.Glob(schemaFS, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := schemaFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		if _, err := db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("failed to apply %s: %w", name, err)
		}
	}
	return nil
}
