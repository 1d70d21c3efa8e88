package repository

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Schema returns the DDL for dialect.
func Schema(dialect Dialect) (string, error) {
	b, err := schemaFS.ReadFile("schema/" + string(dialect) + ".sql")
	if err != nil {
		return "", fmt.Errorf("unknown dialect %q: %w", dialect, err)
	}
	return string(b), nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl, err := Schema(s.dialect)
	if err != nil {
		return err
	}
	return s.InTx(ctx, func(q *Queries) error {
		for _, stmt := range strings.Split(ddl, ";") {
			if strings.TrimSpace(stripComments(stmt)) == "" {
				continue
			}
			if _, err := q.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply schema: %w", err)
			}
		}
		return nil
	})
}

func stripComments(stmt string) string {
	var b strings.Builder
	for _, line := range strings.Split(stmt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
