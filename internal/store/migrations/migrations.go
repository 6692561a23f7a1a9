// Package migrations creates the relational schema at startup.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"

	logx "github.com/falaai/server/pkg/logger"
)

//go:embed *.sql
var files embed.FS

// Apply runs every embedded migration in file name order. Statements are
// idempotent so Apply is safe on every boot.
func Apply(ctx context.Context, db *sqlx.DB) error {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		raw, err := files.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		for _, stmt := range Statements(string(raw)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply %s: %w", name, err)
			}
		}
		logx.Debug().Str("migration", name).Msg("migration applied")
	}
	return nil
}

// Statements splits a script on semicolons, dropping empty statements.
func Statements(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
