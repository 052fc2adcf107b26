// Package ddl embeds the CREATE TABLE statements of the bronze and silver
// tables. Each file holds exactly one statement for <schema>.<table>.
package ddl

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed bronze/*.sql silver/*.sql
var files embed.FS

// Statement returns the DDL for schema.table.
func Statement(schema, table string) (string, error) {
	b, err := files.ReadFile(schema + "/" + table + ".sql")
	if err != nil {
		return "", fmt.Errorf("no ddl for %s.%s: %w", schema, table, err)
	}
	return string(b), nil
}

// MustStatement is Statement for tables known at compile time.
func MustStatement(schema, table string) string {
	s, err := Statement(schema, table)
	if err != nil {
		panic(err)
	}
	return s
}

// Source resolves DDL, preferring files under an override directory laid
// out like the embedded one.
type Source struct {
	Dir string
}

func (s Source) Statement(schema, table string) (string, error) {
	if s.Dir == "" {
		return Statement(schema, table)
	}
	b, err := os.ReadFile(filepath.Join(s.Dir, schema, table+".sql"))
	if os.IsNotExist(err) {
		return Statement(schema, table)
	}
	if err != nil {
		return "", fmt.Errorf("reading ddl for %s.%s: %w", schema, table, err)
	}
	return string(b), nil
}

// Tables lists the embedded tables as schema.table.
func Tables() []string {
	var out []string
	fs.WalkDir(files, ".", func(path string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() && strings.HasSuffix(path, ".sql") {
			out = append(out, strings.TrimSuffix(strings.ReplaceAll(path, "/", "."), ".sql"))
		}
		return nil
	})
	sort.Strings(out)
	return out
}
