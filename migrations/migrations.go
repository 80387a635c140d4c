// Package migrations embeds the schema applied by `opsmsg migrate`.
package migrations

import (
	"embed"
	"io/fs"
	"sort"
	"strings"
)

//go:embed mysql/*.sql clickhouse/*.sql
var files embed.FS

const (
	MySQL      = "mysql"
	ClickHouse = "clickhouse"
)

// Statements returns every statement for the dialect, files in name order.
func Statements(dialect string) ([]string, error) {
	names, err := fs.Glob(files, dialect+"/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	var out []string
	for _, n := range names {
		b, err := files.ReadFile(n)
		if err != nil {
			return nil, err
		}
		out = append(out, Split(string(b))...)
	}
	return out, nil
}

// Split cuts a script on ';' line endings. Statements must not embed ';\n'.
func Split(script string) []string {
	var out []string
	for _, part := range strings.Split(script, ";\n") {
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
