package storage

import (
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFiles embed.FS

// schemaStatements splits an embedded DDL file into single statements; the
// MySQL driver rejects multi-statement Exec without multiStatements=true.
func schemaStatements(dialect string) ([]string, error) {
	data, err := schemaFiles.ReadFile("schema/" + dialect + ".sql")
	if err != nil {
		return nil, fmt.Errorf("read %s schema: %w", dialect, err)
	}

	var stmts []string
	for _, part := range strings.Split(string(data), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}
