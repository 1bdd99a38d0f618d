// generate_schema applies every migration to an empty SQLite database and
// writes the resulting schema for sqlc and the test helpers. With -check it
// only reports whether the committed schema is stale.
package main

import (
	"bytes"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stash-go/internal/database"
	"stash-go/internal/database/migrations"
)

const header = `-- Generated from internal/database/migrations/files/*.sql.
-- Do not edit; run 'go generate ./internal/database' instead.

`

func main() {
	out := flag.String("out", filepath.Join("internal", "database", "sqlc", "schema.sql"), "schema file to write")
	check := flag.Bool("check", false, "fail if the schema file is out of date instead of writing it")
	flag.Parse()

	if err := run(*out, *check); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, check bool) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return err
	}

	schema, err := dumpSchema(db)
	if err != nil {
		return err
	}
	generated := []byte(header + schema)

	if check {
		current, err := os.ReadFile(out)
		if err != nil {
			return fmt.Errorf("reading %s: %w", out, err)
		}
		if !bytes.Equal(current, generated) {
			return fmt.Errorf("%s is stale", out)
		}
		return nil
	}

	if err := os.WriteFile(out, generated, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}

// dumpSchema returns the CREATE statements of every table and index, tables
// first, leaving out SQLite internals and golang-migrate's bookkeeping.
func dumpSchema(db *sql.DB) (string, error) {
	rows, err := db.Query(`
		SELECT sql
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND tbl_name != 'schema_migrations'
		ORDER BY CASE type WHEN 'table' THEN 1 ELSE 2 END, name`)
	if err != nil {
		return "", fmt.Errorf("reading sqlite_master: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scanning statement: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString(";\n\n")
	}
	return b.String(), rows.Err()
}
