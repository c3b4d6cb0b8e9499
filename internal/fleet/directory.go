// Package fleet supplies the list of downstream devices targeted by dispatch
// cycles. Directories are read fresh on every cycle so membership edits take
// effect immediately; nothing here caches or mutates the fleet.
package fleet

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVDirectory reads members from a CSV file: column 0 is the devEUI,
// column 1 the role tag. Rows whose tag matches are dispatch targets, in
// file order. Duplicates are kept as written.
type CSVDirectory struct {
	path string
	tag  string
}

// NewCSVDirectory creates a directory over the CSV file at path, selecting
// rows tagged tag.
func NewCSVDirectory(path, tag string) *CSVDirectory {
	return &CSVDirectory{path: path, tag: tag}
}

// ListMembers re-reads the file on every call.
func (d *CSVDirectory) ListMembers(ctx context.Context) ([]string, error) {
	f, err := os.Open(d.path)
	if err != nil {
		return nil, fmt.Errorf("open fleet csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	var members []string
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read fleet csv: %w", err)
		}
		if len(row) >= 2 && strings.TrimSpace(row[1]) == d.tag {
			members = append(members, strings.TrimSpace(row[0]))
		}
	}
	return members, nil
}

// SQLiteDirectory reads members from the fleet_members table, selecting rows
// tagged tag in insertion order.
type SQLiteDirectory struct {
	db  *sql.DB
	tag string
}

// NewSQLiteDirectory creates a directory over db's fleet_members table.
func NewSQLiteDirectory(db *sql.DB, tag string) *SQLiteDirectory {
	return &SQLiteDirectory{db: db, tag: tag}
}

// ListMembers queries the table on every call.
func (d *SQLiteDirectory) ListMembers(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT dev_eui FROM fleet_members WHERE tag = ? ORDER BY id;", d.tag)
	if err != nil {
		return nil, fmt.Errorf("query fleet members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var eui string
		if err := rows.Scan(&eui); err != nil {
			return nil, fmt.Errorf("scan fleet member: %w", err)
		}
		members = append(members, eui)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fleet members: %w", err)
	}
	return members, nil
}

// ImportCSV replaces the fleet_members table with the rows of the CSV file
// at path (all tags, not just dispatch targets). Returns the number of rows
// imported.
func ImportCSV(ctx context.Context, db *sql.DB, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open fleet csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM fleet_members;"); err != nil {
		return 0, fmt.Errorf("clear fleet members: %w", err)
	}

	count := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read fleet csv: %w", err)
		}
		if len(row) < 2 {
			continue
		}
		eui := strings.TrimSpace(row[0])
		tag := strings.TrimSpace(row[1])
		if eui == "" || tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO fleet_members(dev_eui, tag) VALUES(?, ?);", eui, tag); err != nil {
			return 0, fmt.Errorf("insert fleet member %q: %w", eui, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return count, nil
}
