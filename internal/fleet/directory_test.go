package fleet

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeops/diwatch/internal/storage"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "list.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCSVDirectoryFiltersByTag(t *testing.T) {
	path := writeCSV(t, `a840416f00000001,controller
a840416f00000002,sensor
a840416f00000003, controller
a84041679d5cfcf2,master
`)

	d := NewCSVDirectory(path, "controller")
	members, err := d.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a840416f00000001", "a840416f00000003"}, members)
}

func TestCSVDirectoryEmptyAndMalformedRows(t *testing.T) {
	path := writeCSV(t, `onlyonecolumn
a840416f00000001,controller,extra
`)

	d := NewCSVDirectory(path, "controller")
	members, err := d.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a840416f00000001"}, members)
}

func TestCSVDirectoryMissingFile(t *testing.T) {
	d := NewCSVDirectory(filepath.Join(t.TempDir(), "absent.csv"), "controller")
	_, err := d.ListMembers(context.Background())
	assert.Error(t, err)
}

func TestCSVDirectoryReadsFresh(t *testing.T) {
	path := writeCSV(t, "a840416f00000001,controller\n")
	d := NewCSVDirectory(path, "controller")

	first, err := d.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, first, 1)

	require.NoError(t, os.WriteFile(path, []byte("a840416f00000001,controller\na840416f00000002,controller\n"), 0o644))

	second, err := d.ListMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 2, "membership edits must be visible on the next read")
}

func TestSQLiteDirectoryImportAndList(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	path := writeCSV(t, `a840416f00000001,controller
a84041679d5cfcf2,master
a840416f00000002,controller
`)

	n, err := ImportCSV(ctx, db, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	d := NewSQLiteDirectory(db, "controller")
	members, err := d.ListMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a840416f00000001", "a840416f00000002"}, members)
}

func TestImportCSVReplacesExisting(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer db.Close()

	first := writeCSV(t, "a840416f00000001,controller\n")
	_, err = ImportCSV(ctx, db, first)
	require.NoError(t, err)

	second := writeCSV(t, "a840416f00000009,controller\n")
	_, err = ImportCSV(ctx, db, second)
	require.NoError(t, err)

	d := NewSQLiteDirectory(db, "controller")
	members, err := d.ListMembers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a840416f00000009"}, members)
}
