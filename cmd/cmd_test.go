package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func dbPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), "kv.db")
}

func TestPositionalPut(t *testing.T) {
	db := dbPath(t)

	_, stderr, err := runCLI(t, "--db", db, "name", "gopher")
	require.NoError(t, err)
	assert.Contains(t, stderr, `stored "name"`)

	stdout, _, err := runCLI(t, "--db", db, "get", "name")
	require.NoError(t, err)
	assert.Equal(t, "gopher\n", stdout)
}

func TestPositionalPutWrongArgs(t *testing.T) {
	_, _, err := runCLI(t, "--db", dbPath(t), "only-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "received 1 argument(s)")
}

func TestPutGetDeleteLifecycle(t *testing.T) {
	db := dbPath(t)

	_, _, err := runCLI(t, "-d", db, "put", "a", "1")
	require.NoError(t, err)
	_, _, err = runCLI(t, "-d", db, "put", "a", "3")
	require.NoError(t, err)

	stdout, _, err := runCLI(t, "-d", db, "get", "a")
	require.NoError(t, err)
	assert.Equal(t, "3\n", stdout)

	_, stderr, err := runCLI(t, "-d", db, "delete", "a")
	require.NoError(t, err)
	assert.Contains(t, stderr, `deleted "a"`)

	_, stderr, err = runCLI(t, "-d", db, "rm", "a")
	require.NoError(t, err)
	assert.Contains(t, stderr, `did not exist`)

	_, _, err = runCLI(t, "-d", db, "get", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key not found")
}

func TestEmptyKeyIsRejected(t *testing.T) {
	_, _, err := runCLI(t, "-d", dbPath(t), "put", "", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_KEY")
}

func TestOpenErrorIsReported(t *testing.T) {
	db := filepath.Join(t.TempDir(), "missing", "kv.db")
	_, _, err := runCLI(t, "-d", db, "put", "k", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open "+db)
}

func TestCorruptLogIsReported(t *testing.T) {
	db := dbPath(t)
	require.NoError(t, os.WriteFile(db, []byte{9, 9, 9}, 0644))

	_, _, err := runCLI(t, "-d", db, "get", "k")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORRUPT")
}

func TestCompactAndStats(t *testing.T) {
	db := dbPath(t)
	for _, v := range []string{"1", "2", "3"} {
		_, _, err := runCLI(t, "-d", db, "--no-sync", "put", "k", v)
		require.NoError(t, err)
	}
	before, err := os.Stat(db)
	require.NoError(t, err)

	_, _, err = runCLI(t, "-d", db, "compact")
	require.NoError(t, err)

	after, err := os.Stat(db)
	require.NoError(t, err)
	assert.Less(t, after.Size(), before.Size())

	stdout, _, err := runCLI(t, "-d", db, "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "keys")
	assert.Contains(t, stdout, "replayed records    1")
}

func TestCompactOnClose(t *testing.T) {
	db := dbPath(t)
	_, _, err := runCLI(t, "-d", db, "put", "k", "old")
	require.NoError(t, err)

	_, stderr, err := runCLI(t, "-d", db, "--compact-on-close", "put", "k", "new")
	require.NoError(t, err)
	assert.Contains(t, stderr, "compacted log")

	stdout, _, err := runCLI(t, "-d", db, "stats")
	require.NoError(t, err)
	assert.Contains(t, stdout, "replayed records    1")
}

func TestMetricsAndTraceFlags(t *testing.T) {
	db := dbPath(t)
	_, stderr, err := runCLI(t, "-d", db, "--metrics", "--trace", "put", "k", "v")
	require.NoError(t, err)

	assert.Contains(t, stderr, `kvlog_operations_total{operation="put",result="ok"} 1`)
	assert.Contains(t, stderr, "storage.put")
	assert.Contains(t, stderr, `"Name": "kvlog.put"`)
}

func TestLogLevelFlag(t *testing.T) {
	db := dbPath(t)

	_, stderr, err := runCLI(t, "-d", db, "--log-level", "error", "put", "k", "v")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(stderr))

	_, _, err = runCLI(t, "-d", db, "--log-level", "chatty", "put", "k", "v")
	require.Error(t, err)
}

func TestDBPathFromEnvironment(t *testing.T) {
	db := dbPath(t)
	t.Setenv("KVLOG_DB", db)

	_, _, err := runCLI(t, "put", "k", "v")
	require.NoError(t, err)

	_, err = os.Stat(db)
	assert.NoError(t, err)
}
