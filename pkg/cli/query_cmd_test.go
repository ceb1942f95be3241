package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duckbridge/internal/engine"
)

func TestReadSQL(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		stdin   string
		want    string
		wantErr string
	}{
		{name: "argument", args: []string{"  SELECT 1  "}, want: "SELECT 1"},
		{name: "blank_argument", args: []string{"   "}, wantErr: "must not be empty"},
		{name: "stdin", stdin: "SELECT 2\n", want: "SELECT 2"},
		{name: "empty_stdin", stdin: "", wantErr: "provide SQL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readSQL(strings.NewReader(tt.stdin), tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type queryJSON struct {
	Engine   string           `json:"engine"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

func runQueryCmd(t *testing.T, stdin string, args ...string) (queryJSON, error) {
	t.Helper()
	cmd := newRootCmd()
	var out strings.Builder
	cmd.SetOut(&out)
	cmd.SetErr(&strings.Builder{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"query", "-o", "json"}, args...))
	if err := cmd.Execute(); err != nil {
		return queryJSON{}, err
	}
	var got queryJSON
	require.NoError(t, json.Unmarshal([]byte(out.String()), &got))
	return got, nil
}

func TestQueryCmd_Local(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := runQueryCmd(t, "", "SELECT 9007199254740993::HUGEINT::VARCHAR AS id, 42::BIGINT AS answer")
	require.NoError(t, err)
	assert.Equal(t, "local", got.Engine)
	assert.Equal(t, 1, got.RowCount)
	assert.Equal(t, "9007199254740993", got.Rows[0]["id"])
	assert.InDelta(t, 42.0, got.Rows[0]["answer"], 0)
}

func TestQueryCmd_Stdin(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := runQueryCmd(t, "SELECT 'piped' AS source")
	require.NoError(t, err)
	assert.Equal(t, "piped", got.Rows[0]["source"])
}

func TestQueryCmd_Sources(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()

	db, err := engine.Open(context.Background(), engine.Options{})
	require.NoError(t, err)
	parquet := filepath.Join(dir, "orders.parquet")
	require.NoError(t, db.Exec(context.Background(),
		"COPY (SELECT * FROM (VALUES ('widget'), ('gadget')) AS t(name)) TO '"+parquet+"' (FORMAT PARQUET)"))
	require.NoError(t, db.Close())

	manifestPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte("sources:\n  shop: [/orders.parquet]\n"), 0o600))

	got, err := runQueryCmd(t, "", "--sources", manifestPath, "--asset-root", dir,
		"SELECT count(*)::INTEGER AS n FROM shop.orders")
	require.NoError(t, err)
	assert.InDelta(t, 2.0, got.Rows[0]["n"], 0)
}

func TestQueryCmd_ProfileDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	manifestPath := filepath.Join(home, "missing.yaml")
	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles:       map[string]Profile{"default": {Sources: manifestPath}},
	}))

	_, err := runQueryCmd(t, "", "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read manifest")
}

func TestQueryCmd_Errors(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "invalid_remote", args: []string{"--remote", "http://engine", "SELECT 1"}, wantErr: "scheme must be grpc or grpcs"},
		{name: "query_error", args: []string{"SELECT * FROM no_such_table"}, wantErr: "local query"},
		{name: "too_many_args", args: []string{"SELECT 1", "SELECT 2"}, wantErr: "accepts at most 1 arg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runQueryCmd(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
