package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/david/childcare-leads/internal/auth"
	"github.com/david/childcare-leads/internal/db"
	"github.com/david/childcare-leads/internal/ingest"
	"github.com/david/childcare-leads/internal/models"
)

const testAdminSecret = "cli-secret"

// writeConfig writes a .env with every channel off and a sqlite store in dir.
// extra lines replace the defaults with the same key.
func writeConfig(t *testing.T, dir string, extra ...string) string {
	t.Helper()
	base := []string{
		"ENABLE_CLAUDE_AI=false",
		"ENABLE_PUSHPLUS=false",
		"ENABLE_DINGTALK=false",
		"STORE_BACKEND=sqlite",
		"SQLITE_PATH=" + filepath.Join(dir, "leads.db"),
		"ADMIN_SECRET=" + testAdminSecret,
		"LOG_LEVEL=error",
	}
	var lines []string
	for _, line := range base {
		key, _, _ := strings.Cut(line, "=")
		overridden := false
		for _, e := range extra {
			if strings.HasPrefix(e, key+"=") {
				overridden = true
			}
		}
		if !overridden {
			lines = append(lines, line)
		}
	}
	lines = append(lines, extra...)
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestReadRawRecords(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	tests := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{"array", `[{"name":"A"},{"name":"B"}]`, 2, false},
		{"wrapped", `  {"records":[{"name":"A"}]}`, 1, false},
		{"empty", "  \n", 0, true},
		{"broken", `[{"name":`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raws, err := readRawRecords(write(tt.name+".json", tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, raws, tt.want)
		})
	}

	_, err := readRawRecords(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestScoreCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	input := filepath.Join(dir, "records.json")
	require.NoError(t, os.WriteFile(input, []byte(`[
		{"name":"Sunny Kids","city":"toronto","province":"ON","country":"Canada","capacity":90,"type":"new","license_status":"issued","source":"manual"},
		{"name":"","country":"Canada","source":"manual"}
	]`), 0o600))

	out, err := execute(t, "score", input, "--config", cfgPath, "--json")
	require.NoError(t, err)

	var rep ingest.ScoreReport
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	require.Len(t, rep.Records, 1)
	assert.Equal(t, "Toronto", rep.Records[0].City)
	assert.Equal(t, 100, rep.Records[0].AIScore)
	assert.Equal(t, models.PriorityCritical, rep.Records[0].Priority)
	assert.Equal(t, 1, rep.Rejected)

	out, err = execute(t, "score", input, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Sunny Kids")
	assert.Contains(t, out, "critical: 1")

	_, err = execute(t, "score", "--config", cfgPath)
	assert.Error(t, err)
}

func TestCheckRunsCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)

	out, err := execute(t, "check-runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "no runs recorded")

	ctx := context.Background()
	st, err := db.OpenSQLite(ctx, filepath.Join(dir, "leads.db"), nil)
	require.NoError(t, err)
	require.NoError(t, st.StartRun(ctx, models.Run{
		ID:        "abcdef12-3456-7890",
		Status:    models.RunStatusRunning,
		Sources:   "ontario",
		StartedAt: time.Now(),
	}))
	require.NoError(t, st.Close())

	out, err = execute(t, "check-runs", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "abcdef12")
	assert.NotContains(t, out, "abcdef12-3456")
	assert.Contains(t, out, "Running...")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	_, err := execute(t, "run", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "notification channel")
}

func TestTokenCommand(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	out, err := execute(t, "token", "--config", cfgPath, "--subject", "cron")
	require.NoError(t, err)

	svc, err := auth.NewService(testAdminSecret, nil)
	require.NoError(t, err)
	sub, err := svc.ParseToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "cron", sub)
}

func TestTokenCommandNeedsSecret(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "ADMIN_SECRET=")

	_, err := execute(t, "token", "--config", cfgPath)
	assert.ErrorContains(t, err, "ADMIN_SECRET")
}

func TestTestNotifyWithoutChannels(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	_, err := execute(t, "test-notify", "--config", cfgPath)
	assert.ErrorContains(t, err, "no notification channel enabled")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"ontario", "acecqa"}, splitList(" Ontario, ,ACECQA"))
	assert.Nil(t, splitList(""))
}
