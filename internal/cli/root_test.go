package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cod31nvictus/eterny/internal/config"
	"github.com/cod31nvictus/eterny/server/recurrence"
	"github.com/cod31nvictus/eterny/server/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "eterny", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "occurrences", "assign", "export", "hash-password"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"occurrences", "--format", "yaml", "--start", "2024-01-01", "--end", "2024-01-02"})
	cmd.SetOut(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "bad", errors.New("x"))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Users = []config.UserConfig{{Username: "alice", Password: "secret"}}
	cfg.Templates = []config.TemplateConfig{
		{Owner: "alice", ID: "push", Name: "Push day"},
		{Owner: "alice", ID: "pull", Name: "Pull day"},
	}
	cfg.WeekStart = "monday"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewApp_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Driver = config.DriverSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "eterny.db")

	a, err := newApp(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "Monday", a.Service.Engine().WeekStart().String())

	// Templates were seeded into the database
	s, err := a.Service.AssignTemplate(context.Background(), "alice", schedule.AssignRequest{
		TemplateID: "pull",
		StartDate:  recurrence.MustParseDate("2024-01-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Version)

	_, err = a.Service.AssignTemplate(context.Background(), "bob", schedule.AssignRequest{
		TemplateID: "pull",
		StartDate:  recurrence.MustParseDate("2024-01-01"),
	})
	assert.ErrorIs(t, err, schedule.ErrNotFound)
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRemoteCommands(t *testing.T) {
	a, err := newApp(context.Background(), testConfig(t), quietLogger())
	require.NoError(t, err)
	defer a.Close()
	ts := httptest.NewServer(a.Server)
	defer ts.Close()

	conn := []string{"--server", ts.URL, "--user", "alice", "--password", "secret"}

	out, err := runCLI(t, append([]string{"assign", "--template", "push", "--start", "2024-01-01",
		"--rule", `{"type":"weekly","daysOfWeek":[1,4]}`}, conn...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "created series")

	out, err = runCLI(t, append([]string{"occurrences", "--start", "2024-01-01", "--end", "2024-01-07"}, conn...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2024-01-01 Mon  push ("), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2024-01-04 Thu  push ("), lines[1])

	out, err = runCLI(t, append([]string{"occurrences", "--format", "json", "--start", "2024-02-01", "--end", "2024-02-01"}, conn...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"templateId": "push"`)

	out, err = runCLI(t, append([]string{"export"}, conn...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "SUMMARY:Push day")
	assert.Contains(t, out, "RRULE:")

	_, err = runCLI(t, append([]string{"assign", "--template", "nope", "--start", "2024-01-01"}, conn...)...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	_, err = runCLI(t, append([]string{"occurrences", "--start", "June", "--end", "2024-01-01"}, conn...)...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = runCLI(t, "occurrences", "--server", ts.URL, "--user", "alice", "--password", "wrong",
		"--start", "2024-01-01", "--end", "2024-01-01")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestServe_BadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eterny.yaml")
	require.NoError(t, config.Save(path, &config.Config{Storage: config.StorageConfig{Driver: "postgres"}}))

	_, err := runCLI(t, "serve", "--config", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHashPassword(t *testing.T) {
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader("secret\n"))
	cmd.SetArgs([]string{"hash-password"})
	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")))

	cmd = NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs([]string{"hash-password"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
