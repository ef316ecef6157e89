package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkwell/app/config"
	"inkwell/app/logging"
	"inkwell/app/models"
	"inkwell/app/repositories"
)

// writeConfig writes a config file for driver under a temp dir and returns
// its path and the dir.
func writeConfig(t *testing.T, driver string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "inkwell.db")
	if driver == config.DriverSQLite {
		dbPath = filepath.Join(dir, "inkwell.sqlite")
	}
	body := fmt.Sprintf(`
server:
  addr: "127.0.0.1:0"
  shutdown_grace: 2s
storage:
  driver: %s
  path: %s
content:
  posts_dir: %s
  media_dir: %s
security:
  secret_key: test-secret
mail:
  disabled: true
blog:
  authors: ["Jane Doe"]
log:
  level: error
`, driver, dbPath, filepath.Join(dir, "posts"), filepath.Join(dir, "media"))
	path := filepath.Join(dir, "inkwell.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path, dir
}

// run executes the command line with stdin and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func loadConfig(t *testing.T, path string) config.Config {
	t.Helper()
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func findIdentity(t *testing.T, cfg config.Config, username string) (*models.Identity, error) {
	t.Helper()
	store, err := openStore(cfg.Storage, logging.Discard())
	require.NoError(t, err)
	defer store.Close()

	var ident *models.Identity
	err = store.View(context.Background(), func(tx repositories.Tx) error {
		var err error
		ident, err = tx.Identities().GetByUsername(username)
		return err
	})
	return ident, err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "inkwell version dev\n", out)
}

func TestUnknownCommand(t *testing.T) {
	_, err := run(t, "", "frobnicate")
	assert.Error(t, err)
}

func TestInit(t *testing.T) {
	path, dir := writeConfig(t, config.DriverBadger)

	out, err := run(t, "", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Database initialized successfully")
	assert.DirExists(t, filepath.Join(dir, "inkwell.db"))
	assert.DirExists(t, filepath.Join(dir, "posts"))
	assert.DirExists(t, filepath.Join(dir, "media"))

	_, err = run(t, "", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestAdminCreate(t *testing.T) {
	path, _ := writeConfig(t, config.DriverBadger)

	out, err := run(t, "", "admin", "create", "--config", path,
		"--username", "owner", "--password1", "first-secret", "--password2", "second-secret")
	require.NoError(t, err)
	assert.Contains(t, out, `Admin "owner" created`)

	admin, err := findIdentity(t, loadConfig(t, path), "owner")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.True(t, admin.Verified)

	_, err = run(t, "", "admin", "create", "--config", path,
		"--username", "owner", "--password1", "first-secret", "--password2", "second-secret")
	assert.Error(t, err)
}

func TestAdminCreatePromptsForPasswords(t *testing.T) {
	path, _ := writeConfig(t, config.DriverSQLite)

	out, err := run(t, "first-secret\nsecond-secret\n", "admin", "create", "--config", path, "--username", "owner")
	require.NoError(t, err)
	assert.Contains(t, out, "First password: ")
	assert.Contains(t, out, "Second password: ")

	_, err = findIdentity(t, loadConfig(t, path), "owner")
	assert.NoError(t, err)
}

func TestAdminCreateRejectsShortPassword(t *testing.T) {
	path, _ := writeConfig(t, config.DriverBadger)
	_, err := run(t, "", "admin", "create", "--config", path,
		"--username", "owner", "--password1", "abc", "--password2", "second-secret")
	assert.Error(t, err)
}

func TestCleanAsksFirst(t *testing.T) {
	path, dir := writeConfig(t, config.DriverBadger)
	_, err := run(t, "", "init", "--config", path)
	require.NoError(t, err)

	out, err := run(t, "n\n", "clean", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Operation cancelled")
	assert.DirExists(t, filepath.Join(dir, "inkwell.db"))

	out, err = run(t, "y\n", "clean", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Database cleaned successfully")
	assert.NoDirExists(t, filepath.Join(dir, "inkwell.db"))

	out, err = run(t, "", "clean", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "already clean")
}

func TestCleanSQLite(t *testing.T) {
	path, dir := writeConfig(t, config.DriverSQLite)
	_, err := run(t, "", "init", "--config", path)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "inkwell.sqlite"))

	_, err = run(t, "", "clean", "--yes", "--config", path)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "inkwell.sqlite"))
}

func TestBackupAndRestore(t *testing.T) {
	path, dir := writeConfig(t, config.DriverBadger)
	backups := filepath.Join(dir, "backups")

	_, err := run(t, "", "admin", "create", "--config", path,
		"--username", "owner", "--password1", "first-secret", "--password2", "second-secret")
	require.NoError(t, err)

	out, err := run(t, "", "backup", "--config", path, "--dir", backups)
	require.NoError(t, err)
	assert.Contains(t, out, "Database backed up successfully")
	files, err := filepath.Glob(filepath.Join(backups, "backup_*.db"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	_, err = run(t, "", "clean", "--yes", "--config", path)
	require.NoError(t, err)

	out, err = run(t, "", "restore", files[0], "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Database restored successfully")

	_, err = findIdentity(t, loadConfig(t, path), "owner")
	assert.NoError(t, err)
}

func TestRestoreReplacesOnlyWhenConfirmed(t *testing.T) {
	path, dir := writeConfig(t, config.DriverBadger)
	_, err := run(t, "", "init", "--config", path)
	require.NoError(t, err)
	backups := filepath.Join(dir, "backups")
	_, err = run(t, "", "backup", "--config", path, "--dir", backups)
	require.NoError(t, err)
	files, _ := filepath.Glob(filepath.Join(backups, "backup_*.db"))
	require.Len(t, files, 1)

	out, err := run(t, "no\n", "restore", files[0], "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Operation cancelled")
}

func TestRestoreErrors(t *testing.T) {
	path, dir := writeConfig(t, config.DriverBadger)

	_, err := run(t, "", "restore", filepath.Join(dir, "missing.db"), "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	empty := filepath.Join(dir, "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = run(t, "", "restore", empty, "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = run(t, "", "restore", "--config", path)
	assert.Error(t, err)
}

func TestBackupNeedsBadger(t *testing.T) {
	path, _ := writeConfig(t, config.DriverSQLite)
	_, err := run(t, "", "backup", "--config", path)
	assert.ErrorIs(t, err, errNoBadger)
}

func TestNewAppRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	_, err := NewApp(cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_key")
}

func TestNewAppServesHealth(t *testing.T) {
	for _, driver := range []string{config.DriverBadger, config.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			path, _ := writeConfig(t, driver)
			app, err := NewApp(loadConfig(t, path), logging.Discard())
			require.NoError(t, err)
			defer app.Close()

			w := httptest.NewRecorder()
			app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/healthz", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			w = httptest.NewRecorder()
			app.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/posts", nil))
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}

func TestAppRunStopsOnCancel(t *testing.T) {
	path, _ := writeConfig(t, config.DriverBadger)
	app, err := NewApp(loadConfig(t, path), logging.Discard())
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
