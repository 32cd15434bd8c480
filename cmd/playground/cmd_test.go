package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/GriffinCanCode/playground/internal/shared/errors"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestCatalogListBuiltin(t *testing.T) {
	out, err := run(t, "catalog", "list")
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "effect")
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "main.js, greet.js")
}

func TestCatalogValidate(t *testing.T) {
	dir := t.TempDir()
	doc := "name = \"demo\"\nfiles_of_interest = [\"index.js\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "demo.toml"), []byte(doc), 0o644))

	out, err := run(t, "catalog", "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "1 workspace(s) valid")

	out, err = run(t, "catalog", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "index.js")
}

func TestCatalogValidateReportsError(t *testing.T) {
	dir := t.TempDir()
	doc := "name: broken\nfiles_of_interest: [\"../etc/passwd\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(doc), 0o644))

	_, err := run(t, "catalog", "validate", dir)
	require.Error(t, err)
	assert.NotEqual(t, perrors.ExitSuccess, perrors.GetExitCode(err))
}

func TestBadEnvironmentIsConfigError(t *testing.T) {
	t.Setenv("SANDBOX_BACKEND", "docker")

	_, err := run(t, "catalog", "list")
	require.Error(t, err)
	assert.Equal(t, perrors.ExitConfigError, perrors.GetExitCode(err))
}

func TestServeRejectsUnknownBackend(t *testing.T) {
	_, err := run(t, "serve", "--backend", "docker")
	require.Error(t, err)
	assert.Equal(t, perrors.ExitConfigError, perrors.GetExitCode(err))
}
