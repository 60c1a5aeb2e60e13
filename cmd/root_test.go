package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs a pristine command tree with args and returns what it
// wrote to stdout and stderr.
func executeCommand(t *testing.T, ctx context.Context, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(bytes.NewBufferString(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

// createTempConfig writes content to a config file that is removed after the test.
func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), "", "--version")
	require.NoError(t, err)
	assert.Equal(t, "extbridge version "+Version+"\n", out)
}

func TestVersionCmd(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "extbridge version "+Version+"\n", out)
}

func TestRootCmd_NoArgs(t *testing.T) {
	out, _, err := executeCommand(t, context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "extbridge drives a browser")
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "send")
}

func TestRootCmd_ConfigErrors(t *testing.T) {
	t.Run("MissingExplicitFile", func(t *testing.T) {
		_, _, err := executeCommand(t, context.Background(), "", "--config", filepath.Join(t.TempDir(), "nope.yaml"), "version")
		assert.ErrorContains(t, err, "failed to initialize configuration")
	})

	t.Run("InvalidValue", func(t *testing.T) {
		path := createTempConfig(t, "dispatcher:\n  on_fault: explode\n")
		_, _, err := executeCommand(t, context.Background(), "", "--config", path, "version")
		assert.ErrorContains(t, err, "on_fault")
	})

	t.Run("InvalidEnvironment", func(t *testing.T) {
		t.Setenv("EXTBRIDGE_BROWSER_MODE", "firefox")
		_, _, err := executeCommand(t, context.Background(), "", "version")
		assert.ErrorContains(t, err, "browser configuration invalid")
	})
}

func TestConfigFrom_NotLoaded(t *testing.T) {
	_, err := configFrom(context.Background())
	assert.Error(t, err)
}
