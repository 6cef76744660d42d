package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// useTestDirs points the global directory flags at a fresh temp tree.
func useTestDirs(t *testing.T) (credDir, extDir string) {
	t.Helper()
	root := t.TempDir()

	oldConfig, oldCred, oldExt := configPath, credentialsDir, extensionsDir
	configPath = filepath.Join(root, "config.yaml")
	credentialsDir = filepath.Join(root, "credentials")
	extensionsDir = filepath.Join(root, "extensions")
	t.Cleanup(func() {
		configPath, credentialsDir, extensionsDir = oldConfig, oldCred, oldExt
	})
	return credentialsDir, extensionsDir
}

func runCommand(t *testing.T, cmd *cobra.Command, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	err := cmd.ExecuteContext(t.Context())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
