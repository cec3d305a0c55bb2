package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadConfigTestCmd(t *testing.T) *cobra.Command {
	t.Helper()
	viper.Reset()

	oldHome := home
	home = t.TempDir()
	t.Cleanup(func() { home = oldHome })

	cmd := &cobra.Command{}
	cmd.Flags().StringP("root", "r", defaultDataDir, "")
	cmd.Flags().StringP("server", "s", "", "")
	cmd.Flags().StringP("token", "t", "", "")
	cmd.Flags().String("repository", "", "")
	cmd.Flags().String("folder", "", "")
	cmd.PersistentFlags().StringP("config", "c", "", "")
	return cmd
}

func TestLoadConfigBindsEnvironment(t *testing.T) {
	cmd := newLoadConfigTestCmd(t)
	t.Setenv("CMISSYNC_SERVER_URL", "https://repo.example.com")
	t.Setenv("CMISSYNC_ACCESS_TOKEN", "env-token")

	require.NoError(t, loadConfig(cmd))

	assert.Equal(t, "https://repo.example.com", viper.GetString("server_url"))
	assert.Equal(t, "env-token", viper.GetString("access_token"))
}

func TestLoadConfigFlagBeatsEnv(t *testing.T) {
	cmd := newLoadConfigTestCmd(t)
	t.Setenv("CMISSYNC_SERVER_URL", "https://env.example.com")
	require.NoError(t, cmd.Flags().Set("server", "https://flag.example.com"))

	require.NoError(t, loadConfig(cmd))

	assert.Equal(t, "https://flag.example.com", viper.GetString("server_url"))
}

func TestLoadConfigReadsExplicitFile(t *testing.T) {
	cmd := newLoadConfigTestCmd(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("server_url: https://file.example.com\nroot_folder_id: root-1\n"), 0o644))
	require.NoError(t, cmd.PersistentFlags().Set("config", cfgPath))

	require.NoError(t, loadConfig(cmd))

	assert.Equal(t, "https://file.example.com", viper.GetString("server_url"))
	assert.Equal(t, "root-1", viper.GetString("root_folder_id"))
}

func TestLoadConfigIgnoresMissingFile(t *testing.T) {
	cmd := newLoadConfigTestCmd(t)
	require.NoError(t, loadConfig(cmd))
}
