package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cmissync/core/internal/cmis"
	"github.com/cmissync/core/internal/config"
	"github.com/cmissync/core/internal/ignore"
	"github.com/cmissync/core/internal/store"
	"github.com/cmissync/core/internal/syncengine"
	"github.com/cmissync/core/internal/utils"
	"github.com/cmissync/core/internal/version"
	"github.com/cmissync/core/internal/watcher"
	"github.com/cmissync/core/internal/workspace"
)

var (
	home, _        = os.UserHomeDir()
	defaultDataDir = filepath.Join(home, "cmissync")
	configFileName = "config"
)

var rootCmd = &cobra.Command{
	Use:     "cmissync",
	Short:   "Bidirectional CMIS file sync client",
	Version: version.Detailed(),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := &config.Config{
			LocalRoot:    viper.GetString("local_root"),
			ServerURL:    viper.GetString("server_url"),
			AccessToken:  viper.GetString("access_token"),
			RepositoryID: viper.GetString("repository_id"),
			RootFolderID: viper.GetString("root_folder_id"),
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		closeLog, err := addFileLogging(cfg.LogDir)
		if err != nil {
			return fmt.Errorf("set up log file: %w", err)
		}
		defer closeLog()

		cmd.SilenceUsage = true
		slog.Info("cmissync", "version", version.Version, "revision", version.Revision)

		defer slog.Info("bye")
		return runDaemon(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().SortFlags = false
	rootCmd.Flags().StringP("root", "r", defaultDataDir, "Local directory to sync")
	rootCmd.Flags().StringP("server", "s", "", "CMIS repository server URL")
	rootCmd.Flags().StringP("token", "t", "", "Access token for the CMIS repository")
	rootCmd.Flags().String("repository", "", "CMIS repository id")
	rootCmd.Flags().String("folder", "", "Remote root folder id to mirror")
	rootCmd.PersistentFlags().StringP("config", "c", "", "cmissync config file")
}

func main() {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
	})
	slog.SetDefault(slog.New(handler))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// addFileLogging upgrades slog's default logger so every log line also
// lands in <logDir>/cmissync.log, in addition to the terminal handler set
// up in main. Returns a closer the caller must defer.
func addFileLogging(logDir string) (func(), error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir %q: %w", logDir, err)
	}

	logPath := filepath.Join(logDir, "cmissync.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", logPath, err)
	}

	stdoutHandler := slog.Default().Handler()
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(utils.NewMultiLogHandler(stdoutHandler, fileHandler)))

	return func() { file.Close() }, nil
}

func loadConfig(cmd *cobra.Command) error {
	if cmd.Flag("config").Changed {
		configFilePath, _ := cmd.Flags().GetString("config")
		viper.SetConfigFile(configFilePath)
	} else {
		viper.AddConfigPath(filepath.Join(home, ".cmissync"))
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config read %q: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.BindPFlag("local_root", cmd.Flags().Lookup("root"))
	viper.BindPFlag("server_url", cmd.Flags().Lookup("server"))
	viper.BindPFlag("access_token", cmd.Flags().Lookup("token"))
	viper.BindPFlag("repository_id", cmd.Flags().Lookup("repository"))
	viper.BindPFlag("root_folder_id", cmd.Flags().Lookup("folder"))

	viper.SetEnvPrefix("CMISSYNC")
	viper.AutomaticEnv()

	return nil
}

// runDaemon locks the workspace, opens the sync database, builds the CMIS
// session and the sync engine's collaborators, and blocks until ctx is
// cancelled.
func runDaemon(ctx context.Context, cfg *config.Config) error {
	ws, err := workspace.New(cfg.LocalRoot)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}
	defer ws.Unlock()

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sync database: %w", err)
	}
	defer db.Close()

	session, err := cmis.NewHTTPSession(cmis.HTTPSessionConfig{
		BaseURL:      cfg.ServerURL,
		RepositoryID: cfg.RepositoryID,
		AccessToken:  cfg.AccessToken,
		Timeout:      30 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("create cmis session: %w", err)
	}

	ignoreList := ignore.New(cfg.LocalRoot)
	fw := watcher.NewWatcher(cfg.LocalRoot)
	fw.FilterPaths(func(path string) bool {
		rel, err := filepath.Rel(cfg.LocalRoot, path)
		if err != nil {
			return false
		}
		return ignoreList.ShouldIgnore(filepath.ToSlash(rel))
	})

	engine := syncengine.New(cfg, db, session, ignoreList, fw, slog.Default())
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("start sync engine: %w", err)
	}

	<-ctx.Done()
	engine.Stop()
	return nil
}
