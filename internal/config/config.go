// Package config defines the frozen configuration record every component
// receives at construction time. There is no process-wide config
// singleton: main wires a *Config (or a narrower view of it) into each
// component explicitly, the way the teacher's cmd/client does with viper.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/cmissync/core/internal/utils"
)

// DropFirstEventPerBatchPolicy resolves the open question of whether the
// server's documented "drop the first event of every page" quirk applies
// only to genuinely continued pages, or to the very first page of a run
// too.
type DropFirstEventPerBatchPolicy string

const (
	// DropAlways drops the first event of every page fetched, including
	// page one of a run. This is the literal reading of the documented
	// quirk and is the default until a server is observed that disagrees.
	DropAlways DropFirstEventPerBatchPolicy = "always"
	// DropNonFirstOnly drops the first event only on continuation pages,
	// keeping the very first event of a run.
	DropNonFirstOnly DropFirstEventPerBatchPolicy = "non_first_only"
)

const (
	DefaultMaxChangesPerPage          = 50
	DefaultCoalesceWindow             = 500 * time.Millisecond
	DefaultPollInterval               = 30 * time.Second
	DefaultWorkerCount                = 4
	DefaultQueueCapacity              = 256
	DefaultIgnoreIfSameLowercaseNames = true
)

// Config is the complete, validated configuration for one sync run /
// daemon process rooted at LocalRoot.
type Config struct {
	// LocalRoot is the absolute path to the directory mirrored against the
	// remote repository.
	LocalRoot string `mapstructure:"local_root"`

	// ServerURL is the base URL of the CMIS-like repository.
	ServerURL string `mapstructure:"server_url"`
	// AccessToken authenticates requests to ServerURL. Credential
	// acquisition/refresh itself is an external collaborator's concern;
	// this field only carries whatever token the caller already has.
	AccessToken string `mapstructure:"access_token"`

	// RepositoryID is the CMIS repository/object-store identifier to
	// bind the session to.
	RepositoryID string `mapstructure:"repository_id"`
	// RootFolderID is the remote object id of the folder mirrored onto
	// LocalRoot.
	RootFolderID string `mapstructure:"root_folder_id"`

	// DBPath is the sqlite database file backing internal/store. Defaults
	// to <LocalRoot>/.cmissync/sync.db.
	DBPath string `mapstructure:"db_path"`
	LogDir string `mapstructure:"log_dir"`

	MaxChangesPerPage          int                          `mapstructure:"max_changes_per_page"`
	IgnoreIfSameLowercaseNames bool                         `mapstructure:"ignore_if_same_lowercase_names"`
	PollInterval               time.Duration                `mapstructure:"poll_interval"`
	SyncAtStartup              bool                         `mapstructure:"sync_at_startup"`
	CoalesceWindow             time.Duration                `mapstructure:"coalesce_window"`
	DropFirstEventPerBatch     DropFirstEventPerBatchPolicy `mapstructure:"drop_first_event_per_batch"`

	WorkerCount   int `mapstructure:"worker_count"`
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// Default returns a Config with the sync options and timings pre-filled;
// paths (DBPath, LogDir) are left empty for Validate to derive, and callers
// still must set LocalRoot, ServerURL and RootFolderID.
func Default() *Config {
	return &Config{
		MaxChangesPerPage:          DefaultMaxChangesPerPage,
		IgnoreIfSameLowercaseNames: DefaultIgnoreIfSameLowercaseNames,
		PollInterval:               DefaultPollInterval,
		SyncAtStartup:              true,
		CoalesceWindow:             DefaultCoalesceWindow,
		DropFirstEventPerBatch:     DropAlways,
		WorkerCount:                DefaultWorkerCount,
		QueueCapacity:              DefaultQueueCapacity,
	}
}

// Validate resolves/normalizes paths and rejects an unusable configuration,
// mirroring the teacher's Config.Validate shape (resolve then check).
func (c *Config) Validate() error {
	if c.LocalRoot == "" {
		return fmt.Errorf("local_root is required")
	}
	root, err := utils.ResolvePath(c.LocalRoot)
	if err != nil {
		return fmt.Errorf("resolve local_root %q: %w", c.LocalRoot, err)
	}
	c.LocalRoot = root

	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if _, err := url.Parse(c.ServerURL); err != nil {
		return fmt.Errorf("invalid server_url %q: %w", c.ServerURL, err)
	}

	if c.RootFolderID == "" {
		return fmt.Errorf("root_folder_id is required")
	}

	if c.DBPath == "" {
		c.DBPath = c.LocalRoot + "/.cmissync/sync.db"
	}
	if c.LogDir == "" {
		c.LogDir = c.LocalRoot + "/.cmissync/logs"
	}

	if c.MaxChangesPerPage <= 0 {
		c.MaxChangesPerPage = DefaultMaxChangesPerPage
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = DefaultCoalesceWindow
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = DefaultWorkerCount
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	switch c.DropFirstEventPerBatch {
	case DropAlways, DropNonFirstOnly:
	case "":
		c.DropFirstEventPerBatch = DropAlways
	default:
		return fmt.Errorf("invalid drop_first_event_per_batch %q", c.DropFirstEventPerBatch)
	}

	return nil
}

// LogValue lets slog redact the access token the way the teacher's
// config.Config.LogValue redacts credentials.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("local_root", c.LocalRoot),
		slog.String("server_url", c.ServerURL),
		slog.String("repository_id", c.RepositoryID),
		slog.String("root_folder_id", c.RootFolderID),
		slog.Int("max_changes_per_page", c.MaxChangesPerPage),
		slog.Duration("poll_interval", c.PollInterval),
		slog.Duration("coalesce_window", c.CoalesceWindow),
		slog.String("drop_first_event_per_batch", string(c.DropFirstEventPerBatch)),
	)
}
