// Package cli implements the masonry command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/internal/portfolio"
	"github.com/matzehuels/masonry/pkg/buildinfo"
	"github.com/matzehuels/masonry/pkg/cache"
	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/masonry"
	"github.com/matzehuels/masonry/pkg/provider/httpapi"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "masonry"

	// defaultWidth is the container width used when none is given.
	defaultWidth = 1280
)

// Log levels accepted by [New].
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	// Bound to the persistent --config and --verbose flags.
	configPath string
	verbose    bool
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Masonry lays feeds out in balanced columns",
		Long:         `Masonry plans responsive column layouts, distributes paginated feeds across them and keeps a bounded window of pages loaded while you scroll.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if c.verbose {
				c.SetLogLevel(LogDebug)
			}
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "TOML configuration file")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable verbose logging")

	// Register all subcommands
	root.AddCommand(c.planCommand())
	root.AddCommand(c.layoutCommand())
	root.AddCommand(c.browseCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.statesCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Configuration
// =============================================================================

// loadConfig reads --config, or returns the defaults when it is unset.
func (c *CLI) loadConfig() (masonry.Config, error) {
	if c.configPath == "" {
		return masonry.DefaultConfig(), nil
	}
	cfg, err := masonry.LoadConfig(c.configPath)
	if err != nil {
		return masonry.Config{}, err
	}
	c.Logger.Debug("loaded config", "path", c.configPath)
	return cfg, nil
}

// =============================================================================
// Provider Factory
// =============================================================================

// sourceFlags select where a command reads its feed from.
type sourceFlags struct {
	url     string
	db      string
	noCache bool
}

func (f *sourceFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.url, "url", "", "upstream collection endpoint (overrides [upstream].url)")
	cmd.Flags().StringVar(&f.db, "db", "", "read projects from a local portfolio database instead of HTTP")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "disable the page cache")
}

// newProvider builds the feed provider for cfg. The returned close function
// releases the database and cache.
func (c *CLI) newProvider(ctx context.Context, cfg masonry.Config, f sourceFlags) (feed.Provider, func(), error) {
	var (
		next    feed.Provider
		source  string
		closers []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch {
	case f.db != "":
		store, err := portfolio.Open(f.db)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, store.Close)
		next, source = store, "portfolio:"+f.db
	default:
		opts := cfg.Upstream
		if f.url != "" {
			opts.URL = f.url
		}
		if opts.URL == "" {
			return nil, nil, errors.New(errors.ErrCodeInvalidInput, "no upstream: pass --url, --db or set [upstream].url")
		}
		p, err := httpapi.New(opts, nil)
		if err != nil {
			return nil, nil, err
		}
		next, source = p, opts.URL
	}

	if f.noCache {
		return next, cleanup, nil
	}
	pages, err := c.openCache(ctx, cfg.Cache)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	closers = append(closers, pages.Close)
	return feed.NewCachedProvider(next, pages, cache.NewDefaultKeyer(), source, cache.TTLPage), cleanup, nil
}

// openCache opens the configured backend. Without configuration the CLI
// uses a file cache in the user cache directory.
func (c *CLI) openCache(ctx context.Context, cfg cache.Config) (cache.Cache, error) {
	if cfg.Backend == "" && cfg.Dir == "" {
		dir, err := cacheDir()
		if err != nil {
			c.Logger.Debug("cache disabled", "reason", err)
			return cache.NewNullCache(), nil
		}
		cfg.Dir = dir
	}
	return cache.Open(ctx, cfg)
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/masonry/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
