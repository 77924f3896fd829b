package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/internal/portfolio"
	"github.com/matzehuels/masonry/pkg/cache"
)

// shutdownTimeout bounds graceful shutdown of the API server.
const shutdownTimeout = 10 * time.Second

// serveCommand creates the serve command that runs the portfolio API.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr    string
		dbPath  string
		seed    int
		origins []string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a paginated portfolio API with server-side layouts",
		Long: `Serve a paginated portfolio API with server-side layouts.

Endpoints:
  GET /api/projects?page=&limit=&tag=&shape=   paginated projects
  GET /api/projects/{id}                        a single project
  GET /api/layout?width=&pages=&strategy=       columns for a container width
  GET /health                                   liveness

The shape parameter selects the pagination envelope (pagination, total, meta
or none) so every metadata form a client understands can be exercised.`,
		Example: `  masonry serve --db portfolio.db --seed 200
  masonry serve --addr :9000 --origin https://example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runServe(cmd.Context(), addr, dbPath, seed, origins, noCache)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&dbPath, "db", "masonry.db", "SQLite database path")
	cmd.Flags().IntVar(&seed, "seed", 0, "insert this many sample projects when the database is empty")
	cmd.Flags().StringSliceVar(&origins, "origin", nil, "allowed CORS origin (repeatable)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the layout response cache")

	return cmd
}

func (c *CLI) runServe(ctx context.Context, addr, dbPath string, seed int, origins []string, noCache bool) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Prepare(c.Logger); err != nil {
		return err
	}

	store, err := portfolio.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if seed > 0 {
		n, err := store.CountProjects(ctx, "")
		if err != nil {
			return err
		}
		if n == 0 {
			if err := store.Seed(ctx, seed, cfg.Seed); err != nil {
				return fmt.Errorf("seed projects: %w", err)
			}
			printSuccess("Seeded %d projects", seed)
		}
	}

	var responses cache.Cache = cache.NewNullCache()
	if !noCache {
		if responses, err = c.openCache(ctx, cfg.Cache); err != nil {
			return err
		}
	}
	defer responses.Close()

	srv := &http.Server{
		Addr: addr,
		Handler: portfolio.New(store, portfolio.Options{
			Config:         cfg,
			Cache:          responses,
			Keyer:          cache.NewScopedKeyer(cache.NewDefaultKeyer(), "api:"),
			AllowedOrigins: origins,
			Logger:         c.Logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	printSuccess("Listening on %s", addr)
	printDetail("Database: %s", dbPath)
	printNextStep("Try", fmt.Sprintf("%s layout --url http://localhost%s/api/projects", appName, addr))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	c.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
