package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/internal/portfolio"
	"github.com/matzehuels/masonry/pkg/columns"
	"github.com/matzehuels/masonry/pkg/distribute"
	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/masonry"
	"github.com/matzehuels/masonry/pkg/observability"
)

// Output formats of the layout command.
const (
	formatTable = "table"
	formatJSON  = "json"
)

// layoutFlags override configuration fields shared by layout and browse.
type layoutFlags struct {
	columns  string
	minWidth float64
	strategy string
	seed     uint64
	pageSize int
	filters  map[string]string
}

func (f *layoutFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.columns, "columns", "", `column spec: a fixed count ("3") or tiers ("sm=2,md=3,lg=4")`)
	cmd.Flags().Float64Var(&f.minWidth, "min-width", 0, "derive the column count from a minimum column width")
	cmd.Flags().StringVarP(&f.strategy, "strategy", "s", "", "distribution strategy: "+strings.Join(distribute.Names(), ", "))
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "seed for the random strategy")
	cmd.Flags().IntVar(&f.pageSize, "page-size", 0, "items per page")
	cmd.Flags().StringToStringVar(&f.filters, "filter", nil, "upstream filter (key=value, repeatable)")
}

// apply copies the flags that were set on cmd into cfg and prepares it.
func (f *layoutFlags) apply(cmd *cobra.Command, cfg *masonry.Config, c *CLI) error {
	if f.columns != "" {
		spec, err := columns.ParseSpec(f.columns)
		if err != nil {
			printWarning("Ignoring invalid column entries: %s", errors.UserMessage(err))
		}
		cfg.Columns = spec
		cfg.MinColumnWidth = 0
	}
	if f.minWidth > 0 {
		cfg.Columns = columns.Spec{}
		cfg.MinColumnWidth = f.minWidth
	}
	if f.strategy != "" {
		s, err := distribute.ParseStrategy(f.strategy)
		if err != nil {
			return err
		}
		cfg.DistributionStrategy = s
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = f.seed
	}
	if f.pageSize > 0 {
		cfg.PageSize = f.pageSize
	}
	if len(f.filters) > 0 {
		if cfg.Filters == nil {
			cfg.Filters = make(map[string]string, len(f.filters))
		}
		for k, v := range f.filters {
			cfg.Filters[k] = v
		}
	}
	return cfg.Prepare(c.Logger)
}

// layoutCommand creates the layout command that loads a feed and prints
// its column assignment.
func (c *CLI) layoutCommand() *cobra.Command {
	var (
		src    sourceFlags
		lf     layoutFlags
		width  float64
		pages  int
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Load pages of a feed and lay them out in columns",
		Long: `Load pages of a feed and lay them out in columns.

The feed comes from a REST endpoint (--url or [upstream] in the config) or a
local portfolio database (--db). Pages are loaded forward from the initial
page; the result is printed as a table or written as JSON.

Fetched pages are cached locally for faster subsequent runs.`,
		Example: `  masonry layout --url https://api.example.com/projects --width 1300
  masonry layout --db portfolio.db --pages 3 --strategy center-out -f json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := lf.apply(cmd, &cfg, c); err != nil {
				return err
			}
			if pages < 1 || pages > cfg.MaxPageGap+1 {
				return errors.New(errors.ErrCodeInvalidInput, "--pages must be between 1 and %d", cfg.MaxPageGap+1)
			}
			if format != formatTable && format != formatJSON {
				return errors.New(errors.ErrCodeInvalidInput, "unknown format %q (must be table or json)", format)
			}
			return c.runLayout(cmd, cfg, src, width, pages, format, output)
		},
	}

	src.register(cmd)
	lf.register(cmd)
	cmd.Flags().Float64VarP(&width, "width", "w", defaultWidth, "container width")
	cmd.Flags().IntVarP(&pages, "pages", "p", 1, "number of pages to load")
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "output format: table, json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the layout to a file instead of stdout")

	return cmd
}

// runLayout drives an engine through the initial page plus pages-1
// forward fetches and prints the final state.
func (c *CLI) runLayout(cmd *cobra.Command, cfg masonry.Config, src sourceFlags, width float64, pages int, format, output string) error {
	ctx := cmd.Context()

	provider, cleanup, err := c.newProvider(ctx, cfg, src)
	if err != nil {
		return err
	}
	defer cleanup()

	stats := &cacheStats{}
	prev := observability.Cache()
	observability.SetCacheHooks(stats)
	defer observability.SetCacheHooks(prev)

	prog := newProgress(c.Logger)
	spinner := newSpinnerWithContext(ctx, "Loading feed...")
	spinner.Start()

	state, err := c.loadPages(ctx, cfg, provider, width, pages)
	if err != nil {
		spinner.StopWithError("Loading failed")
		return err
	}
	spinner.Stop()
	prog.done(fmt.Sprintf("Loaded %d items from pages %s", len(state.Items), state.Range))

	if format == formatJSON || output != "" {
		data, err := json.MarshalIndent(portfolio.LayoutResponse{
			Width:       state.Width,
			ColumnCount: state.ColumnCount,
			Strategy:    cfg.DistributionStrategy,
			Columns:     state.Columns,
			Range:       state.Range,
			Meta:        state.Meta,
			Items:       len(state.Items),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode layout: %w", err)
		}
		if output == "" {
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		}
		if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("write output %s: %w", output, err)
		}
		printSuccess("Layout complete")
		printFile(output)
		printStats(len(state.Items), state.ColumnCount, state.Range.String(), stats.cached())
		return nil
	}

	fmt.Fprintln(cmd.OutOrStdout(), renderColumns(state, columnCellWidth(width, state.ColumnCount)))
	printStats(len(state.Items), state.ColumnCount, state.Range.String(), stats.cached())
	if state.Meta.HasNextPage {
		printNextStep("More", fmt.Sprintf("%s layout --pages %d", appName, pages+1))
	}
	return nil
}

// loadPages starts an engine, waits for the initial page and then loads
// forward until pages pages are in the window or the feed ends.
func (c *CLI) loadPages(ctx context.Context, cfg masonry.Config, provider feed.Provider, width float64, pages int) (masonry.State, error) {
	cfg.InfiniteScroll = false
	engine, err := masonry.NewEngine(cfg, masonry.EngineOptions{
		Provider: provider,
		Width:    width,
		Logger:   c.Logger,
	})
	if err != nil {
		return masonry.State{}, err
	}
	defer engine.Close()

	ready := make(chan masonry.State, 1)
	unsubscribe := engine.Subscribe(func(s masonry.State) {
		if s.Loading || (s.Range.Empty() && s.Err == nil) {
			return
		}
		select {
		case ready <- s:
		default:
		}
	})
	if err := engine.Start(ctx); err != nil {
		unsubscribe()
		return masonry.State{}, err
	}

	var first masonry.State
	select {
	case first = <-ready:
	case <-ctx.Done():
		unsubscribe()
		return masonry.State{}, ctx.Err()
	}
	unsubscribe()
	if first.Err != nil {
		return masonry.State{}, first.Err
	}

	for range pages - 1 {
		outcome, err := engine.LoadMore(ctx)
		if err != nil {
			return masonry.State{}, err
		}
		if outcome != feed.Applied {
			c.Logger.Debug("stopped loading", "outcome", outcome)
			break
		}
	}
	engine.Flush()
	return engine.State(), nil
}

// =============================================================================
// Column Rendering
// =============================================================================

// pxPerCell converts container px into terminal cells.
const pxPerCell = 8

// columnCellWidth returns the terminal width of one rendered column.
func columnCellWidth(width float64, count int) int {
	if count <= 0 {
		return 0
	}
	w := int(width/pxPerCell)/count - 3
	return max(w, 8)
}

// renderColumns draws the columns of s as a table, one table column per
// layout column.
func renderColumns(s masonry.State, cellWidth int) string {
	if s.ColumnCount == 0 {
		return StyleDim.Render("(no columns)")
	}

	headers := make([]string, s.ColumnCount)
	depth := 0
	for i, col := range s.Columns {
		headers[i] = fmt.Sprintf("%d", i+1)
		depth = max(depth, len(col))
	}

	rows := make([][]string, depth)
	for r := range rows {
		row := make([]string, s.ColumnCount)
		for i, col := range s.Columns {
			if r < len(col) {
				row[i] = truncate(itemLabel(col[r]), cellWidth)
			}
		}
		rows[r] = row
	}

	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle.Width(cellWidth)
			}
			return lipgloss.NewStyle().Foreground(colorWhite).Width(cellWidth)
		})
	return t.Render()
}

func itemLabel(it feed.Item) string {
	if it.Title != "" {
		return it.Title
	}
	return it.ID
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// =============================================================================
// Cache Statistics
// =============================================================================

// cacheStats counts page cache hits so the summary line can report
// whether a layout was served from cache.
type cacheStats struct {
	hits   atomic.Int64
	misses atomic.Int64
}

func (s *cacheStats) OnCacheHit(context.Context, string)      { s.hits.Add(1) }
func (s *cacheStats) OnCacheMiss(context.Context, string)     { s.misses.Add(1) }
func (s *cacheStats) OnCacheSet(context.Context, string, int) {}

// cached reports whether every page came from the cache.
func (s *cacheStats) cached() bool {
	return s.hits.Load() > 0 && s.misses.Load() == 0
}
