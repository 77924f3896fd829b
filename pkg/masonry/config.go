package masonry

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"

	"github.com/matzehuels/masonry/pkg/cache"
	"github.com/matzehuels/masonry/pkg/columns"
	"github.com/matzehuels/masonry/pkg/distribute"
	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/feed"
	"github.com/matzehuels/masonry/pkg/notify"
	"github.com/matzehuels/masonry/pkg/provider/httpapi"
	"github.com/matzehuels/masonry/pkg/scroll"
)

// =============================================================================
// Default Values
// =============================================================================

const (
	// DefaultMaxColumns caps responsive and min-width plans.
	DefaultMaxColumns = 6

	// DefaultGap is the horizontal gap between columns.
	DefaultGap = 16.0

	// DefaultInitialPage is the page loaded on Start.
	DefaultInitialPage = 1
)

// Config is the complete configuration of one layout instance. It is
// usually loaded from TOML with [LoadConfig]; CLI flags override fields
// afterwards.
type Config struct {
	// Layout
	Columns              columns.Spec        `toml:"columns" json:"columns"`
	MinColumnWidth       float64             `toml:"min_column_width" json:"min_column_width,omitempty"`
	MaxColumns           int                 `toml:"max_columns" json:"max_columns,omitempty"`
	Gap                  float64             `toml:"gap" json:"gap"`
	Padding              float64             `toml:"padding" json:"padding,omitempty"`
	DistributionStrategy distribute.Strategy `toml:"distribution_strategy" json:"distribution_strategy"`
	BalanceHeights       bool                `toml:"balance_heights" json:"balance_heights,omitempty"`
	Seed                 uint64              `toml:"seed" json:"seed,omitempty"`

	// Pagination
	EnablePagination        bool              `toml:"enable_pagination" json:"enable_pagination"`
	InfiniteScroll          bool              `toml:"infinite_scroll" json:"infinite_scroll"`
	// Zero threshold and gap mean unset and take the defaults. A negative
	// threshold requires the sentinel to overlap the viewport; use
	// enable_pagination = false to stay on a single page.
	InfiniteScrollThreshold float64           `toml:"infinite_scroll_threshold" json:"infinite_scroll_threshold"`
	MaxPageGap              int               `toml:"max_page_gap" json:"max_page_gap"`
	PageSize                int               `toml:"page_size" json:"page_size"`
	InitialPage             int               `toml:"initial_page" json:"initial_page,omitempty"`
	Fields                  feed.FieldMapping `toml:"fields" json:"fields"`
	Filters                 map[string]string `toml:"filters" json:"filters,omitempty"`

	// Host
	ResizeDebounce time.Duration `toml:"resize_debounce" json:"resize_debounce,omitempty"`

	// Upstream and page cache, used by the CLI to build a provider.
	Upstream httpapi.Options `toml:"upstream" json:"-"`
	Cache    cache.Config    `toml:"cache" json:"-"`
}

// DefaultConfig returns a configuration with every default applied and
// pagination plus infinite scroll enabled.
func DefaultConfig() Config {
	cfg := Config{
		EnablePagination: true,
		InfiniteScroll:   true,
	}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills zero-valued fields. Boolean switches are left alone;
// start from [DefaultConfig] to get them enabled.
func (c *Config) SetDefaults() {
	if c.Columns.IsZero() && c.MinColumnWidth <= 0 {
		c.Columns = columns.DefaultSpec()
	}
	if c.MaxColumns == 0 {
		c.MaxColumns = DefaultMaxColumns
	}
	if c.Gap == 0 {
		c.Gap = DefaultGap
	}
	if s, err := distribute.ParseStrategy(string(c.DistributionStrategy)); err == nil {
		c.DistributionStrategy = s
	}
	if c.InfiniteScrollThreshold == 0 {
		c.InfiniteScrollThreshold = scroll.DefaultThreshold
	}
	if c.MaxPageGap <= 0 {
		c.MaxPageGap = feed.DefaultMaxPageGap
	}
	if c.PageSize <= 0 {
		c.PageSize = feed.DefaultPageSize
	}
	if c.InitialPage <= 0 {
		c.InitialPage = DefaultInitialPage
	}
	if c.ResizeDebounce <= 0 {
		c.ResizeDebounce = notify.DefaultDebounce
	}
}

// Validate reports configuration errors that cannot be recovered locally.
// Column spec problems are not among them; see [Config.Prepare].
func (c Config) Validate() error {
	if !c.DistributionStrategy.Valid() {
		if _, err := distribute.ParseStrategy(string(c.DistributionStrategy)); err != nil {
			return err
		}
	}
	if c.MinColumnWidth < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "min_column_width must not be negative")
	}
	if c.Gap < 0 || c.Padding < 0 {
		return errors.New(errors.ErrCodeInvalidConfig, "gap and padding must not be negative")
	}
	for k := range c.Filters {
		if err := errors.ValidateFilterKey(k); err != nil {
			return err
		}
	}
	return c.Fields.Validate()
}

// Prepare applies defaults, drops invalid column spec entries with a
// warning and validates the rest.
func (c *Config) Prepare(logger *log.Logger) error {
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if err := c.Columns.Validate(); err != nil {
		logger.Warn("ignoring invalid column spec entries", "columns", c.Columns.String(), "err", errors.UserMessage(err))
		c.Columns = c.Columns.Sanitized()
	}
	c.SetDefaults()
	return c.Validate()
}

// PlanOptions returns the column planner options derived from c.
func (c Config) PlanOptions() columns.Options {
	return columns.Options{
		MinColumnWidth: c.MinColumnWidth,
		MaxColumns:     c.MaxColumns,
		GapX:           c.Gap,
		PaddingLeft:    c.Padding,
		PaddingRight:   c.Padding,
	}
}

// SourceOptions returns the data source options derived from c.
func (c Config) SourceOptions() feed.Options {
	return feed.Options{
		PageSize:   c.PageSize,
		MaxPageGap: c.MaxPageGap,
		Filters:    c.Filters,
		Mapping:    c.Fields,
	}
}

// LoadConfig reads a TOML file on top of [DefaultConfig]. Unknown keys are
// an error so that typos do not silently fall back to defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfig, err, "load %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, errors.New(errors.ErrCodeInvalidConfig, "%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// String summarizes the layout-relevant part of c for log output.
func (c Config) String() string {
	cols := c.Columns.String()
	if c.MinColumnWidth > 0 {
		cols = fmt.Sprintf("min-width %g", c.MinColumnWidth)
	}
	return fmt.Sprintf("columns=%s max=%d strategy=%s page_size=%d max_page_gap=%d", cols, c.MaxColumns, c.DistributionStrategy, c.PageSize, c.MaxPageGap)
}
