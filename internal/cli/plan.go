package cli

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/pkg/columns"
	"github.com/matzehuels/masonry/pkg/errors"
)

// planCommand creates the plan command that resolves column counts for
// container widths without loading any data.
func (c *CLI) planCommand() *cobra.Command {
	var lf layoutFlags

	cmd := &cobra.Command{
		Use:   "plan <width>...",
		Short: "Show the column count chosen for container widths",
		Long: `Show the column count chosen for container widths.

Each width is resolved against the configured column spec: a fixed count, a
breakpoint map (sm=640, md=768, lg=1024, xl=1280, 2xl=1536) or a minimum
column width. The max_columns cap applies to every mode.`,
		Example: `  masonry plan 375 800 1300
  masonry plan --columns "sm=2,lg=4" 700 1100
  masonry plan --min-width 240 1000`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if err := lf.apply(cmd, &cfg, c); err != nil {
				return err
			}

			widths := make([]float64, len(args))
			for i, a := range args {
				w, err := strconv.ParseFloat(a, 64)
				if err != nil || w < 0 {
					return errors.New(errors.ErrCodeInvalidInput, "invalid width %q", a)
				}
				widths[i] = w
			}

			opts := cfg.PlanOptions()
			rows := make([][]string, len(widths))
			for i, w := range widths {
				n := columns.Plan(w, cfg.Columns, opts)
				inner := w - opts.PaddingLeft - opts.PaddingRight - float64(n-1)*opts.GapX
				colWidth := strconv.FormatFloat(max(inner, 0)/float64(n), 'f', 1, 64)
				rows[i] = []string{
					strconv.FormatFloat(w, 'f', -1, 64),
					string(columns.SelectTier(w)),
					strconv.Itoa(n),
					colWidth,
				}
			}

			printKeyValue("Columns", planMode(cfg.Columns, opts))
			fmt.Fprintln(cmd.OutOrStdout(), renderPlan(rows))
			return nil
		},
	}

	cmd.Flags().StringVar(&lf.columns, "columns", "", `column spec: a fixed count ("3") or tiers ("sm=2,md=3,lg=4")`)
	cmd.Flags().Float64Var(&lf.minWidth, "min-width", 0, "derive the column count from a minimum column width")

	return cmd
}

// planMode describes how counts are resolved.
func planMode(spec columns.Spec, opts columns.Options) string {
	if spec.IsZero() && opts.MinColumnWidth > 0 {
		return fmt.Sprintf("min width %gpx", opts.MinColumnWidth)
	}
	return spec.String()
}

func renderPlan(rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(colorGray).Bold(true)
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorDim)).
		Headers("Width", "Tier", "Columns", "Column width").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == -1 {
				return headerStyle
			}
			if col == 2 {
				return StyleNumber
			}
			return lipgloss.NewStyle().Foreground(colorWhite)
		}).
		Render()
}
