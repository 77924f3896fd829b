package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/masonry/pkg/errors"
	"github.com/matzehuels/masonry/pkg/notify"
	"github.com/matzehuels/masonry/pkg/statechart"
)

// statesCommand creates the states command that draws the scroll trigger
// state machines.
func (c *CLI) statesCommand() *cobra.Command {
	var (
		output    string
		format    string
		direction string
	)

	cmd := &cobra.Command{
		Use:   "states",
		Short: "Draw the infinite scroll state machines",
		Long: `Draw the infinite scroll state machines.

The forward (bottom sentinel) and backward (top sentinel) directions each
move between idle, fetching and disposed on their own. The diagram is written
as Graphviz DOT or rendered to SVG.`,
		Example: `  masonry states > trigger.dot
  masonry states -f svg -o trigger.svg
  masonry states --direction forward`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var machines []statechart.Machine
			switch direction {
			case "", "both":
				machines = statechart.Machines()
			case "forward":
				machines = []statechart.Machine{statechart.Trigger(notify.Bottom)}
			case "backward":
				machines = []statechart.Machine{statechart.Trigger(notify.Top)}
			default:
				return errors.New(errors.ErrCodeInvalidInput, "unknown direction %q (must be forward, backward or both)", direction)
			}

			dot := statechart.ToDOT(machines...)
			var data []byte
			switch format {
			case "dot":
				data = []byte(dot)
			case "svg":
				svg, err := statechart.RenderSVG(cmd.Context(), dot)
				if err != nil {
					return err
				}
				data = svg
			default:
				return errors.New(errors.ErrCodeInvalidInput, "unknown format %q (must be dot or svg)", format)
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("write output %s: %w", output, err)
			}
			printSuccess("Wrote %d state machines", len(machines))
			printFile(output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	cmd.Flags().StringVarP(&format, "format", "f", "dot", "output format: dot, svg")
	cmd.Flags().StringVar(&direction, "direction", "both", "machines to draw: forward, backward, both")

	return cmd
}
