package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/shared"
)

// ScaleCmd changes the number of workers of one type.
var ScaleCmd = &cobra.Command{
	Use:   "scale <type> <count>",
	Short: "Scale workers of a type",
	Long: `Bring the number of workers of a type toward count. Busy workers are
never removed, so the count can stay above target until they finish.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q: %w", args[1], err)
		}

		status, err := NewClient().Scale(cmd.Context(), shared.WorkerType(args[0]), count)
		if err != nil {
			return err
		}

		n := 0
		for _, w := range status.Workers {
			if string(w.Type) == args[0] {
				n++
			}
		}
		fmt.Printf("%s workers: %d (total %d)\n", args[0], n, len(status.Workers))
		return nil
	},
}
