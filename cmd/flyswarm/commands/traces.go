package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/infrastructure/tracing"
)

var (
	tracesDB    string
	tracesSwarm string
	tracesLimit int
	tracesJSON  bool
)

// TracesCmd reads the SQLite trace journal.
var TracesCmd = &cobra.Command{
	Use:   "traces",
	Short: "Query the trace journal",
	Long: `Print trace events recorded by the sqlite exporter. The journal path
defaults to tracing.sqlite_path from the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := tracesDB
		if path == "" {
			cfg, err := LoadConfig()
			if err != nil {
				return err
			}
			path = cfg.Tracing.SQLitePath
		}

		journal, err := tracing.NewSQLiteExporter(path)
		if err != nil {
			return err
		}
		defer journal.Close(cmd.Context())

		evs, err := journal.Query(cmd.Context(), tracesSwarm, tracesLimit)
		if err != nil {
			return err
		}
		if tracesJSON {
			return PrintJSON(evs)
		}
		if len(evs) == 0 {
			fmt.Println("No trace events")
			return nil
		}
		for _, ev := range evs {
			attrs, _ := json.Marshal(ev.Attributes)
			fmt.Printf("%s  %-20s %-22s %s\n",
				time.UnixMilli(ev.Timestamp).Format(time.RFC3339), ev.SwarmID, ev.Kind, attrs)
		}
		return nil
	},
}

func init() {
	TracesCmd.Flags().StringVar(&tracesDB, "db", "", "Trace journal path")
	TracesCmd.Flags().StringVarP(&tracesSwarm, "swarm", "s", "", "Only events of this swarm id")
	TracesCmd.Flags().IntVarP(&tracesLimit, "limit", "l", 100, "Maximum events, 0 for all")
	TracesCmd.Flags().BoolVar(&tracesJSON, "json", false, "Print JSON")
}
