package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
)

var (
	watchType string
	watchJSON bool
)

// WatchCmd streams live swarm events.
var WatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live swarm events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		err := NewClient().Events(ctx, events.EventType(watchType), func(ev events.Event) error {
			if watchJSON {
				line, err := json.Marshal(ev)
				if err != nil {
					return err
				}
				fmt.Println(string(line))
				return nil
			}
			fmt.Println(formatEvent(ev))
			return nil
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func formatEvent(ev events.Event) string {
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05.000")
	p := ev.Payload
	switch ev.Type {
	case events.EventTaskAssigned:
		return fmt.Sprintf("%s %-20s %v -> %v (%v)", ts, ev.Type, p["taskId"], p["workerId"], p["taskType"])
	case events.EventTaskCompleted:
		return fmt.Sprintf("%s %-20s %v by %v in %vms", ts, ev.Type, p["taskId"], p["workerId"], p["duration"])
	case events.EventTaskFailed:
		return fmt.Sprintf("%s %-20s %v by %v: %v", ts, ev.Type, p["taskId"], p["workerId"], p["error"])
	case events.EventWorkerSpawned, events.EventWorkerRemoved:
		return fmt.Sprintf("%s %-20s %v (%v)", ts, ev.Type, p["workerId"], p["type"])
	case events.EventConsensusProposed:
		return fmt.Sprintf("%s %-20s %v %q by %v", ts, ev.Type, p["proposalId"], p["topic"], p["proposer"])
	case events.EventConsensusResolved:
		return fmt.Sprintf("%s %-20s %v %v (%v/%v)", ts, ev.Type, p["proposalId"], p["status"], p["approvals"], p["votes"])
	default:
		return fmt.Sprintf("%s %-20s %v", ts, ev.Type, p)
	}
}

func init() {
	WatchCmd.Flags().StringVarP(&watchType, "type", "t", "", "Only stream this event type, e.g. task:completed")
	WatchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print raw JSON lines")
}
