package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"

	"github.com/blackms/flyswarm-go/internal/infrastructure/events"
	"github.com/blackms/flyswarm-go/internal/infrastructure/httpapi"
	"github.com/blackms/flyswarm-go/internal/shared"
)

const dashboardEventLines = 200

var dashboardInterval time.Duration

// DashboardCmd opens a terminal dashboard for a running server.
var DashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Live terminal dashboard",
	Long:  `Show workers, task counters, proposals and the live event stream. Press q or F10 to quit, b to submit the demonstration batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDashboard(cmd.Context(), NewClient(), dashboardInterval)
	},
}

func runDashboard(parent context.Context, c *httpapi.Client, interval time.Duration) error {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	app := tview.NewApplication()

	workersTable := tview.NewTable().SetBorders(false)
	workersTable.SetTitle("Workers").SetBorder(true)

	countsView := tview.NewTextView().SetDynamicColors(true)
	countsView.SetTitle("Tasks").SetBorder(true)

	proposalsTable := tview.NewTable().SetBorders(false)
	proposalsTable.SetTitle("Consensus").SetBorder(true)

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetMaxLines(dashboardEventLines)
	eventsView.SetTitle("Events").SetBorder(true)

	statusView := tview.NewTextView().SetDynamicColors(true)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Connected to %s | q quit, b batch, F5 refresh", ServerURL))

	left := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(workersTable, 0, 3, false).
		AddItem(countsView, 6, 0, false)
	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(proposalsTable, 0, 1, false).
		AddItem(eventsView, 0, 2, false)
	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(tview.NewFlex().
			AddItem(left, 0, 1, false).
			AddItem(right, 0, 2, false), 0, 1, false).
		AddItem(statusView, 3, 0, false)

	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() { statusView.SetText(msg) })
	}

	refresh := func() {
		st, err := c.Status(ctx)
		if err != nil {
			if ctx.Err() == nil {
				setStatusAsync(fmt.Sprintf("[red]status error: %v", err))
			}
			return
		}
		app.QueueUpdateDraw(func() {
			renderWorkers(workersTable, st.Workers)
			countsView.SetText(renderCounts(st.SwarmStatus))
			renderProposals(proposalsTable, st.Proposals)
			workersTable.SetTitle(fmt.Sprintf("Workers (%s, %s/%s)", st.SwarmID, st.Region, st.Instance))
		})
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch {
		case event.Key() == tcell.KeyF10, event.Key() == tcell.KeyRune && event.Rune() == 'q':
			app.Stop()
			return nil
		case event.Key() == tcell.KeyF5:
			go refresh()
			return nil
		case event.Key() == tcell.KeyRune && event.Rune() == 'b':
			go func() {
				out, err := c.Batch(ctx)
				if err != nil {
					setStatusAsync(fmt.Sprintf("[red]batch failed: %v", err))
					return
				}
				setStatusAsync(fmt.Sprintf("[green]%s: %d tasks, proposal %s", out.Message, len(out.Tasks), out.ConsensusProposal.ID))
				refresh()
			}()
			return nil
		}
		return event
	})

	go func() {
		err := c.Events(ctx, "", func(ev events.Event) error {
			line := tview.Escape(formatEvent(ev))
			app.QueueUpdateDraw(func() {
				fmt.Fprintf(eventsView, "[%s]%s[-]\n", eventColor(ev.Type), line)
				eventsView.ScrollToEnd()
			})
			return nil
		})
		if err != nil && ctx.Err() == nil {
			setStatusAsync(fmt.Sprintf("[red]event stream ended: %v", err))
		}
	}()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		refresh()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()

	return app.SetRoot(root, true).Run()
}

func renderWorkers(table *tview.Table, workers []shared.Worker) {
	table.Clear()
	headers := []string{"Worker", "Type", "Status", "Task", "Done", "Avg ms", "Success"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, w := range workers {
		row := i + 1
		color := tcell.ColorGreen
		if w.Status == shared.WorkerStatusBusy {
			color = tcell.ColorYellow
		}
		table.SetCell(row, 0, tview.NewTableCell(w.ID))
		table.SetCell(row, 1, tview.NewTableCell(string(w.Type)))
		table.SetCell(row, 2, tview.NewTableCell(string(w.Status)).SetTextColor(color))
		table.SetCell(row, 3, tview.NewTableCell(w.CurrentTask))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprint(w.Performance.TasksCompleted)))
		table.SetCell(row, 5, tview.NewTableCell(fmt.Sprintf("%.0f", w.Performance.AverageTime)))
		table.SetCell(row, 6, tview.NewTableCell(fmt.Sprintf("%.0f%%", w.Performance.SuccessRate*100)))
	}
}

func renderCounts(st shared.SwarmStatus) string {
	return fmt.Sprintf("active    [yellow]%d[-]\nqueued    %d\ncompleted [green]%d[-]\nfailed    [red]%d[-]",
		st.ActiveTaskCount, st.QueuedTaskCount, st.CompletedTaskCount, st.FailedTaskCount)
}

func renderProposals(table *tview.Table, proposals []shared.ConsensusProposal) {
	table.Clear()
	headers := []string{"Proposal", "Topic", "Status", "Votes", "Threshold"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, p := range proposals {
		row := i + 1
		approvals := 0
		for _, v := range p.Votes {
			if v {
				approvals++
			}
		}
		status := string(p.Status)
		if p.Expired {
			status += " (expired)"
		}
		table.SetCell(row, 0, tview.NewTableCell(p.ID))
		table.SetCell(row, 1, tview.NewTableCell(trimLine(p.Topic, 32)))
		table.SetCell(row, 2, tview.NewTableCell(status).SetTextColor(proposalColor(p.Status)))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d/%d of %d", approvals, len(p.Votes), len(p.Participants))))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%.2f", p.Threshold)))
	}
}

func proposalColor(s shared.ProposalStatus) tcell.Color {
	switch s {
	case shared.ProposalStatusApproved:
		return tcell.ColorGreen
	case shared.ProposalStatusRejected:
		return tcell.ColorRed
	default:
		return tcell.ColorYellow
	}
}

func eventColor(t events.EventType) string {
	switch {
	case t == events.EventTaskFailed:
		return "red"
	case t == events.EventTaskCompleted:
		return "green"
	case strings.HasPrefix(string(t), "consensus:"):
		return "aqua"
	case strings.HasPrefix(string(t), "worker:"):
		return "gray"
	default:
		return "white"
	}
}

func trimLine(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func init() {
	DashboardCmd.Flags().DurationVarP(&dashboardInterval, "interval", "i", 2*time.Second, "Refresh interval")
}
