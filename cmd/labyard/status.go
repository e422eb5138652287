package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RohitKumar027/ReliabilityPortal/internal/metrics"
)

func newStatusCmd() *cobra.Command {
	var (
		configPath string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lab load, queues and active tests",
		Long:  "Reads the saved lab snapshot and prints utilization, capacity band, lead time, machine queues and active tests. Use --watch for auto-refresh.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath, watch)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to labyard config file")
	cmd.Flags().BoolVar(&watch, "watch", false, "auto-refresh every 5 seconds")
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string, watch bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		rt, err := openRuntime(ctx, cfg, nil)
		if err != nil {
			return err
		}
		d := rt.sup.Dashboard()
		rt.Close()

		if watch && isTerminal(out) {
			// Clear screen.
			fmt.Fprint(out, "\033[2J\033[H")
		}
		fmt.Fprint(out, formatStatus(cfg.Lab.Name, d, terminalWidth(out)))

		if !watch {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(5 * time.Second):
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// terminalWidth returns the width of w when it is a terminal, else 100.
func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 40 {
			return width
		}
	}
	return 100
}

// formatStatus renders the dashboard as plain text no wider than width.
func formatStatus(labName string, d metrics.Dashboard, width int) string {
	var b strings.Builder
	rule := strings.Repeat("─", min(width, 80))

	fmt.Fprintf(&b, "%s at %s\n%s\n", labName, d.GeneratedAt.Format("2006-01-02 15:04"), rule)
	shifts := make([]string, len(d.ActiveShifts))
	for i, id := range d.ActiveShifts {
		shifts[i] = string(id)
	}
	fmt.Fprintf(&b, "Active shifts:     %s\n", strings.Join(shifts, ", "))
	fmt.Fprintf(&b, "Capacity:          %.0f (%s)\n", d.Capacity.Score, d.Capacity.Band)
	fmt.Fprintf(&b, "Machines busy:     %.1f%%\n", d.MachineUtilization)
	fmt.Fprintf(&b, "Technicians busy:  %.1f%%\n", d.TechnicianUtilization)
	fmt.Fprintf(&b, "Pending samples:   %d\n", d.PendingSamples)
	fmt.Fprintf(&b, "Lead time:         %.1fh (clears %s)\n", d.LeadTime.Hours, d.LeadTime.Completion.Format("01-02 15:04"))
	fmt.Fprintf(&b, "On time:           %.0f%% of %d requests\n", d.OnTimePercentage, d.Counters.TotalCompletions)

	if len(d.Queue) > 0 {
		fmt.Fprintf(&b, "\n%-24s %8s %8s %8s %8s\n", "MACHINE TYPE", "CAPACITY", "BUSY", "PENDING", "QUEUE")
		for _, q := range d.Queue {
			flag := ""
			if q.Overloaded {
				flag = "  overloaded"
			}
			fmt.Fprintf(&b, "%-24s %8d %8d %8d %8d%s\n", truncate(q.Type, 24), q.Capacity, q.Occupied, q.Pending, q.QueuePerMachine, flag)
		}
	}

	if len(d.ActiveTests) > 0 {
		fmt.Fprintf(&b, "\n%-22s %-20s %-16s %6s %s\n", "SAMPLE", "TEST", "TECHNICIANS", "DONE", "ETA")
		for _, at := range d.ActiveTests {
			techs := at.Technicians
			if techs == "" {
				techs = "(unattended)"
			}
			fmt.Fprintf(&b, "%-22s %-20s %-16s %5.0f%% %s\n",
				truncate(at.SampleID, 22), truncate(at.Test, 20), truncate(techs, 16),
				at.Progress, at.EstimatedCompletion.Format("01-02 15:04"))
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
