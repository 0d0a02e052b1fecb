package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ralphloop/ralph/internal/events"
	"github.com/ralphloop/ralph/internal/store"
)

var (
	tailFollow bool
	tailLimit  int
	tailRun    string
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the event journal, optionally following live",
	Long: `Display recent loop events: agent spawns and exits, completion claims,
detected file edits and test runs, gate results, stall and budget warnings.

With --follow, keeps polling the journal so a loop running in another
terminal can be watched live.

Examples:
  ralph tail             # last 20 events
  ralph tail -n 100      # last 100 events
  ralph tail -f          # follow live updates (Ctrl+C to stop)
  ralph tail --run 3f2a  # only events from the run whose ID starts with 3f2a`,
	Run: func(cmd *cobra.Command, args []string) {
		workspace, cfg, err := loadWorkspace()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(workspace, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: open run history: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		ctx := context.Background()

		runID := ""
		if tailRun != "" {
			run, err := findRunByPrefix(ctx, st, tailRun)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			runID = run.ID
		}

		if tailFollow {
			tailFollowLoop(ctx, st, runID)
		} else {
			tailOnce(ctx, st, runID)
		}
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVarP(&tailFollow, "follow", "f", false, "keep polling for new events (Ctrl+C to stop)")
	tailCmd.Flags().IntVarP(&tailLimit, "limit", "n", 20, "number of recent events to show initially")
	tailCmd.Flags().StringVar(&tailRun, "run", "", "only show events from this run (ID or prefix)")
}

func tailOnce(ctx context.Context, st *store.Store, runID string) {
	evs, err := st.RecentEvents(ctx, tailLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	evs = filterByRun(evs, runID)
	if len(evs) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s no events recorded yet\n\n", gray("·"))
		return
	}
	for _, ev := range evs {
		displayTailEvent(ev)
	}
}

func tailFollowLoop(ctx context.Context, st *store.Store, runID string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cyan := color.New(color.FgCyan).SprintFunc()
	fmt.Printf("\n%s following the event journal (Ctrl+C to stop)\n\n", cyan("▸"))

	evs, err := st.RecentEvents(ctx, tailLimit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	var cursor int64
	for _, ev := range evs {
		if ev.Seq > cursor {
			cursor = ev.Seq
		}
	}
	for _, ev := range filterByRun(evs, runID) {
		displayTailEvent(ev)
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nstopped")
			return
		case <-ticker.C:
			fresh, err := st.EventsAfter(ctx, cursor, 100)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			for _, ev := range fresh {
				if ev.Seq > cursor {
					cursor = ev.Seq
				}
			}
			for _, ev := range filterByRun(fresh, runID) {
				displayTailEvent(ev)
			}
		}
	}
}

func filterByRun(evs []*store.StoredEvent, runID string) []*store.StoredEvent {
	if runID == "" {
		return evs
	}
	var out []*store.StoredEvent
	for _, ev := range evs {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out
}

func displayTailEvent(ev *store.StoredEvent) {
	badge := "·"
	msgColor := color.New(color.FgWhite)
	switch ev.Severity {
	case events.SeverityWarning:
		badge = color.New(color.FgYellow).Sprint("⚠")
		msgColor = color.New(color.FgYellow)
	case events.SeverityError:
		badge = color.New(color.FgRed).Sprint("✗")
		msgColor = color.New(color.FgRed)
	}

	gray := color.New(color.FgHiBlack).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()

	iter := "  -"
	if ev.Iteration > 0 {
		iter = fmt.Sprintf("#%-2d", ev.Iteration)
	}
	fmt.Printf("%s %s %s %-20s %s\n",
		badge,
		gray(ev.Timestamp.Format("15:04:05")),
		iter,
		magenta(string(ev.Type)),
		msgColor.Sprint(ev.Message))

	if len(ev.Data) > 0 {
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("      %s %s\n", gray(k+":"), strings.TrimSpace(ev.Data[k]))
		}
	}
}
