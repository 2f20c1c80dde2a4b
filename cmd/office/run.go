package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dotagent/office/internal/config"
	"github.com/dotagent/office/internal/event"
	"github.com/dotagent/office/internal/officeclient"
	"github.com/spf13/cobra"
)

var (
	runServer   string
	runMode     string
	runPassword string
	runJSON     bool
)

var runCmd = &cobra.Command{
	Use:   "run <mission>",
	Short: "Run a mission against a server and print the team log",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !config.ValidMode(runMode) {
			return fmt.Errorf("invalid mode %q: must be simulation, hybrid, or real", runMode)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runMission(ctx, cmd.OutOrStdout(), strings.Join(args, " "))
	},
}

func init() {
	runCmd.Flags().StringVar(&runServer, "server", "http://localhost:8080", "office server URL")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", config.ModeSimulation, "execution mode (simulation, hybrid, real)")
	runCmd.Flags().StringVar(&runPassword, "password", os.Getenv("OFFICE_WEB_PASSWORD"), "server password")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the final state as JSON")
	rootCmd.AddCommand(runCmd)
}

func runMission(ctx context.Context, out io.Writer, mission string) error {
	client := officeclient.New(runServer, officeclient.WithPassword(runPassword))
	printed := 0
	client.OnEvent = func(ev event.Event, s *officeclient.State) {
		if runJSON {
			return
		}
		for ; printed < len(s.Logs); printed++ {
			fmt.Fprintln(out, formatLog(s.Logs[printed]))
		}
	}

	state, err := client.Run(ctx, mission, runMode)
	if state != nil && runJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(state); encErr != nil {
			return fmt.Errorf("encode state: %w", encErr)
		}
	}
	if err != nil {
		return err
	}
	if state.Err != "" {
		return fmt.Errorf("mission failed: %s", state.Err)
	}

	if !runJSON {
		fmt.Fprintf(out, "\n%d deliverables, %d collaborations, %d tasks", len(state.Deliverables), len(state.Collaborations), len(state.Tasks))
		if state.Cache != officeclient.CacheUnknown {
			fmt.Fprintf(out, ", cache %s", state.Cache)
		}
		fmt.Fprintln(out)
	}
	return nil
}

func formatLog(l officeclient.LogEntry) string {
	ts := l.Timestamp.Local().Format("15:04:05")
	if l.AgentID != "" {
		return fmt.Sprintf("%s %-8s %s: %s", ts, l.Type, strings.ToUpper(string(l.AgentID)), l.Content)
	}
	return fmt.Sprintf("%s %-8s %s", ts, l.Type, l.Content)
}
