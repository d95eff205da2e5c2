// Package main provides the semflow binary entry point.
// Semflow is a phase-gated workflow orchestrator that coordinates
// logical agent roles over NATS.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/engine"
	"github.com/c360studio/semflow/events"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semflow"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		natsURL    string
	)

	cmd := &cobra.Command{
		Use:   "semflow",
		Short: "Phase-gated workflow orchestrator",
		Long: `Semflow coordinates logical agent roles through a six-phase
development pipeline: planning, design, implementation, testing,
integration, and deployment.

The server owns all workflow state, persists a snapshot after every
change, and pauses autonomous progress while any conflict is open.
Clients talk to it over NATS request/reply; events are broadcast on
semflow.events.>.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS server URL for client commands")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath, logLevel)
		},
	})

	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default user config if none exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return config.NewLoader(newLogger(logLevel)).EnsureUserConfig()
		},
	}
	configCmd := &cobra.Command{Use: "config", Short: "Configuration operations"}
	configCmd.AddCommand(configInitCmd)
	cmd.AddCommand(configCmd)

	cmd.AddCommand(clientCommands(&natsURL)...)

	return cmd
}

func newLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func serve(configPath, logLevel string) error {
	logger := newLogger(logLevel)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	} else {
		cfg, err = config.NewLoader(logger).Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}

	ctx := context.Background()
	app := NewApp(cfg, logger)
	if err := app.Start(ctx); err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	<-signalCtx.Done()
	logger.Info("received shutdown signal")

	app.Shutdown(30 * time.Second)
	return nil
}

func clientCommands(natsURL *string) []*cobra.Command {
	withClient := func(fn func(*Client) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			return fn(client)
		}
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the engine snapshot",
		RunE: withClient(func(c *Client) error {
			data, err := c.Call(events.CmdStatus, nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		}),
	}

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the dashboard view",
		RunE: withClient(func(c *Client) error {
			data, err := c.Call(events.CmdReport, nil)
			if err != nil {
				return err
			}
			var view engine.View
			if err := json.Unmarshal(data, &view); err != nil {
				return err
			}
			printView(view)
			return nil
		}),
	}

	advanceCmd := &cobra.Command{
		Use:   "advance",
		Short: "Advance the workflow to the next phase",
		RunE: withClient(func(c *Client) error {
			data, err := c.Call(events.CmdAdvance, nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		}),
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Roll the workflow back one phase",
		RunE: withClient(func(c *Client) error {
			data, err := c.Call(events.CmdRollback, nil)
			if err != nil {
				return err
			}
			return printJSON(data)
		}),
	}

	deployCmd := &cobra.Command{
		Use:   "deploy <agent-type>",
		Short: "Register an agent for a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			data, err := client.Call(events.CmdDeploy, deployRequest{
				AgentType: engine.AgentType(args[0]),
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}

	var (
		taskAgent     string
		taskMilestone string
		taskDeps      []string
	)
	taskAddCmd := &cobra.Command{
		Use:   "add <description>",
		Short: "Enqueue a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			data, err := client.Call(events.CmdEnqueue, enqueueRequest{Task: engine.Task{
				Description: args[0],
				AgentType:   engine.AgentType(taskAgent),
				MilestoneID: taskMilestone,
				DependsOn:   taskDeps,
			}})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	taskAddCmd.Flags().StringVar(&taskAgent, "agent", "", "Agent role required for the task")
	taskAddCmd.Flags().StringVar(&taskMilestone, "milestone", "", "Milestone the task contributes to")
	taskAddCmd.Flags().StringSliceVar(&taskDeps, "depends-on", nil, "Task IDs that must complete first")
	_ = taskAddCmd.MarkFlagRequired("agent")

	var resultDuration int64
	var resultDetail string
	taskResultCmd := &cobra.Command{
		Use:   "result <task-id> <completed|failed>",
		Short: "Report a task outcome",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			data, err := client.Call(events.CmdTaskResult, taskResultRequest{
				TaskID:     args[0],
				Status:     engine.TaskStatus(args[1]),
				DurationMs: resultDuration,
				Detail:     resultDetail,
			})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	taskResultCmd.Flags().Int64Var(&resultDuration, "duration-ms", 0, "Task execution duration in milliseconds")
	taskResultCmd.Flags().StringVar(&resultDetail, "detail", "", "Result output or error detail")

	taskProgressCmd := &cobra.Command{
		Use:   "progress <task-id> <0..1>",
		Short: "Report task progress",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			progress, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return fmt.Errorf("parse progress: %w", err)
			}
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			_, err = client.Call(events.CmdTaskProgress, taskProgressRequest{
				TaskID:   args[0],
				Progress: progress,
			})
			return err
		},
	}

	taskCmd := &cobra.Command{Use: "task", Short: "Task operations"}
	taskCmd.AddCommand(taskAddCmd, taskResultCmd, taskProgressCmd)

	var (
		conflictAgent    string
		conflictSeverity string
		conflictModule   string
		conflictDesc     string
		conflictRec      string
	)
	conflictReportCmd := &cobra.Command{
		Use:   "report <title>",
		Short: "Report a blocking conflict (pauses the workflow)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			data, err := client.Call(events.CmdConflictReport, conflictReportRequest{Conflict: engine.Conflict{
				Title:          args[0],
				AgentType:      engine.AgentType(conflictAgent),
				Severity:       engine.Severity(conflictSeverity),
				AffectedModule: conflictModule,
				Description:    conflictDesc,
				Recommendation: conflictRec,
			}})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}
	conflictReportCmd.Flags().StringVar(&conflictAgent, "agent", "", "Agent role that detected the conflict")
	conflictReportCmd.Flags().StringVar(&conflictSeverity, "severity", "medium", "Severity (low, medium, high, critical)")
	conflictReportCmd.Flags().StringVar(&conflictModule, "module", "", "Affected module")
	conflictReportCmd.Flags().StringVar(&conflictDesc, "description", "", "Conflict description")
	conflictReportCmd.Flags().StringVar(&conflictRec, "recommendation", "", "Suggested resolution")
	_ = conflictReportCmd.MarkFlagRequired("module")

	conflictResolveCmd := &cobra.Command{
		Use:   "resolve <conflict-id>",
		Short: "Resolve a conflict (resumes when none remain active)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			data, err := client.Call(events.CmdConflictResolve, conflictResolveRequest{ConflictID: args[0]})
			if err != nil {
				return err
			}
			return printJSON(data)
		},
	}

	conflictCmd := &cobra.Command{Use: "conflict", Short: "Conflict operations"}
	conflictCmd.AddCommand(conflictReportCmd, conflictResolveCmd)

	validateCmd := &cobra.Command{
		Use:     "validate <phase> <passed|failed>",
		Aliases: []string{"test"},
		Short:   "Record an external validation signal for a phase",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			phase, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("parse phase: %w", err)
			}
			client, err := NewClient(*natsURL)
			if err != nil {
				return err
			}
			defer client.Close()
			_, err = client.Call(events.CmdValidation, validationRequest{
				Phase:  phase,
				Passed: args[1] == "passed",
			})
			return err
		},
	}

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Stream live events until interrupted",
		RunE: withClient(func(c *Client) error {
			stop := make(chan struct{})
			signalCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			go func() {
				<-signalCtx.Done()
				close(stop)
			}()
			return c.Watch(stop, func(env events.Envelope) {
				fmt.Printf("%s  %-24s %s\n",
					env.Timestamp.Format(time.RFC3339),
					env.Event,
					string(env.Payload))
			})
		}),
	}

	return []*cobra.Command{
		statusCmd, reportCmd, advanceCmd, rollbackCmd, deployCmd,
		taskCmd, conflictCmd, validateCmd, dashboardCmd,
	}
}

func printJSON(data json.RawMessage) error {
	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func printView(view engine.View) {
	fmt.Printf("Status: %s   Phase %d (%s)   Progress %.0f%%\n",
		view.Status, view.CurrentPhase, view.PhaseName, view.OverallProgress*100)
	fmt.Println()
	for _, p := range view.Phases {
		marker := " "
		switch {
		case p.Completed:
			marker = "x"
		case p.Current:
			marker = ">"
		}
		fmt.Printf("[%s] %d %-15s %3.0f%%\n", marker, p.ID, p.Name, p.Progress*100)
		for _, m := range p.Milestones {
			fmt.Printf("      - %-25s %s\n", m.ID, m.Status)
		}
	}
	fmt.Println()
	fmt.Printf("Tasks: %d total (%d pending, %d active, %d waiting, %d completed, %d failed)\n",
		view.Tasks.Total, view.Tasks.Pending, view.Tasks.Active,
		view.Tasks.Waiting, view.Tasks.Completed, view.Tasks.Failed)
	if len(view.Agents) > 0 {
		fmt.Println()
		fmt.Println("Agents:")
		for _, a := range view.Agents {
			state := "idle"
			if !a.IsActive {
				state = "inactive"
			} else if a.ActiveTasks > 0 {
				state = fmt.Sprintf("%d active", a.ActiveTasks)
			}
			fmt.Printf("  %-12s %-10s success %.0f%%  avg %.0fms\n",
				a.Type, state, a.SuccessRate*100, a.Metrics.AverageCompletionTimeMs)
		}
	}
	if len(view.Conflicts) > 0 {
		fmt.Println()
		fmt.Println("Active conflicts:")
		for _, c := range view.Conflicts {
			fmt.Printf("  [%s] %s (%s): %s\n", c.Severity, c.ID, c.AffectedModule, c.Title)
		}
	}
}
