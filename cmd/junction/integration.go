package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/junctionhq/junction/pkg/client"
	"github.com/junctionhq/junction/pkg/types"
)

func hubClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("hub")
	return client.NewClient(addr)
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

var integrationCmd = &cobra.Command{
	Use:     "integration",
	Aliases: []string{"int"},
	Short:   "Manage integrations",
}

var integrationRegisterCmd = &cobra.Command{
	Use:   "register <name>",
	Short: "Register a new integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		configJSON, _ := cmd.Flags().GetString("config")
		skipHealth, _ := cmd.Flags().GetBool("skip-health-check")
		autoPort, _ := cmd.Flags().GetBool("auto-port")

		var cfg types.Config
		if configJSON != "" {
			if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
				return fmt.Errorf("invalid --config JSON: %v", err)
			}
		}

		rec, err := hubClient(cmd).Register(cmd.Context(), types.RegisterRequest{
			Name:   args[0],
			Type:   types.IntegrationType(typeName),
			Config: cfg,
			Options: types.RegisterOptions{
				SkipHealthCheck: skipHealth,
				AutoDetectPort:  autoPort,
			},
		})
		if err != nil {
			return err
		}

		fmt.Printf("✓ Registered %s (%s)\n", rec.Name, rec.ID)
		if rec.OriginalPort != 0 {
			fmt.Printf("  Port %d was taken, moved to %d\n", rec.OriginalPort, rec.AllocatedPort)
		}
		return nil
	},
}

var integrationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List integrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		typeName, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")

		recs, err := hubClient(cmd).List(cmd.Context(), types.ListFilter{
			Type:   types.IntegrationType(typeName),
			Status: types.IntegrationStatus(status),
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tSTATUS\tPORT")
		for _, rec := range recs {
			port := "-"
			if rec.AllocatedPort != 0 {
				port = fmt.Sprintf("%d", rec.AllocatedPort)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", rec.ID, rec.Name, rec.Type, rec.Status, port)
		}
		return w.Flush()
	},
}

var integrationGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := hubClient(cmd).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var integrationEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Re-activate a disabled integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := hubClient(cmd).Enable(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Enabled")
		return nil
	},
}

var integrationDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Pause an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := hubClient(cmd).Disable(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("✓ Disabled")
		return nil
	},
}

var integrationTestCmd = &cobra.Command{
	Use:   "test <id>",
	Short: "Run a one-shot health probe",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		result, err := hubClient(cmd).Test(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if result.Success {
			fmt.Printf("✓ %s\n", result.Message)
		} else {
			fmt.Printf("✗ %s\n", result.Message)
		}
		return nil
	},
}

var integrationMetricsCmd = &cobra.Command{
	Use:   "metrics <id>",
	Short: "Show an integration's counters",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := hubClient(cmd).GetMetrics(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(m)
	},
}

var integrationRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Deintegrate an integration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy, _ := cmd.Flags().GetString("policy")
		preserve, _ := cmd.Flags().GetBool("preserve-data")
		force, _ := cmd.Flags().GetBool("force")
		at, _ := cmd.Flags().GetString("at")

		opts := types.DeintegrateOptions{
			Policy:       types.CleanupPolicy(policy),
			PreserveData: preserve,
			Force:        force,
		}
		if at != "" {
			when, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("invalid --at (want RFC3339): %v", err)
			}
			opts.At = when
		}

		run, err := hubClient(cmd).Deintegrate(cmd.Context(), args[0], opts)
		if err != nil {
			return err
		}

		fmt.Printf("Deintegration %s: %s\n", run.ID, run.Status)
		for _, step := range run.Steps {
			fmt.Printf("  %-20s %s\n", step.Name, step.Status)
		}
		return nil
	},
}

var deintegrationCmd = &cobra.Command{
	Use:     "deintegration",
	Aliases: []string{"deint"},
	Short:   "Inspect and resume teardown runs",
}

var deintegrationGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one teardown run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := hubClient(cmd).GetDeintegration(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(run)
	},
}

var deintegrationConfirmCmd = &cobra.Command{
	Use:   "confirm <id>",
	Short: "Resume a teardown awaiting manual confirmation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := hubClient(cmd).ConfirmManual(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Deintegration %s: %s\n", run.ID, run.Status)
		return nil
	},
}

var deintegrationReintegrateCmd = &cobra.Command{
	Use:   "reintegrate <id>",
	Short: "Rebuild an integration from its preserved state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec, err := hubClient(cmd).Reintegrate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Reintegrated %s (%s)\n", rec.Name, rec.ID)
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the hub's event history",
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		limit, _ := cmd.Flags().GetInt("limit")

		events, err := hubClient(cmd).Events(cmd.Context(), topic, limit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tTOPIC\tID")
		for _, ev := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339), ev.Topic, ev.ID)
		}
		return w.Flush()
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger a discovery sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := hubClient(cmd).Scan(cmd.Context())
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No new services found")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("✓ Discovered %s (%s, %s)\n", rec.Name, rec.Type, rec.ID)
		}
		return nil
	},
}

func init() {
	integrationRegisterCmd.Flags().String("type", "", "Integration type (web-ui, api-service, ...)")
	integrationRegisterCmd.Flags().String("config", "", "Integration config as JSON")
	integrationRegisterCmd.Flags().Bool("skip-health-check", false, "Skip the initial health probe")
	integrationRegisterCmd.Flags().Bool("auto-port", false, "Auto-detect a port from the type default")
	_ = integrationRegisterCmd.MarkFlagRequired("type")

	integrationListCmd.Flags().String("type", "", "Filter by type")
	integrationListCmd.Flags().String("status", "", "Filter by status")

	integrationRemoveCmd.Flags().String("policy", "immediate", "Cleanup policy (immediate, graceful, scheduled, manual)")
	integrationRemoveCmd.Flags().Bool("preserve-data", false, "Snapshot state for later re-integration")
	integrationRemoveCmd.Flags().Bool("force", false, "Skip the in-flight work check")
	integrationRemoveCmd.Flags().String("at", "", "Execution time for the scheduled policy (RFC3339)")

	eventsCmd.Flags().String("topic", "", "Filter by topic pattern")
	eventsCmd.Flags().Int("limit", 50, "Maximum number of events")

	integrationCmd.AddCommand(integrationRegisterCmd)
	integrationCmd.AddCommand(integrationListCmd)
	integrationCmd.AddCommand(integrationGetCmd)
	integrationCmd.AddCommand(integrationEnableCmd)
	integrationCmd.AddCommand(integrationDisableCmd)
	integrationCmd.AddCommand(integrationTestCmd)
	integrationCmd.AddCommand(integrationMetricsCmd)
	integrationCmd.AddCommand(integrationRemoveCmd)

	deintegrationCmd.AddCommand(deintegrationGetCmd)
	deintegrationCmd.AddCommand(deintegrationConfirmCmd)
	deintegrationCmd.AddCommand(deintegrationReintegrateCmd)
}
