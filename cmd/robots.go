package cmd

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tablebot/app/plugins"
	"github.com/kilianp07/tablebot/config"
)

var robotsCmd = &cobra.Command{
	Use:   "robots",
	Short: "Robot related commands",
}

var robotsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List robots with their action and battery",
	RunE:  runRobotsLs,
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List the available store, lock and metrics backends",
	RunE: func(cmd *cobra.Command, args []string) error {
		b := plugins.Builtins()
		kinds := make([]string, 0, len(b))
		for k := range b {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", k, strings.Join(b[k], ", ")); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	robotsCmd.AddCommand(robotsLsCmd)
	rootCmd.AddCommand(robotsCmd, pluginsCmd)
}

func runRobotsLs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, closeFn, err := openCoordinator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	robots, err := c.ListRobots(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTION\tBATTERY\tPENDING TABLE")
	for _, r := range robots {
		pending := "-"
		if r.HasPending() {
			pending = r.Pending.TableID
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%.0f%%\t%s\n", r.ID, r.Name, r.Action, r.BatteryLevel, pending)
	}
	return w.Flush()
}
