package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/tablebot/app"
	_ "github.com/kilianp07/tablebot/app/plugins"
	"github.com/kilianp07/tablebot/config"
	"github.com/kilianp07/tablebot/core/dispatch"
	corestore "github.com/kilianp07/tablebot/core/store"
	"github.com/kilianp07/tablebot/infra/logger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the configured tables, robots and menu items",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// openCoordinator builds a coordinator on the configured store without
// starting any transport.
func openCoordinator(cfg *config.Config) (*dispatch.Coordinator, func() error, error) {
	st, err := corestore.NewStore(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("store %s: %w", cfg.Store.Type, err)
	}
	c, err := dispatch.NewCoordinator(st, nil, cfg.Dispatch, logger.New("coordinator"), nil, nil)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	return c, st.Close, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	c, closeFn, err := openCoordinator(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeFn() }()
	return app.Seed(context.Background(), c, cfg.Seed, logger.New("seed"))
}
