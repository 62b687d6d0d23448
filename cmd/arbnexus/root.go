package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/arbnexus/arbnexus/internal/app"
	"github.com/arbnexus/arbnexus/internal/chain"
	"github.com/arbnexus/arbnexus/internal/config"
)

func Execute(ctx context.Context) error {
	var configPath string

	root := &cobra.Command{
		Use:           "arbnexus",
		Short:         "Multi-chain DEX arbitrage engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config yaml")

	root.AddCommand(serveCmd(ctx, &configPath))
	root.AddCommand(scanCmd(ctx, &configPath))
	root.AddCommand(healthCmd(ctx, &configPath))
	return root.ExecuteContext(ctx)
}

func serveCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full engine: scanners, executor, store and observer api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func scanCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run scan-only: live opportunity discovery without execution",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// Scan-only never broadcasts, whatever the config says.
			cfg.DryRun = true
			cfg.SignerKey = ""
			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return a.Run(ctx)
		},
	}
}

func healthCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Probe every configured chain endpoint once and report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			healthy := 0
			for _, id := range cfg.ChainIDs() {
				client := chain.NewClient(id, cfg.Chains[string(id)])
				probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				block, err := client.BlockNumber(probeCtx)
				cancel()
				client.Close()

				if err != nil {
					fmt.Printf("%-12s DOWN    %v\n", id, err)
					continue
				}
				healthy++
				fmt.Printf("%-12s OK      block %d\n", id, block)
			}
			if healthy == 0 {
				return app.ErrNoHealthyEndpoints
			}
			log.Info().Int("healthy", healthy).Int("configured", len(cfg.ChainIDs())).Msg("health probe complete")
			return nil
		},
	}
}
