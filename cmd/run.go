package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/logging"
	srv "github.com/mohammad-safakhou/researcher/internal/server"
	"github.com/mohammad-safakhou/researcher/models"
	"github.com/spf13/cobra"
)

// runCMD performs a single research request end to end, approving the first
// --approve sources without a reviewer.
func runCMD() *cobra.Command {
	var cfgPath string
	var maxSources, approve int
	var deep bool
	var run = &cobra.Command{
		Use:   "run [query]",
		Short: "Research a query once and print the briefing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.General)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			app, err := srv.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()
			defer app.Manager.Shutdown(context.Background())

			opts := models.DefaultResearchOptions(maxSources)
			if deep {
				opts.SearchDepth = models.DepthDeep
			}
			s, err := app.Manager.Create(ctx, args[0], opts)
			if err != nil {
				return err
			}
			if err := app.Manager.Wait(ctx, s.ID); err != nil {
				return err
			}
			s, err = app.Manager.Status(s.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var ids []int
			for _, src := range s.Sources {
				if approve > 0 && len(ids) >= approve {
					break
				}
				ids = append(ids, src.ID)
				fmt.Fprintf(out, "[%d] %s: %s (%s)\n", src.ID, src.Type, src.Title, src.Source)
			}
			if _, err := app.Manager.Approve(ctx, s.ID, ids); err != nil {
				return err
			}
			if err := app.Manager.Wait(ctx, s.ID); err != nil {
				return err
			}
			b, err := app.Manager.Briefing(s.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s\n\n-- %d sources, %d words\n", b.Content, b.Metadata.SourcesUsed, b.Metadata.WordCount)
			return nil
		},
	}
	run.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")
	run.Flags().IntVar(&maxSources, "max-sources", 0, "source cap (default research.max_sources)")
	run.Flags().IntVar(&approve, "approve", 0, "approve only the first N sources (0 approves all)")
	run.Flags().BoolVar(&deep, "deep", false, "deep search: more queries and full page text")
	return run
}
