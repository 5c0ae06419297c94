package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/mohammad-safakhou/researcher/config"
	"github.com/mohammad-safakhou/researcher/internal/logging"
	srv "github.com/mohammad-safakhou/researcher/internal/server"
	"github.com/mohammad-safakhou/researcher/provider"
	"github.com/mohammad-safakhou/researcher/tools/embedding"
	"github.com/mohammad-safakhou/researcher/utils"
	"github.com/spf13/cobra"
)

func kbCMD() *cobra.Command {
	var cfgPath string
	kb := &cobra.Command{
		Use:   "kb",
		Short: "Inspect the knowledge base",
	}
	kb.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	var topK int
	var paths []string
	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Load the knowledge base and run a query against it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			logging.Setup(cfg.General)
			kbCfg := cfg.Sources.KnowledgeBase
			if len(paths) > 0 {
				kbCfg.Paths = paths
			}

			var emb *embedding.Embedding
			if p, err := provider.NewProvider(cfg.LLM); err == nil && kbCfg.Embeddings {
				emb = embedding.NewEmbedding(p, 0)
			}

			ctx := context.Background()
			app := &srv.App{}
			defer app.Close()
			searcher, err := srv.BuildKnowledge(ctx, kbCfg, emb, app)
			if err != nil {
				return err
			}
			hits, err := searcher.Hits(ctx, args[0], topK)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RANK\tSCORE\tTITLE\tSNIPPET")
			for _, h := range hits {
				fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", h.Rank, h.Score, h.Title, utils.Ellipsize(strings.Join(strings.Fields(h.Snippet), " "), 80))
			}
			return w.Flush()
		},
	}
	search.Flags().IntVarP(&topK, "top-k", "k", 5, "number of hits")
	search.Flags().StringSliceVar(&paths, "path", nil, "document paths (overrides sources.knowledge_base.paths)")

	kb.AddCommand(search)
	return kb
}
