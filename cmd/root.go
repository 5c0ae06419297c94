package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{
		Use:          "researcher",
		Short:        "Research briefing service",
		SilenceUsage: true,
	}

	root.AddCommand(serveCMD(), runCMD(), kbCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
