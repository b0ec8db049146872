package cmd

import (
	"fmt"
	"log"
	"os"

	"MixStudio/server"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "mixstudio",
	Short: "MixStudio is a multi-track audio project API.",
	Run: func(cmd *cobra.Command, args []string) {
		log.Println("Starting MixStudio server...")
		server.Start(server.Options{})
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
