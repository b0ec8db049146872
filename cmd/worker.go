package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"MixStudio/config"
	"MixStudio/core/worker"

	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "检查音频 Worker 是否在线",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		client := worker.NewClient(cfg.WorkerURL, cfg.WorkerTimeout)
		fmt.Printf("Worker: %s (timeout %s)\n", client.BaseURL(), cfg.WorkerTimeout)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		status, err := client.Health(ctx)
		if err != nil {
			log.Fatalf("Worker 不可用: %v", err)
		}
		for k, v := range status {
			fmt.Printf("  %s: %v\n", k, v)
		}
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
