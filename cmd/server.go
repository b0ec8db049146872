package cmd

import (
	"MixStudio/server"

	"github.com/spf13/cobra"
)

var inMemory bool

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动 MixStudio 服务器",
	Long:  `启动 MixStudio 的 HTTP API，负责工程、音轨管理以及向音频 Worker 派发处理任务`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start(server.Options{InMemory: inMemory})
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().BoolVar(&inMemory, "in-memory", false, "使用内存存储代替 MySQL（数据在进程退出后丢失）")
}
