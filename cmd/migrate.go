package cmd

import (
	"fmt"
	"log"

	"MixStudio/config"
	"MixStudio/db"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "创建或更新数据库表结构",
	Long:  `创建 users 表，并通过 GORM 自动迁移 projects、tracks、processing_jobs 表。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()

		if err := db.ConnectDB(cfg); err != nil {
			log.Fatalf("连接数据库失败: %v", err)
		}
		defer db.CloseDB()
		if err := db.InitDB(); err != nil {
			log.Fatalf("初始化 users 表失败: %v", err)
		}

		if err := db.ConnectGormDB(cfg); err != nil {
			log.Fatalf("连接 GORM 失败: %v", err)
		}
		defer db.CloseGormDB()
		if err := db.AutoMigrateModels(); err != nil {
			log.Fatalf("自动迁移失败: %v", err)
		}

		fmt.Println("数据库迁移完成")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
