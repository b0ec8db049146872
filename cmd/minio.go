package cmd

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"MixStudio/config"
	"MixStudio/storage"

	"github.com/spf13/cobra"
)

var (
	minioPrefix    string
	minioStats     bool
	minioRecursive bool
	minioDelete    bool
)

var minioCmd = &cobra.Command{
	Use:   "minio",
	Short: "MinIO存储桶管理",
	Long:  `查看和管理上传镜像所在的MinIO存储桶，支持列出文件、查看统计信息、递归显示目录结构、删除目录。`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		if !cfg.MinioEnabled() {
			log.Fatal("MINIO_ENDPOINT 为空，上传镜像已禁用")
		}
		fmt.Printf("MinIO配置: %s, Bucket: %s\n", cfg.MinioEndpoint, cfg.MinioBucket)

		store, err := storage.NewMinioStore(cfg)
		if err != nil {
			log.Fatalf("创建MinIO客户端失败: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if minioDelete {
			if minioPrefix == "" {
				log.Fatal("删除操作需要指定目录前缀")
			}
			fmt.Printf("\n删除目录: %s\n", minioPrefix)
			n, err := store.DeletePrefix(ctx, minioPrefix)
			if err != nil {
				log.Fatalf("删除目录失败: %v", err)
			}
			fmt.Printf("已删除 %d 个文件\n", n)
			return
		}

		objects, stats, err := store.List(ctx, minioPrefix, minioRecursive || minioStats)
		if err != nil {
			log.Fatalf("列出文件失败: %v", err)
		}

		if minioStats {
			printStats(store.Bucket(), stats)
			return
		}

		fmt.Printf("\n存储桶 %s 中的文件 (前缀: %q)\n", store.Bucket(), minioPrefix)
		for _, obj := range objects {
			fmt.Printf("  %-60s %10s  %s\n", obj.Key, storage.FormatSize(obj.Size), obj.LastModified.Format(time.DateTime))
		}
		fmt.Printf("\n共 %d 个对象，%s\n", stats.TotalObjects, storage.FormatSize(stats.TotalSize))
	},
}

func printStats(bucket string, stats *storage.BucketStats) {
	fmt.Printf("\n存储桶: %s\n", bucket)
	fmt.Printf("文件总数: %d\n", stats.TotalObjects)
	fmt.Printf("总大小: %s\n", storage.FormatSize(stats.TotalSize))
	if !stats.LastModified.IsZero() {
		fmt.Printf("最后修改: %s\n", stats.LastModified.Format(time.DateTime))
	}

	exts := make([]string, 0, len(stats.ByExtension))
	for ext := range stats.ByExtension {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	fmt.Println("按扩展名:")
	for _, ext := range exts {
		fmt.Printf("  %-10s %d\n", ext, stats.ByExtension[ext])
	}
}

func init() {
	rootCmd.AddCommand(minioCmd)

	minioCmd.Flags().StringVarP(&minioPrefix, "prefix", "p", "", "按前缀过滤文件或指定要操作的目录")
	minioCmd.Flags().BoolVarP(&minioStats, "stats", "s", false, "显示存储桶统计信息")
	minioCmd.Flags().BoolVarP(&minioRecursive, "recursive", "r", false, "递归显示目录结构")
	minioCmd.Flags().BoolVarP(&minioDelete, "delete", "d", false, "删除指定目录及其下的所有文件")

	minioCmd.Example = `  # 列出所有文件
  mixstudio minio

  # 显示上传目录统计
  mixstudio minio -s -p "uploads/"

  # 递归列出
  mixstudio minio -r -p "uploads/"

  # 删除目录及其下的所有文件
  mixstudio minio -d -p "uploads/tmp/"`
}
