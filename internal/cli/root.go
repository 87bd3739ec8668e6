// Package cli 实现 chemresponse 命令行：单次生成预案、启动服务与检查事故描述。
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ChemResponse-Chain/internal/config"
	"ChemResponse-Chain/pkg/logger"
)

var version = "dev"

// SetVersion 设置构建版本号。
func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "chemresponse",
	Short: "危化品事故应急预案生成工具",
	Long: `chemresponse 将一段事故描述依次交给大模型完成情景分析、影响评估与响应计划，
并把结果整理为应急预案文档。`,
	SilenceUsage: true,
}

// Execute 运行根命令，ctx 取消时正在执行的子命令随之退出。
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认读取 "+config.EnvConfigPath+"）")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkInputCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "打印版本号",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "chemresponse "+version)
	},
}

// loadConfig 读取配置并按其初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	outputs := cfg.Logging.Outputs
	if len(outputs) == 0 {
		// 标准输出留给预案 JSON。
		outputs = []string{"stderr"}
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}
