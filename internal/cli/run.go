package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ChemResponse-Chain/internal/agent"
	"ChemResponse-Chain/internal/llm"
	"ChemResponse-Chain/internal/pipeline"
	"ChemResponse-Chain/internal/report"
)

var runCmd = &cobra.Command{
	Use:   "run [事故描述]",
	Short: "同步生成一份应急预案",
	Long: `依次执行情景分析、影响评估与响应计划三个阶段，把预案写入 report.dir（或 S3），
并在标准输出打印预案 JSON。某个阶段没有可用回复时使用兜底对象继续执行。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if out, _ := cmd.Flags().GetString("out"); out != "" {
			cfg.Report.Driver = "file"
			cfg.Report.Dir = out
		}
		numResponses := cfg.Pipeline.NumResponses
		if n, _ := cmd.Flags().GetInt("num-responses"); n > 0 {
			numResponses = n
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")
		runID, _ := cmd.Flags().GetString("id")

		ctx := cmd.Context()
		var cleanup closers
		defer cleanup.close()

		client, sampler, err := buildLLM(ctx, cfg.LLM, &cleanup)
		if err != nil {
			return err
		}
		sink, err := buildSink(cfg.Report)
		if err != nil {
			return err
		}

		kb, err := buildKnowledge(cfg.Knowledge)
		if err != nil {
			return err
		}
		ag := agent.New(client, sink,
			agent.WithNumResponses(numResponses),
			agent.WithKnowledge(kb),
			agent.WithRunTimeout(timeout),
			agent.WithAlertDispatcher(buildAlerter(cfg.Alerting)),
		)
		result, err := ag.Execute(ctx, agent.RunRequest{ID: runID, Input: input})
		if err != nil {
			return err
		}
		printRunSummary(cmd, result, sampler)
		return nil
	},
}

func init() {
	runCmd.Flags().StringP("file", "f", "", "从文件读取事故描述，- 表示标准输入")
	runCmd.Flags().StringP("out", "o", "", "预案输出目录，覆盖配置中的 report 设置")
	runCmd.Flags().IntP("num-responses", "n", 0, "每个阶段的采样数，0 表示使用配置值")
	runCmd.Flags().Duration("timeout", 10*time.Minute, "整次运行的超时时间，0 表示不限制")
	runCmd.Flags().String("id", "", "运行 ID，默认自动生成")
}

func printRunSummary(cmd *cobra.Command, result *agent.RunResult, sampler *llm.Sampler) {
	doc, err := pipeline.MarshalDocument(result.Report)
	if err == nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(doc))
	}
	errOut := cmd.ErrOrStderr()
	fmt.Fprintf(errOut, "运行 %s 完成，耗时 %s\n", result.RunID, result.Duration.Round(time.Millisecond))
	if result.Location != "" {
		fmt.Fprintf(errOut, "预案已保存至 %s（%s, %s）\n", result.Location, report.PlanFile, report.DebugFile)
	}
	if len(result.FallbackStages) > 0 {
		fmt.Fprintf(errOut, "以下阶段使用了兜底结果: %v\n", result.FallbackStages)
	}
	if len(result.MissingInput) > 0 {
		fmt.Fprintf(errOut, "事故描述缺少: %v\n", result.MissingInput)
	}
	if len(result.References) > 0 {
		names := make([]string, 0, len(result.References))
		for _, ref := range result.References {
			names = append(names, ref.Name)
		}
		fmt.Fprintf(errOut, "附带危化品资料: %v（%s）\n", names, report.ReferencesFile)
	}
	if sampler != nil {
		usage := sampler.Usage()
		fmt.Fprintf(errOut, "模型调用 %d 次，提示 %d / 生成 %d 令牌，估算费用 %.4f\n",
			usage.Requests, usage.PromptTokens, usage.CompletionTokens, usage.Cost)
	}
}
