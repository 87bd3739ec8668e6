package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ChemResponse-Chain/internal/pipeline"
)

var checkInputCmd = &cobra.Command{
	Use:   "check-input [事故描述]",
	Short: "检查事故描述缺少哪些关键信息",
	Long:  `不调用大模型，仅按关键词检查描述是否包含时间、位置、天气、风向、化学品等信息。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		input, err := readInput(cmd, args)
		if err != nil {
			return err
		}
		missing := pipeline.CheckInput(input)
		if len(missing) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "事故描述信息完整")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "缺少以下信息: "+strings.Join(missing, "、"))
		return nil
	},
}

func init() {
	checkInputCmd.Flags().StringP("file", "f", "", "从文件读取事故描述，- 表示标准输入")
}
