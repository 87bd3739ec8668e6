package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	xerrors "ChemResponse-Chain/internal/errors"
)

// readInput 依次从 --file、位置参数读取事故描述。
func readInput(cmd *cobra.Command, args []string) (string, error) {
	path, _ := cmd.Flags().GetString("file")
	var text string
	switch {
	case path == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取标准输入失败")
		}
		text = string(data)
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取事故描述文件失败")
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "请通过参数或 --file 提供事故描述")
	}
	return text, nil
}
