package report

import (
	"context"
	"os"
	"path/filepath"

	xerrors "ChemResponse-Chain/internal/errors"
)

// FileSink 把文档写入 <dir>/<runID>/ 目录。
type FileSink struct {
	dir string
}

// NewFileSink 创建 FileSink，目录不存在时会在保存时创建。
func NewFileSink(dir string) (*FileSink, error) {
	if dir == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "报告目录不能为空")
	}
	return &FileSink{dir: dir}, nil
}

// Save 实现 Sink。每个文件先写临时文件再重命名，读取方不会看到半截内容。
func (s *FileSink) Save(_ context.Context, runID string, docs Documents) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}
	files, err := encode(docs)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.dir, runID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeReportFailure, err, "创建报告目录失败")
	}
	for _, f := range files {
		if err := writeFileAtomic(filepath.Join(target, f.name), f.data); err != nil {
			return "", xerrors.Wrap(xerrors.CodeReportFailure, err, "写入 "+f.name+" 失败")
		}
	}
	return target, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
