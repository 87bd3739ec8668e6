// Package report 持久化运行产出的文档：应急预案、逐阶段调试快照，以及命中的危化品参考资料。
package report

import (
	"context"
	"path"
	"strings"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/knowledge"
	"ChemResponse-Chain/internal/pipeline"
)

const (
	// PlanFile 为应急预案文档名。
	PlanFile = "emergency_response_plan.json"
	// DebugFile 为逐阶段快照文档名。
	DebugFile = "debug_all_results.json"
	// ReferencesFile 为危化品参考资料，没有命中时不生成。
	ReferencesFile = "hazard_references.json"
)

// Documents 为一次运行需要落盘的内容。
type Documents struct {
	Plan       pipeline.Report
	Debug      map[string]pipeline.State
	References []knowledge.Entry
}

// Sink 保存运行文档并返回存放位置。
type Sink interface {
	Save(ctx context.Context, runID string, docs Documents) (string, error)
}

type encoded struct {
	name string
	data []byte
}

func encode(docs Documents) ([]encoded, error) {
	plan, err := pipeline.MarshalDocument(docs.Plan)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeReportFailure, err, "编码预案失败", xerrors.WithRetryable(false))
	}
	out := []encoded{{name: PlanFile, data: plan}}
	if docs.Debug != nil {
		debug, err := pipeline.MarshalDocument(docs.Debug)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeReportFailure, err, "编码调试文档失败", xerrors.WithRetryable(false))
		}
		out = append(out, encoded{name: DebugFile, data: debug})
	}
	if len(docs.References) > 0 {
		refs, err := pipeline.MarshalDocument(docs.References)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeReportFailure, err, "编码参考资料失败", xerrors.WithRetryable(false))
		}
		out = append(out, encoded{name: ReferencesFile, data: refs})
	}
	return out, nil
}

// ValidateRunID 拒绝会逃逸出存放目录的 ID。提交运行前就应调用，
// 否则非法 ID 要等流水线跑完、保存时才会暴露。
func ValidateRunID(runID string) error {
	trimmed := strings.TrimSpace(runID)
	if trimmed == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id 不能为空")
	}
	if trimmed != runID || strings.ContainsAny(runID, `/\`) || path.Clean(runID) != runID || runID == ".." || runID == "." {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id 含有非法字符")
	}
	return nil
}

// Discard 不保存任何内容。
type Discard struct{}

// Save 实现 Sink。
func (Discard) Save(context.Context, string, Documents) (string, error) { return "", nil }
