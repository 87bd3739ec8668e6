package pipeline

import (
	"fmt"

	xerrors "ChemResponse-Chain/internal/errors"
)

// Report 是持久化的应急预案文档，只包含已产出的部分。
type Report struct {
	SituationAnalysis *Situation     `json:"situation_analysis,omitempty"`
	ImpactAssessment  map[string]any `json:"impact_assessment,omitempty"`
	ResponsePlan      map[string]any `json:"response_plan,omitempty"`
}

// BuildReport 从最终状态组装预案。情景分析至少要有基本信息和事故信息才会写入；
// 影响评估和响应计划为空对象时视为缺失。
func BuildReport(final State) Report {
	var r Report
	_, hasBasic := final.Accumulated["basic_info"]
	_, hasAccident := final.Accumulated["accident_info"]
	if hasBasic && hasAccident {
		s := SituationOf(final.Accumulated)
		r.SituationAnalysis = &s
	}
	r.ImpactAssessment = objectAt(final.Accumulated, StageImpactAssessment.String())
	r.ResponsePlan = objectAt(final.Accumulated, StageResponsePlan.String())
	return r
}

// CompletedStages 返回预案中已有内容的阶段数。
func (r Report) CompletedStages() int {
	n := 0
	if r.SituationAnalysis != nil {
		n++
	}
	if len(r.ImpactAssessment) > 0 {
		n++
	}
	if len(r.ResponsePlan) > 0 {
		n++
	}
	return n
}

// Complete 表示三个阶段都有内容。
func (r Report) Complete() bool {
	return r.CompletedStages() == NumStages
}

// EmergencyResponse 是三个阶段结果的严格汇总。
type EmergencyResponse struct {
	SituationAnalysis Situation      `json:"situation_analysis"`
	ImpactAssessment  map[string]any `json:"impact_assessment"`
	ResponsePlan      map[string]any `json:"response_plan"`
}

// Finalize 要求恰好三个阶段快照，且第 i 个快照已完成第 i 个阶段，否则返回 PIPELINE_INVARIANT。
func Finalize(snapshots []State) (EmergencyResponse, error) {
	if len(snapshots) != NumStages {
		return EmergencyResponse{}, xerrors.New(xerrors.CodePipelineInvariant,
			fmt.Sprintf("expected results from all %d stages, got %d", NumStages, len(snapshots)))
	}
	for i, snap := range snapshots {
		if snap.StageIndex != i+1 {
			return EmergencyResponse{}, xerrors.New(xerrors.CodePipelineInvariant,
				fmt.Sprintf("snapshot %d has stage_index %d, want %d", i, snap.StageIndex, i+1))
		}
	}
	out := EmergencyResponse{
		SituationAnalysis: SituationOf(snapshots[0].Accumulated),
		ImpactAssessment:  objectAt(snapshots[1].Accumulated, StageImpactAssessment.String()),
		ResponsePlan:      objectAt(snapshots[2].Accumulated, StageResponsePlan.String()),
	}
	if out.ImpactAssessment == nil {
		out.ImpactAssessment = map[string]any{}
	}
	if out.ResponsePlan == nil {
		out.ResponsePlan = map[string]any{}
	}
	return out, nil
}

// DebugDocument 以 phase_N 为键返回每个阶段结束后的完整状态。
func DebugDocument(snapshots []State) map[string]State {
	doc := make(map[string]State, len(snapshots))
	for i, snap := range snapshots {
		doc[fmt.Sprintf("phase_%d", i)] = snap
	}
	return doc
}

// Report 组装本次运行的预案。
func (r *Result) Report() Report {
	return BuildReport(r.Final)
}

// Debug 返回本次运行的调试文档。
func (r *Result) Debug() map[string]State {
	return DebugDocument(r.Snapshots)
}

// FallbackStages 返回使用了兜底对象的阶段。
func (r *Result) FallbackStages() []Stage {
	var out []Stage
	for _, o := range r.Outcomes {
		if o.Fallback {
			out = append(out, o.Stage)
		}
	}
	return out
}

func objectAt(m map[string]any, key string) map[string]any {
	obj, _ := m[key].(map[string]any)
	if len(obj) == 0 {
		return nil
	}
	return obj
}

// EscalationReport 返回只含最高响应等级的兜底预案，用于整个运行无法完成时。
func EscalationReport() Report {
	return Report{ResponsePlan: StageResponsePlan.fallback()}
}
