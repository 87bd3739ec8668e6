package pipeline

import (
	"fmt"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/pipeline/jsonrepair"
)

// Stage 是流水线的固定阶段。
type Stage int

const (
	StageSituationAnalysis Stage = iota
	StageImpactAssessment
	StageResponsePlan
)

// NumStages 为流水线的阶段数。
const NumStages = 3

// Stages 按执行顺序列出全部阶段。
var Stages = [NumStages]Stage{StageSituationAnalysis, StageImpactAssessment, StageResponsePlan}

// 情景分析阶段写入累积数据的五个子对象。
var situationKeys = []string{"basic_info", "accident_info", "weather_conditions", "geographical_info", "sensitive_targets"}

// Spec 描述一个阶段的期望结构。
type Spec struct {
	Stage        Stage
	ExpectedKeys []string
	// MinKeys 为校验通过所需的最少命中键数。
	MinKeys int
	// Nested 列出容易被截断的嵌套子键。
	Nested map[string][]string
}

var specs = [NumStages]Spec{
	{
		Stage:        StageSituationAnalysis,
		ExpectedKeys: situationKeys,
		MinKeys:      3,
	},
	{
		Stage:        StageImpactAssessment,
		ExpectedKeys: []string{"dispersion_prediction", "population_impact", "environmental_impact", "secondary_disasters", "social_impact"},
		MinKeys:      2,
		Nested: map[string][]string{
			"population_impact":    {"estimated_casualties"},
			"environmental_impact": {"air_pollution"},
		},
	},
	{
		Stage: StageResponsePlan,
		ExpectedKeys: []string{
			"emergency_level", "evacuation_plan", "onsite_response", "medical_response",
			"environmental_monitoring", "resource_allocation", "information_management", "recovery_plan",
		},
		MinKeys: 1,
		Nested: map[string][]string{
			"onsite_response":  {"isolation_zone"},
			"medical_response": {"ambulance_standby"},
		},
	},
}

// Valid 判断是否为已知阶段。
func (s Stage) Valid() bool {
	return s >= StageSituationAnalysis && s <= StageResponsePlan
}

// String 返回阶段名，同时也是报告中的顶层键。
func (s Stage) String() string {
	switch s {
	case StageSituationAnalysis:
		return "situation_analysis"
	case StageImpactAssessment:
		return "impact_assessment"
	case StageResponsePlan:
		return "response_plan"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Spec 返回阶段的期望结构，未知阶段返回 PIPELINE_INVARIANT。
func (s Stage) Spec() (Spec, error) {
	if !s.Valid() {
		return Spec{}, invalidStage(s)
	}
	return specs[s], nil
}

func (s Stage) schema() jsonrepair.Schema {
	spec := specs[s]
	return jsonrepair.Schema{Fields: spec.ExpectedKeys, Nested: spec.Nested}
}

// merge 把本阶段结果写入累积数据。情景分析的子对象直接并入顶层，
// 其余阶段放在以阶段名为键的容器中。
func (s Stage) merge(accumulated, parsed map[string]any) {
	switch s {
	case StageSituationAnalysis:
		for k, v := range parsed {
			accumulated[k] = v
		}
	case StageImpactAssessment, StageResponsePlan:
		accumulated[s.String()] = parsed
	}
}

// fallback 返回没有任何回复通过校验时使用的最小对象，每次调用都返回新对象。
func (s Stage) fallback() map[string]any {
	switch s {
	case StageResponsePlan:
		return map[string]any{
			"emergency_level": map[string]any{
				"level":  "I级",
				"reason": "响应计划生成失败，按最高级别启动应急响应",
			},
		}
	default:
		return map[string]any{}
	}
}

func invalidStage(s Stage) error {
	return xerrors.New(xerrors.CodePipelineInvariant, fmt.Sprintf("unknown stage index %d", int(s)))
}
