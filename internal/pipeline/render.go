package pipeline

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Situation 是情景分析阶段的五个子对象，字段顺序即输出顺序。
type Situation struct {
	BasicInfo         any `json:"basic_info"`
	AccidentInfo      any `json:"accident_info"`
	WeatherConditions any `json:"weather_conditions"`
	GeographicalInfo  any `json:"geographical_info"`
	SensitiveTargets  any `json:"sensitive_targets"`
}

// SituationOf 从累积数据中取出情景分析，缺失的子对象以空对象代替。
func SituationOf(accumulated map[string]any) Situation {
	get := func(key string) any {
		if v, ok := accumulated[key]; ok && v != nil {
			return v
		}
		return map[string]any{}
	}
	return Situation{
		BasicInfo:         get("basic_info"),
		AccidentInfo:      get("accident_info"),
		WeatherConditions: get("weather_conditions"),
		GeographicalInfo:  get("geographical_info"),
		SensitiveTargets:  get("sensitive_targets"),
	}
}

// Render 为阶段填充提示模板。缺失的前序数据一律以空对象代替。
func Render(stage Stage, input string, accumulated map[string]any) (string, error) {
	switch stage {
	case StageSituationAnalysis:
		return strings.NewReplacer("{incident_description}", input).Replace(situationTemplate), nil
	case StageImpactAssessment:
		situation, err := marshalText(SituationOf(accumulated))
		if err != nil {
			return "", err
		}
		return strings.NewReplacer("{situation_analysis}", situation).Replace(impactTemplate), nil
	case StageResponsePlan:
		situation, err := marshalText(SituationOf(accumulated))
		if err != nil {
			return "", err
		}
		impact, ok := accumulated[StageImpactAssessment.String()]
		if !ok || impact == nil {
			impact = map[string]any{}
		}
		impactText, err := marshalText(impact)
		if err != nil {
			return "", err
		}
		return strings.NewReplacer("{accident_info}", situation, "{impact_info}", impactText).Replace(responsePlanTemplate), nil
	default:
		return "", invalidStage(stage)
	}
}

// MarshalDocument 以两个空格缩进输出 JSON，保留非 ASCII 字符与 HTML 字符原样。
func MarshalDocument(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func marshalText(v any) (string, error) {
	data, err := MarshalDocument(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}
