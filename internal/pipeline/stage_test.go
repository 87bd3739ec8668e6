package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChemResponse-Chain/internal/pipeline/jsonrepair"
)

func TestExtract(t *testing.T) {
	raw := `Here is the result: {"basic_info": {"time": "2024-03-15"}, "accident_info": {"type":"leak"}, "weather_conditions":{}} Thanks.`
	candidate, ok := Extract(raw)
	require.True(t, ok)
	assert.Equal(t, `{"basic_info": {"time": "2024-03-15"}, "accident_info": {"type":"leak"}, "weather_conditions":{}}`, candidate)

	res := jsonrepair.Parse(candidate, StageSituationAnalysis.schema())
	assert.Equal(t, jsonrepair.PathDirect, res.Path)
	assert.Equal(t, []string{"basic_info", "accident_info", "weather_conditions"}, Coverage(res.Object, StageSituationAnalysis))
	assert.True(t, Validate(res.Object, StageSituationAnalysis))

	for _, raw := range []string{"", "plain prose without braces", "} reversed {", "{ only opener"} {
		_, ok := Extract(raw)
		assert.False(t, ok, "input %q", raw)
	}
}

func TestExtractIsIdempotentOnDocuments(t *testing.T) {
	docs := []string{
		`{}`,
		`{"a": 1}`,
		`{"emergency_level": {"level": "I级", "reason": "含有 } 与 { 的说明"}}`,
		situationReply[strings.IndexByte(situationReply, '{'):],
	}
	for _, doc := range docs {
		got, ok := Extract(doc)
		require.True(t, ok)
		assert.Equal(t, doc, got)
		again, _ := Extract(got)
		assert.Equal(t, got, again)
	}
}

func TestValidateThresholds(t *testing.T) {
	obj := func(keys ...string) map[string]any {
		m := map[string]any{}
		for _, k := range keys {
			m[k] = map[string]any{}
		}
		return m
	}
	assert.False(t, Validate(obj("basic_info", "accident_info"), StageSituationAnalysis))
	assert.True(t, Validate(obj("basic_info", "accident_info", "sensitive_targets"), StageSituationAnalysis))
	assert.False(t, Validate(obj("population_impact"), StageImpactAssessment))
	assert.True(t, Validate(obj("population_impact", "social_impact"), StageImpactAssessment))
	assert.True(t, Validate(obj("recovery_plan"), StageResponsePlan))
	assert.False(t, Validate(obj(), StageResponsePlan))
	assert.False(t, Validate(nil, StageResponsePlan))
	assert.False(t, Validate(obj("Emergency_Level"), StageResponsePlan), "matching is exact")
	assert.False(t, Validate(obj("recovery_plan"), Stage(9)))
}

func TestValidateIsMonotonic(t *testing.T) {
	for _, stage := range Stages {
		spec, err := stage.Spec()
		require.NoError(t, err)
		keys := spec.ExpectedKeys
		for mask := 0; mask < 1<<len(keys); mask++ {
			obj := map[string]any{"extra": true}
			for i, k := range keys {
				if mask&(1<<i) != 0 {
					obj[k] = "x"
				}
			}
			if !Validate(obj, stage) {
				continue
			}
			for _, k := range keys {
				bigger := cloneMap(obj)
				bigger[k] = "y"
				assert.True(t, Validate(bigger, stage), "stage %s mask %b key %s", stage, mask, k)
			}
		}
	}
}

func TestSpecTable(t *testing.T) {
	want := map[Stage][2]int{
		StageSituationAnalysis: {5, 3},
		StageImpactAssessment:  {5, 2},
		StageResponsePlan:      {8, 1},
	}
	for stage, w := range want {
		spec, err := stage.Spec()
		require.NoError(t, err)
		assert.Len(t, spec.ExpectedKeys, w[0])
		assert.Equal(t, w[1], spec.MinKeys)
		assert.Equal(t, stage, spec.Stage)
	}
	assert.Equal(t, "impact_assessment", StageImpactAssessment.String())
	assert.Equal(t, "stage(5)", Stage(5).String())
}

func TestRenderDefaultsMissingData(t *testing.T) {
	prompt, err := Render(StageSituationAnalysis, "某厂氯气泄漏", nil)
	require.NoError(t, err)
	assert.Contains(t, prompt, "某厂氯气泄漏")
	assert.NotContains(t, prompt, "{incident_description}")

	prompt, err = Render(StageImpactAssessment, "x", map[string]any{"basic_info": map[string]any{"company": "恒安化工"}})
	require.NoError(t, err)
	assert.Contains(t, prompt, `"company": "恒安化工"`)
	assert.Contains(t, prompt, `"sensitive_targets": {}`)
	assert.NotContains(t, prompt, "{situation_analysis}")

	prompt, err = Render(StageResponsePlan, "x", map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, prompt, "影响评估：\n{}\n")
	assert.NotContains(t, prompt, "{accident_info}")
	assert.NotContains(t, prompt, "{impact_info}")
}

func TestRenderDoesNotExpandPlaceholdersInData(t *testing.T) {
	acc := map[string]any{"impact_assessment": map[string]any{"note": "{accident_info}"}}
	prompt, err := Render(StageResponsePlan, "x", acc)
	require.NoError(t, err)
	assert.Contains(t, prompt, `"note": "{accident_info}"`)
}

func TestMarshalDocumentKeepsCharacters(t *testing.T) {
	data, err := MarshalDocument(map[string]any{"reason": "<氯气> & 风"})
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"reason\": \"<氯气> & 风\"\n}\n", string(data))
}

func TestStateCloneIsDeep(t *testing.T) {
	s := NewState("x")
	s.Accumulated["basic_info"] = map[string]any{"list": []any{"a"}}
	c := s.Clone()
	c.Accumulated["basic_info"].(map[string]any)["list"].([]any)[0] = "b"
	assert.Equal(t, "a", s.Accumulated["basic_info"].(map[string]any)["list"].([]any)[0])
}

func TestCheckInput(t *testing.T) {
	full := "2024年3月15日下午2点，江苏省某化工厂发生氯气泄漏事故，天气晴，温度25℃，东南风3级，距离居民区800米。"
	assert.Empty(t, CheckInput(full))
	assert.Equal(t, []string{"时间", "位置", "天气", "温度", "风", "距离", "化学品"}, CheckInput("发生泄漏"))
	assert.Len(t, CheckInput(""), 8)
}
