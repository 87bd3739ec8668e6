package pipeline

// State 是在阶段之间传递的流水线状态。每个阶段产出新的 State，旧状态保持不变。
type State struct {
	InputText   string         `json:"input_text"`
	StageIndex  int            `json:"stage_index"`
	Accumulated map[string]any `json:"accumulated_data"`
}

// NewState 创建初始状态。
func NewState(input string) State {
	return State{InputText: input, Accumulated: map[string]any{}}
}

// Stage 返回下一个待执行的阶段。
func (s State) Stage() Stage {
	return Stage(s.StageIndex)
}

// Done 表示三个阶段都已执行。
func (s State) Done() bool {
	return s.StageIndex >= NumStages
}

// Clone 深拷贝累积数据。
func (s State) Clone() State {
	out := s
	out.Accumulated = cloneMap(s.Accumulated)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
