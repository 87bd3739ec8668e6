package pipeline

import "strings"

// inputCategories 为事故描述应覆盖的信息类别及其关键词，顺序即报告顺序。
var inputCategories = []struct {
	name     string
	keywords []string
}{
	{"时间", []string{"年", "月", "日", "点"}},
	{"位置", []string{"省", "市", "区", "厂"}},
	{"事故", []string{"事故", "泄漏", "泄露"}},
	{"天气", []string{"天气", "晴", "阴", "雨"}},
	{"温度", []string{"温度", "℃"}},
	{"风", []string{"风"}},
	{"距离", []string{"距离", "公里", "米"}},
	{"化学品", []string{"化学品", "氯气"}},
}

// CheckInput 返回事故描述中缺失的信息类别。结果仅作提示，不影响流水线执行。
func CheckInput(text string) []string {
	var missing []string
	for _, c := range inputCategories {
		found := false
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, c.name)
		}
	}
	return missing
}
