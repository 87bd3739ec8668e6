package pipeline

import "strings"

// Extract 截取原始文本中第一个 '{' 到最后一个 '}' 之间的内容（含两端）。
// 不识别字符串中的括号；找不到合法区间时返回 false。
func Extract(raw string) (string, bool) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < 0 || start >= end {
		return "", false
	}
	return raw[start : end+1], true
}
