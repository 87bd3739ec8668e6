// Package jsonrepair 从大模型输出的候选文本中尽力恢复一个 JSON 对象。
//
// 恢复按顺序尝试：直接解析、按顶层字段逐个提取、整体结构修补、终止兜底。
// 所有函数都是无状态的纯函数，任何输入都会得到一个非 nil 的对象。
package jsonrepair

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

// Path 标识对象是经由哪一步恢复出来的。
type Path string

const (
	PathDirect     Path = "direct"
	PathFields     Path = "fields"
	PathStructural Path = "structural"
	PathTerminal   Path = "terminal"
)

// Schema 描述当前阶段需要逐个提取的顶层字段。
type Schema struct {
	Fields []string
	// Nested 列出容易被截断的嵌套子键，按所属顶层字段分组。
	Nested map[string][]string
}

// Result 是一次恢复的结果。
type Result struct {
	Object map[string]any
	Path   Path
	// Truncated 记录定位到但因截断或语法错误未能恢复的字段。
	Truncated []string
	// Cut 记录通过子键修补、在某个子键之后截断恢复的字段，值为该子键。
	Cut map[string]string
}

// Parse 从候选文本中恢复 JSON 对象，永不失败。
func Parse(candidate string, schema Schema) Result {
	if obj, ok := decodeObject(candidate); ok {
		return Result{Object: obj, Path: PathDirect}
	}

	res := extractFields(candidate, schema)
	if len(res.Object) > 0 {
		res.Path = PathFields
		return res
	}

	if fixed := structuralRepair(candidate); fixed != "" {
		if obj, ok := decodeObject(fixed); ok {
			return Result{Object: obj, Path: PathStructural, Truncated: res.Truncated}
		}
	}

	return Result{Object: terminalFallback(candidate), Path: PathTerminal, Truncated: res.Truncated}
}

// terminalFallback 在所有修补都失败时给出最小对象：文本中出现过应急等级键时，
// 按最高级别响应，否则返回空对象。
func terminalFallback(text string) map[string]any {
	if strings.Contains(text, `"emergency_level"`) {
		return map[string]any{
			"emergency_level": map[string]any{
				"level":  "I级",
				"reason": "响应信息解析失败，按最高级别启动应急响应",
			},
		}
	}
	return map[string]any{}
}

// decodeObject 解析一个完整的 JSON 对象，不允许尾随内容。数字保留为 json.Number。
func decodeObject(text string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return obj, true
}

func extractFields(text string, schema Schema) Result {
	res := Result{Object: map[string]any{}}
	for _, field := range schema.Fields {
		start, ok := findKey(text, field, 1)
		if !ok || start >= len(text) || (text[start] != '{' && text[start] != '[') {
			continue
		}
		end := matchClose(text, start)
		truncated := end < 0
		segment := text[start:]
		if !truncated {
			segment = text[start : end+1]
		}

		if !truncated {
			if v, ok := decodeField(field, segment); ok {
				res.Object[field] = v
				continue
			}
			if v, ok := decodeField(field, fixLocal(segment)); ok {
				res.Object[field] = v
				continue
			}
		}

		recovered := false
		for _, sub := range schema.Nested[field] {
			fixed, ok := repairNested(segment, sub)
			if !ok {
				continue
			}
			if v, ok := decodeField(field, fixed); ok {
				res.Object[field] = v
				if res.Cut == nil {
					res.Cut = map[string]string{}
				}
				res.Cut[field] = sub
				recovered = true
				break
			}
		}
		if !recovered {
			res.Truncated = append(res.Truncated, field)
		}
	}
	return res
}

func decodeField(field, segment string) (any, bool) {
	var b bytes.Buffer
	b.WriteString(`{`)
	b.WriteString(quote(field))
	b.WriteString(`:`)
	b.WriteString(segment)
	b.WriteString(`}`)
	obj, ok := decodeObject(b.String())
	if !ok {
		return nil, false
	}
	return obj[field], true
}

// fixLocal 修补单个字段片段中的常见局部缺陷：去掉闭合符前多余的逗号，
// 在相邻的值之间补上缺失的逗号。
func fixLocal(segment string) string {
	var out []byte
	var last byte
	commaAt := -1
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		switch {
		case c == '"':
			end := scanString(segment, i)
			if end < 0 {
				end = len(segment)
			}
			if last == '"' || last == '}' || last == ']' {
				out = append(out, ',')
			}
			out = append(out, segment[i:end]...)
			last = '"'
			i = end - 1
			continue
		case c == '{' || c == '[':
			if last == '"' || last == '}' || last == ']' {
				out = append(out, ',')
			}
		case c == '}' || c == ']':
			if last == ',' && commaAt >= 0 {
				out = append(out[:commaAt], out[commaAt+1:]...)
			}
		case c == ',':
			commaAt = len(out)
		}
		out = append(out, c)
		if !isSpace(c) {
			last = c
		}
	}
	return string(out)
}

// repairNested 针对某个易截断的子键做窄范围修补：子键的值缺失或被截断时以 "未知" 代替，
// 并在该子键之后截断片段、补齐闭合符。子键不存在时返回 false。
func repairNested(segment, sub string) (string, bool) {
	start, ok := findKey(segment, sub, 1)
	if !ok {
		return "", false
	}
	end, truncated, empty := valueEnd(segment, start)
	var head string
	switch {
	case empty:
		head = segment[:start] + unknownLiteral + segment[start:]
	case truncated:
		head = segment[:start] + unknownLiteral
	default:
		head = segment[:end]
	}
	return head + pendingClosers(head), true
}
