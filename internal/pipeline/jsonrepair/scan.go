package jsonrepair

import "strings"

// scanString 从 s[i]=='"' 开始扫描字符串，返回闭合引号之后的下标；字符串未闭合时返回 -1。
func scanString(s string, i int) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '"':
			return j + 1
		}
	}
	return -1
}

// matchClose 返回与 s[i] 处括号配对的闭合括号下标，结构被截断时返回 -1。
// 字符串内部的括号不参与计数。
func matchClose(s string, i int) int {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '"':
			end := scanString(s, j)
			if end < 0 {
				return -1
			}
			j = end - 1
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return j
			}
		}
	}
	return -1
}

// pendingClosers 返回使 s 中所有未闭合结构平衡所需的闭合符，按后进先出排列。
func pendingClosers(s string) string {
	var stack []byte
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '"':
			end := scanString(s, j)
			if end < 0 {
				j = len(s)
				continue
			}
			j = end - 1
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if n := len(stack); n > 0 && stack[n-1] == s[j] {
				stack = stack[:n-1]
			}
		}
	}
	var b strings.Builder
	for k := len(stack) - 1; k >= 0; k-- {
		b.WriteByte(stack[k])
	}
	return b.String()
}

// findKey 在 s 中查找作为键出现的 "name"（后面紧跟冒号），返回值的起始下标。
// 优先返回位于 depth 层的出现位置，其次是任意深度的第一个出现位置。
func findKey(s, name string, depth int) (int, bool) {
	quoted := `"` + name + `"`
	first := -1
	level := 0
	for j := 0; j < len(s); j++ {
		switch s[j] {
		case '{', '[':
			level++
		case '}', ']':
			level--
		case '"':
			end := scanString(s, j)
			if end < 0 {
				return firstOr(first)
			}
			if s[j:end] == quoted {
				k := skipSpace(s, end)
				if k < len(s) && s[k] == ':' {
					v := skipSpace(s, k+1)
					if level == depth {
						return v, true
					}
					if first < 0 {
						first = v
					}
				}
			}
			j = end - 1
		}
	}
	return firstOr(first)
}

func firstOr(first int) (int, bool) {
	if first < 0 {
		return 0, false
	}
	return first, true
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// valueEnd 返回从 s[i] 开始的值结束后的下标；truncated 表示值在文本末尾被截断。
// empty 表示该位置没有写出任何值（紧跟逗号或闭合括号）。
func valueEnd(s string, i int) (end int, truncated, empty bool) {
	if i >= len(s) {
		return len(s), true, false
	}
	switch s[i] {
	case '"':
		e := scanString(s, i)
		if e < 0 {
			return len(s), true, false
		}
		return e, false, false
	case '{', '[':
		e := matchClose(s, i)
		if e < 0 {
			return len(s), true, false
		}
		return e + 1, false, false
	case ',', '}', ']':
		return i, false, true
	}
	j := i
	for j < len(s) && !isDelimiter(s[j]) {
		j++
	}
	return j, j == len(s), false
}

func isDelimiter(c byte) bool {
	switch c {
	case ',', ':', '{', '}', '[', ']', '"':
		return true
	}
	return isSpace(c)
}
