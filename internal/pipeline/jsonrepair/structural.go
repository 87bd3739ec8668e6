package jsonrepair

import (
	"encoding/json"
	"strings"
)

// Unknown 用于填补未写出或被截断的值。
const Unknown = "未知"

var unknownLiteral = quote(Unknown)

const (
	expectKey = iota
	expectColon
	expectValue
	expectNext
)

type frame struct {
	kind  byte
	state int
}

// rewriter 单遍扫描候选文本并输出语法合法的 JSON：补齐缺失的逗号和冒号，
// 丢弃闭合符前多余的逗号，为缺失或截断的值填入 "未知"，最后按后进先出补齐闭合符。
type rewriter struct {
	src          string
	out          strings.Builder
	stack        []frame
	pendingComma bool
	done         bool
}

// structuralRepair 返回修补后的文本；文本中没有对象起始符时返回空串。
func structuralRepair(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	r := &rewriter{src: text}
	i := start
	for i < len(text) && !r.done {
		c := text[i]
		switch {
		case isSpace(c):
			i++
		case c == '"':
			i = r.onString(i)
		case c == '{' || c == '[':
			i = r.onOpen(i)
		case c == '}' || c == ']':
			r.onClose(c)
			i++
		case c == ':':
			r.onColon()
			i++
		case c == ',':
			r.onComma()
			i++
		default:
			i = r.onBare(i)
		}
	}
	for len(r.stack) > 0 {
		r.closeTop()
	}
	return r.out.String()
}

func (r *rewriter) top() *frame {
	return &r.stack[len(r.stack)-1]
}

// beginToken 在期望逗号的位置遇到新值时补上逗号。
func (r *rewriter) beginToken() *frame {
	f := r.top()
	if f.state == expectNext {
		r.pendingComma = true
		if f.kind == '{' {
			f.state = expectKey
		} else {
			f.state = expectValue
		}
	}
	return f
}

func (r *rewriter) flushComma() {
	if r.pendingComma {
		r.out.WriteByte(',')
		r.pendingComma = false
	}
}

// writeValue 写出一个标量值，并把所在容器推进到等待逗号的状态。
func (r *rewriter) writeValue(f *frame, literal string) {
	if f.state == expectColon {
		r.out.WriteByte(':')
	}
	r.flushComma()
	r.out.WriteString(literal)
	f.state = expectNext
}

func (r *rewriter) onString(i int) int {
	end := scanString(r.src, i)
	truncated := end < 0
	if truncated {
		end = len(r.src)
	}
	f := r.beginToken()
	if f.state == expectKey {
		if truncated {
			r.pendingComma = false
			return end
		}
		r.flushComma()
		r.out.WriteString(sanitizeString(r.src[i:end]))
		f.state = expectColon
		return end
	}
	if truncated {
		r.writeValue(f, unknownLiteral)
	} else {
		r.writeValue(f, sanitizeString(r.src[i:end]))
	}
	return end
}

func (r *rewriter) onOpen(i int) int {
	c := r.src[i]
	if len(r.stack) == 0 {
		r.out.WriteByte(c)
		r.stack = append(r.stack, frame{kind: c, state: initialState(c)})
		return i + 1
	}
	f := r.beginToken()
	if f.state == expectKey {
		// 对象中缺少键的嵌套结构无法挂接，整体跳过。
		end := matchClose(r.src, i)
		if end < 0 {
			return len(r.src)
		}
		return end + 1
	}
	if f.state == expectColon {
		r.out.WriteByte(':')
	}
	r.flushComma()
	r.out.WriteByte(c)
	f.state = expectNext
	r.stack = append(r.stack, frame{kind: c, state: initialState(c)})
	return i + 1
}

func initialState(kind byte) int {
	if kind == '{' {
		return expectKey
	}
	return expectValue
}

func (r *rewriter) onClose(c byte) {
	want := byte('{')
	if c == ']' {
		want = '['
	}
	match := -1
	for k := len(r.stack) - 1; k >= 0; k-- {
		if r.stack[k].kind == want {
			match = k
			break
		}
	}
	if match < 0 {
		return
	}
	for len(r.stack) > match {
		r.closeTop()
	}
}

func (r *rewriter) closeTop() {
	f := r.top()
	if f.kind == '{' {
		switch f.state {
		case expectColon:
			r.out.WriteByte(':')
			r.out.WriteString(unknownLiteral)
		case expectValue:
			r.out.WriteString(unknownLiteral)
		}
		r.out.WriteByte('}')
	} else {
		r.out.WriteByte(']')
	}
	r.pendingComma = false
	r.stack = r.stack[:len(r.stack)-1]
	if len(r.stack) == 0 {
		r.done = true
	}
}

func (r *rewriter) onColon() {
	if f := r.top(); f.kind == '{' && f.state == expectColon {
		r.out.WriteByte(':')
		f.state = expectValue
	}
}

func (r *rewriter) onComma() {
	f := r.top()
	if f.state != expectNext {
		return
	}
	r.pendingComma = true
	if f.kind == '{' {
		f.state = expectKey
	} else {
		f.state = expectValue
	}
}

func (r *rewriter) onBare(i int) int {
	j := i
	for j < len(r.src) && !isDelimiter(r.src[j]) {
		j++
	}
	tok := r.src[i:j]
	atEOF := j == len(r.src)
	f := r.beginToken()
	if f.state == expectKey {
		if atEOF {
			r.pendingComma = false
			return j
		}
		r.flushComma()
		r.out.WriteString(quote(tok))
		f.state = expectColon
		return j
	}
	switch {
	case isLiteral(tok):
		r.writeValue(f, tok)
	case atEOF:
		r.writeValue(f, unknownLiteral)
	default:
		r.writeValue(f, quote(tok))
	}
	return j
}

func isLiteral(tok string) bool {
	switch tok {
	case "true", "false", "null":
		return true
	}
	if tok == "" || (tok[0] != '-' && (tok[0] < '0' || tok[0] > '9')) {
		return false
	}
	return json.Valid([]byte(tok))
}

// sanitizeString 保证带引号的字符串字面量合法：转义原始控制字符与非法转义。
func sanitizeString(lit string) string {
	if json.Valid([]byte(lit)) {
		return lit
	}
	inner := lit[1 : len(lit)-1]
	var b strings.Builder
	b.WriteByte('"')
	for k := 0; k < len(inner); k++ {
		c := inner[k]
		switch {
		case c == '\\':
			if k+1 < len(inner) && strings.IndexByte(`"\/bfnrtu`, inner[k+1]) >= 0 && validEscape(inner[k+1:]) {
				b.WriteByte(c)
				b.WriteByte(inner[k+1])
				k++
				continue
			}
			b.WriteString(`\\`)
		case c == '\n':
			b.WriteString(`\n`)
		case c == '\r':
			b.WriteString(`\r`)
		case c == '\t':
			b.WriteString(`\t`)
		case c < 0x20:
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	out := b.String()
	if !json.Valid([]byte(out)) {
		return quote(inner)
	}
	return out
}

func validEscape(rest string) bool {
	if rest[0] != 'u' {
		return true
	}
	if len(rest) < 5 {
		return false
	}
	for _, c := range []byte(rest[1:5]) {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

func quote(s string) string {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(b.String(), "\n")
}
