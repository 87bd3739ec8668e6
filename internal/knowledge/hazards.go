// Package knowledge 提供危险化学品的参考资料，按事故描述中出现的物质检索。
package knowledge

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed hazards.json
var builtinHazards []byte

// Provider 定义危化品资料检索接口。
type Provider interface {
	Lookup(input string) []Entry
}

// Entry 为一种危险化学品的应急参考资料。
type Entry struct {
	Name    string   `json:"name"`
	CAS     string   `json:"cas,omitempty"`
	Aliases []string `json:"aliases,omitempty"`
	// Hazards 为主要危险特性。
	Hazards []string `json:"hazards"`
	// Isolation 为初始隔离与疏散距离建议。
	Isolation  string `json:"isolation,omitempty"`
	Protection string `json:"protection,omitempty"`
	Disposal   string `json:"disposal,omitempty"`
}

func (e Entry) terms() []string {
	terms := make([]string, 0, len(e.Aliases)+1)
	for _, t := range append([]string{e.Name}, e.Aliases...) {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, strings.ToLower(t))
		}
	}
	return terms
}

// StaticProvider 基于固定条目做关键字匹配。
type StaticProvider struct {
	entries    []Entry
	maxResults int
}

// NewStaticProvider 创建静态资料库，maxResults 不大于 0 时取 3。
func NewStaticProvider(entries []Entry, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &StaticProvider{entries: entries, maxResults: maxResults}
}

// Builtin 返回内置的常见危化品资料库。
func Builtin(maxResults int) (*StaticProvider, error) {
	entries, err := decode(builtinHazards)
	if err != nil {
		return nil, fmt.Errorf("解析内置危化品资料失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

// LoadStaticProvider 从 JSON 文件加载资料条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("危化品资料文件路径不能为空")
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("读取危化品资料文件失败: %w", err)
	}
	entries, err := decode(content)
	if err != nil {
		return nil, fmt.Errorf("解析危化品资料文件失败: %w", err)
	}
	return NewStaticProvider(entries, maxResults), nil
}

func decode(content []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, err
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Name) == "" {
			return nil, fmt.Errorf("第 %d 条资料缺少 name", i)
		}
	}
	return entries, nil
}

// Lookup 返回描述中提到的物质，按首次出现的位置排序。
func (p *StaticProvider) Lookup(input string) []Entry {
	if p == nil {
		return nil
	}
	text := strings.ToLower(input)

	type hit struct {
		pos   int
		entry Entry
	}
	var hits []hit
	for _, entry := range p.entries {
		pos := -1
		for _, term := range entry.terms() {
			if i := strings.Index(text, term); i >= 0 && (pos < 0 || i < pos) {
				pos = i
			}
		}
		if pos >= 0 {
			hits = append(hits, hit{pos: pos, entry: entry})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	if len(hits) > p.maxResults {
		hits = hits[:p.maxResults]
	}
	results := make([]Entry, 0, len(hits))
	for _, h := range hits {
		results = append(results, h.entry)
	}
	return results
}

var _ Provider = (*StaticProvider)(nil)
