// Package models 管理可用模型列表和模型厂商注册表。
package models

import (
	"fmt"
	"regexp"
	"strings"
)

const sep = "::"

// Model 形如 provider::name 的模型标识
type Model struct {
	Provider string
	Name     string
}

// ParseModel 解析 provider::name；没有分隔符时 provider 和 name 相同
func ParseModel(s string) Model {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, sep)
	return Model{Provider: parts[0], Name: parts[len(parts)-1]}
}

func (m Model) String() string {
	return m.Provider + sep + m.Name
}

// Catalog 有序的可用模型列表
type Catalog struct {
	models []Model
}

func NewCatalog(entries []string) (*Catalog, error) {
	c := &Catalog{}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !strings.Contains(e, sep) {
			return nil, fmt.Errorf("invalid model entry %q: want provider::name", e)
		}
		m := ParseModel(e)
		if m.Provider == "" || m.Name == "" {
			return nil, fmt.Errorf("invalid model entry %q: empty provider or name", e)
		}
		if seen[m.String()] {
			continue
		}
		seen[m.String()] = true
		c.models = append(c.models, m)
	}
	return c, nil
}

// List 返回模型列表副本
func (c *Catalog) List() []Model {
	out := make([]Model, len(c.models))
	copy(out, c.models)
	return out
}

// Contains 判断 provider::name 是否在列表里
func (c *Catalog) Contains(m Model) bool {
	for _, x := range c.models {
		if x == m {
			return true
		}
	}
	return false
}

// MatchInline 找出文本中第一个 /model:<name> 对应的模型，按列表顺序匹配
func (c *Catalog) MatchInline(content string) (Model, bool) {
	for _, m := range c.models {
		if InlineModelPattern(m.Name).MatchString(content) {
			return m, true
		}
	}
	return Model{}, false
}

// InlineModelPattern /model:<name> 后面必须是空白或结尾
func InlineModelPattern(name string) *regexp.Regexp {
	return regexp.MustCompile(`/model:` + regexp.QuoteMeta(name) + `(\s|$)`)
}
