// Package persona 加载命名的助手设定（system prompt）。
package persona

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultPrompt = `You are {{.BotName}}, a helpful and witty assistant chatting with people in a chat app.
Today is {{.Date}}.
Keep answers concise and use Markdown when it helps readability.
Metadata blocks such as <extra_metadata> and <reply_metadata> are context for you; never echo them.`

// Assistant 一个助手设定
type Assistant struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
}

type file struct {
	Assistants map[string]Assistant `yaml:"assistants"`
}

type Set struct {
	botName    string
	assistants map[string]*template.Template
	fallback   *template.Template
	now        func() time.Time
}

type promptData struct {
	BotName string
	Date    string
}

// Load 读取助手设定文件；文件不存在时只使用内置默认设定
func Load(path, botName string) (*Set, error) {
	s := &Set{
		botName:    botName,
		assistants: make(map[string]*template.Template),
		fallback:   template.Must(template.New("default").Parse(defaultPrompt)),
		now:        time.Now,
	}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("assistants file not found, using default prompt", "path", path)
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read assistants file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal assistants: %w", err)
	}
	for name, a := range f.Assistants {
		if strings.TrimSpace(a.SystemPrompt) == "" {
			continue
		}
		tmpl, err := template.New(name).Parse(a.SystemPrompt)
		if err != nil {
			return nil, fmt.Errorf("parse assistant %s: %w", name, err)
		}
		s.assistants[name] = tmpl
	}
	slog.Info("assistants loaded", "path", path, "count", len(s.assistants))
	return s, nil
}

// SystemPrompt 渲染指定助手的 system prompt，找不到时用默认设定
func (s *Set) SystemPrompt(name string) (string, error) {
	tmpl, ok := s.assistants[name]
	if !ok {
		tmpl = s.fallback
	}
	var b bytes.Buffer
	err := tmpl.Execute(&b, promptData{
		BotName: s.botName,
		Date:    s.now().Format("Monday, January 2, 2006"),
	})
	if err != nil {
		return "", fmt.Errorf("render assistant %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// Names 已加载的助手名
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.assistants))
	for n := range s.assistants {
		names = append(names, n)
	}
	return names
}
