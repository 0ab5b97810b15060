package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/liao/askbot/internal/chat"
)

// HTMLText 提取 HTML 的可读文本，去掉脚本和样式
func HTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	for _, line := range strings.Split(doc.Find("body").Text(), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// ParseHTMLTranscript 解析网页导出的聊天记录。
// 每条消息为 .message / .msg 元素，发送方通过 class 或 data-role 判断
func ParseHTMLTranscript(r io.Reader) ([]chat.Turn, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var turns []chat.Turn
	doc.Find(".message, .msg").Each(func(i int, s *goquery.Selection) {
		content := ""
		s.Find(".content, .text, .bubble").Each(func(j int, cs *goquery.Selection) {
			content = strings.TrimSpace(cs.Text())
		})
		if content == "" {
			content = strings.TrimSpace(s.Text())
		}
		if content == "" {
			return
		}

		role := chat.RoleUser
		class, _ := s.Attr("class")
		dataRole, _ := s.Attr("data-role")
		if isModelClass(class) || dataRole == "assistant" || dataRole == "model" {
			role = chat.RoleModel
		}
		turns = append(turns, chat.Turn{Role: role, Content: content})
	})
	return turns, nil
}

func isModelClass(class string) bool {
	for _, c := range strings.Fields(class) {
		switch c {
		case "bot", "assistant", "model":
			return true
		}
	}
	return false
}
