package ai

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/liao/askbot/internal/platform"
)

// 单个附件最大下载 20MB
const maxAttachmentBytes = 20 << 20

// download 下载附件内容，返回数据和 MIME 类型
func download(ctx context.Context, hc *http.Client, att platform.Attachment) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build attachment request: %w", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download attachment: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, "", fmt.Errorf("attachment %s is larger than %d bytes", att.Filename, maxAttachmentBytes)
	}

	return data, mimeType(att, resp.Header.Get("Content-Type"), data), nil
}

// mimeType 优先用平台给的类型，其次响应头，最后嗅探
func mimeType(att platform.Attachment, header string, data []byte) string {
	for _, ct := range []string{att.ContentType, header} {
		if ct == "" {
			continue
		}
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	if ext := strings.ToLower(path.Ext(att.Filename)); ext != "" {
		if mt := mime.TypeByExtension(ext); mt != "" {
			if parsed, _, err := mime.ParseMediaType(mt); err == nil {
				return parsed
			}
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

func isImage(mt string) bool {
	return strings.HasPrefix(mt, "image/")
}

func isText(mt string) bool {
	switch {
	case strings.HasPrefix(mt, "text/"):
		return true
	case mt == "application/json", mt == "application/xml", mt == "application/x-yaml", mt == "application/yaml":
		return true
	}
	return false
}
