package parser

import (
	"bufio"
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/liao/askbot/internal/chat"
)

// jsonlEntry JSONL 中的一行，一行是一段对话
type jsonlEntry struct {
	Messages []jsonlMessage `json:"messages"`
}

type jsonlMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DecryptFile 解密 AES-256-GCM 加密的导出文件
// 文件格式: salt(16) + nonce(16) + tag(16) + ciphertext
func DecryptFile(path string, password string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Decrypt(data, password)
}

func Decrypt(data []byte, password string) ([]byte, error) {
	if len(data) < 48 {
		return nil, fmt.Errorf("encrypted payload too small")
	}

	salt := data[:16]
	nonce := data[16:32]
	tag := data[32:48]
	ciphertext := data[48:]

	key := pbkdf2.Key([]byte(password), salt, 100000, 32, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}

	// GCM Open 需要 ciphertext+tag 拼在一起
	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// ParseJSONL 把 JSONL 对话导出展开成按顺序排列的 Turn。
// assistant/model 记为模型回复，其余角色（system 除外）记为用户消息
func ParseJSONL(data []byte) ([]chat.Turn, error) {
	var turns []chat.Turn

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var entry jsonlEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			slog.Warn("skip malformed jsonl line", "line", lineNum, "error", err)
			continue
		}

		for _, msg := range entry.Messages {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			role, ok := normalizeRole(msg.Role)
			if !ok {
				continue
			}
			turns = append(turns, chat.Turn{Role: role, Content: content})
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return turns, nil
}

func normalizeRole(role string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case "system":
		return "", false
	case "assistant", "model", "bot":
		return chat.RoleModel, true
	default:
		return chat.RoleUser, true
	}
}
