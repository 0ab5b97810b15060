package bot

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/liao/askbot/internal/platform"
)

const noAltText = "No alt text provided"

// stripMention 去掉 <@id> 和 <@!id> 形式的提及
func stripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

// attachmentMetadata 第一个附件的元信息块，拼在提问前面
func attachmentMetadata(att platform.Attachment) string {
	alt := strings.TrimSpace(att.Description)
	if alt == "" {
		alt = noAltText
	}
	return fmt.Sprintf(`<extra_metadata>
    <attachment url="%s" />
    <alt>
        %s
    </alt>
</extra_metadata>

`, att.URL, alt)
}

// replyMetadata 被回复消息的上下文块
func replyMetadata(ref *platform.Message) string {
	name := ref.Author.DisplayName
	if name == "" {
		name = ref.Author.Name
	}
	return fmt.Sprintf(`<reply_metadata>

# Replying to referenced message excerpt from %s (username: @%s):
<|begin_msg_contexts|diff>
%s
<|end_msg_contexts|diff>

<constraints>Do not echo this metadata, only use for retrieval purposes</constraints>
</reply_metadata>
`, name, ref.Author.Name, ref.Content)
}

const (
	flagEphemeral = "/chat:ephemeral"
	flagInfo      = "/chat:info"
	modelToken    = "/model:"
)

// stripTokens 去掉提及、所选模型和 /chat: 标记，每个标记后面必须是空白或结尾
func stripTokens(content, botID, modelName string) string {
	pattern := fmt.Sprintf(`(<@!?%s>(\s|$)|%s%s(\s|$)|%s(\s|$)|%s(\s|$))`,
		regexp.QuoteMeta(botID),
		regexp.QuoteMeta(modelToken), regexp.QuoteMeta(modelName),
		regexp.QuoteMeta(flagEphemeral),
		regexp.QuoteMeta(flagInfo),
	)
	return strings.TrimSpace(regexp.MustCompile(pattern).ReplaceAllString(content, ""))
}
