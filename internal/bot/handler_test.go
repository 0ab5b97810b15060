package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/platform"
)

func TestIgnoresOwnMessages(t *testing.T) {
	f := newFixture(t)
	msg := dm("hello")
	msg.Author.ID = botID

	f.h.OnMessage(context.Background(), f.conn, msg)
	assert.Zero(t, f.conn.count())
	assert.Zero(t, f.full.calls())
}

func TestIgnoresGuildMessageWithoutMention(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, guildMsg("just chatting", false))
	assert.Zero(t, f.conn.count())
	assert.Zero(t, f.full.calls())
}

func TestMentionOnlyIsIgnored(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, guildMsg("<@999>   ", true))
	assert.Zero(t, f.conn.count())
	assert.Zero(t, f.h.pending.count())
}

func TestAnswersDirectMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.h.OnMessage(ctx, f.conn, dm("what is go?"))

	req := f.full.lastRequest(t)
	assert.Equal(t, "what is go?", req.Prompt)
	assert.Equal(t, "system:jakey_system_prompt", req.SystemInstruction)
	assert.Equal(t, "alpha", f.full.model)

	assert.Equal(t, []string{"full answer"}, f.conn.texts("send"))
	assert.Equal(t, []string{busyReaction}, f.conn.texts("react"))
	assert.Equal(t, []string{busyReaction}, f.conn.texts("unreact"))
	assert.Zero(t, f.h.pending.count())

	turns, err := f.history.Load(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, chat.RoleUser, turns[0].Role)
	assert.Equal(t, "what is go?", turns[0].Content)
	assert.Equal(t, chat.RoleModel, turns[1].Role)
	assert.Equal(t, "full answer", turns[1].Content)

	// 第二轮带上历史
	f.h.OnMessage(ctx, f.conn, dm("and rust?"))
	assert.Len(t, f.full.lastRequest(t).History, 2)
}

func TestMentionIsStrippedInGuild(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, guildMsg("<@999> tell me a joke", true))
	assert.Equal(t, "tell me a joke", f.full.lastRequest(t).Prompt)
}

func TestBusyUserGetsWarning(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.h.pending.TryAcquire("user-1"))

	f.h.OnMessage(context.Background(), f.conn, dm("again"))
	assert.Equal(t, []string{"⚠️ I'm still processing your previous request, please wait for a moment..."}, f.conn.texts("reply"))
	assert.Zero(t, f.full.calls())
	assert.True(t, f.h.pending.busy("user-1"))
}

func TestConcurrentRequestsFromSameUser(t *testing.T) {
	f := newFixture(t)
	f.full.started = make(chan struct{})
	f.full.release = make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.h.OnMessage(context.Background(), f.conn, dm("slow question"))
	}()

	select {
	case <-f.full.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was not called")
	}

	second := dm("impatient")
	second.ID = "msg-9"
	f.h.OnMessage(context.Background(), f.conn, second)
	assert.Contains(t, f.conn.texts("reply"), "⚠️ I'm still processing your previous request, please wait for a moment...")

	// 其他用户不受影响
	assert.False(t, f.h.pending.busy("user-2"))

	close(f.full.release)
	wg.Wait()
	assert.Equal(t, 1, f.full.calls())
	assert.Zero(t, f.h.pending.count())
}

func TestInlineModelSelection(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, dm("/model:basic summarize this"))

	sends := f.conn.texts("send")
	require.NotEmpty(t, sends)
	assert.Equal(t, "🔍 Using specific model", sends[0])
	assert.Equal(t, []string{"🔍 Using model: **basic**"}, f.conn.texts("edit"))

	assert.Equal(t, "summarize this", f.plain.lastRequest(t).Prompt)
	assert.Equal(t, "basic", f.plain.model)
	assert.Zero(t, f.full.calls())
	// plain 模型不支持保存历史
	assert.Contains(t, sends, "⚠️ This model doesn't allow saving the conversation")
}

func TestInlineModelUnknownKeepsDefault(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, dm("/model:gpt-9 hi"))

	assert.Equal(t, []string{"🔍 Using model: **alpha**"}, f.conn.texts("edit"))
	// 未匹配的标记保留在提问里
	assert.Equal(t, "/model:gpt-9 hi", f.full.lastRequest(t).Prompt)
}

func TestEphemeralSkipsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.h.OnMessage(ctx, f.conn, dm("secret stuff /chat:ephemeral"))

	assert.Contains(t, f.conn.texts("send"), "🔒 This conversation is not saved and Jakey won't remember this")
	assert.Equal(t, "secret stuff", f.full.lastRequest(t).Prompt)

	turns, err := f.history.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestInfoFlagSendsEmbed(t *testing.T) {
	f := newFixture(t)
	f.h.OnMessage(context.Background(), f.conn, dm("/chat:info hello"))

	assert.Equal(t, []string{"Answered by **alpha** by **fake** (this response isn't safe)"}, f.conn.texts("embed"))
	assert.Equal(t, "hello", f.full.lastRequest(t).Prompt)
}

func TestTooManyAttachments(t *testing.T) {
	f := newFixture(t)
	msg := dm("look")
	msg.Attachments = []platform.Attachment{{Filename: "a.png"}, {Filename: "b.png"}}

	f.h.OnMessage(context.Background(), f.conn, msg)
	assert.Equal(t, []string{"🚫 I can only process one file at a time"}, f.conn.texts("reply"))
	assert.Zero(t, f.full.calls())
}

func TestAttachmentOnModelWithoutFileSupport(t *testing.T) {
	f := newFixture(t)
	msg := dm("/model:basic what is this")
	msg.Attachments = []platform.Attachment{{Filename: "cat.png", URL: "https://cdn/cat.png"}}

	f.h.OnMessage(context.Background(), f.conn, msg)
	assert.Equal(t, []string{"🚫 The model **basic** cannot process file attachments, please try another model"}, f.conn.texts("reply"))
	assert.Zero(t, f.plain.calls())
}

func TestAttachmentIsProcessed(t *testing.T) {
	f := newFixture(t)
	msg := dm("what is this")
	msg.Attachments = []platform.Attachment{{Filename: "cat.png", URL: "https://cdn/cat.png"}}

	f.h.OnMessage(context.Background(), f.conn, msg)

	assert.Contains(t, f.conn.texts("send"), "📄 Processing the file: **cat.png**")
	assert.Equal(t, []string{"✅ Used: **cat.png**"}, f.conn.texts("edit"))
	require.Len(t, f.full.files, 1)

	prompt := f.full.lastRequest(t).Prompt
	assert.True(t, strings.HasPrefix(prompt, "<extra_metadata>\n    <attachment url=\"https://cdn/cat.png\" />"))
	assert.Contains(t, prompt, noAltText)
	assert.True(t, strings.HasSuffix(prompt, "</extra_metadata>\n\nwhat is this"))
}

func TestAttachmentWithoutText(t *testing.T) {
	f := newFixture(t)
	msg := guildMsg("<@999>", true)
	msg.Attachments = []platform.Attachment{{Filename: "doc.txt", URL: "https://cdn/doc.txt", Description: "my notes"}}

	f.h.OnMessage(context.Background(), f.conn, msg)
	prompt := f.full.lastRequest(t).Prompt
	assert.Contains(t, prompt, "        my notes\n")
}

func TestReplyContextIsFolded(t *testing.T) {
	f := newFixture(t)
	f.conn.fetched["ref-1"] = &platform.Message{
		ID:      "ref-1",
		Author:  platform.User{ID: "user-2", Name: "bob", DisplayName: "Bob"},
		Content: "the sky is green",
		JumpURL: "https://discord.com/channels/@me/dm-1/ref-1",
	}
	msg := dm("is that true?")
	msg.ReferenceID = "ref-1"

	f.h.OnMessage(context.Background(), f.conn, msg)

	assert.Contains(t, f.conn.texts("send"), "✅ Referenced message: https://discord.com/channels/@me/dm-1/ref-1")
	prompt := f.full.lastRequest(t).Prompt
	assert.True(t, strings.HasPrefix(prompt, "<reply_metadata>"))
	assert.Contains(t, prompt, "from Bob (username: @bob)")
	assert.Contains(t, prompt, "<|begin_msg_contexts|diff>\nthe sky is green\n<|end_msg_contexts|diff>")
	assert.True(t, strings.HasSuffix(prompt, "</reply_metadata>\nis that true?"))
}

func TestMissingReferenceStillAnswers(t *testing.T) {
	f := newFixture(t)
	msg := dm("is that true?")
	msg.ReferenceID = "gone"

	f.h.OnMessage(context.Background(), f.conn, msg)
	assert.Equal(t, "is that true?", f.full.lastRequest(t).Prompt)
}

func TestErrorReplies(t *testing.T) {
	tests := []struct {
		name    string
		content string
		setup   func(f *fixture)
		want    string
	}{
		{
			name:    "unknown provider",
			content: "/model:phantom hi",
			want:    "⚠️ The model you've chosen is not available at the moment, please choose another model",
		},
		{
			name:    "api key unset",
			content: "/model:locked hi",
			want:    "⛔ Model unavailable: **API key for nokey is not set, please set NOKEY_API_KEY**",
		},
		{
			name:    "empty answer",
			content: "hi",
			setup:   func(f *fixture) { f.full.reply = "   " },
			want:    "⚠️ I received an empty response, please rephrase your question or try another model",
		},
		{
			name:    "provider failure",
			content: "hi",
			setup:   func(f *fixture) { f.full.err = errors.New("boom") },
			want:    "🚫 Sorry, I couldn't answer right now. Error: **Error**",
		},
		{
			name:    "database failure",
			content: "hi",
			setup:   func(f *fixture) { f.history.Close() },
			want:    "🤚 Database error: **get default model: sql: database is closed**",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			f.h.OnMessage(context.Background(), f.conn, dm(tt.content))

			assert.Equal(t, []string{tt.want}, f.conn.texts("reply"))
			assert.Equal(t, []string{busyReaction}, f.conn.texts("unreact"))
			assert.Zero(t, f.h.pending.count())
		})
	}
}

func TestSharedChatHistoryScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.Bot.SharedChatHistory = true })

	f.h.OnMessage(ctx, f.conn, guildMsg("<@999> remember 42", true))

	shared, err := f.history.Load(ctx, "guild-1")
	require.NoError(t, err)
	assert.Len(t, shared, 2)

	personal, err := f.history.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, personal)

	// 私聊没有 guild，退回到用户
	f.h.OnMessage(ctx, f.conn, dm("hi"))
	personal, err = f.history.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, personal, 2)
}

func TestSavedDefaultModelIsUsed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.history.SetDefaultModel(ctx, "user-1", "fake::beta"))

	f.h.OnMessage(ctx, f.conn, dm("hi"))
	assert.Equal(t, "beta", f.full.model)
}

func TestLongAnswerIsSplit(t *testing.T) {
	f := newFixture(t)
	f.full.reply = strings.Repeat("a", 4500)

	f.h.OnMessage(context.Background(), f.conn, dm("essay please"))
	sends := f.conn.texts("send")
	require.Len(t, sends, 3)
	assert.Len(t, sends[0], 2000)
	assert.Len(t, sends[2], 500)
}

func TestHistoryNotSavedOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.full.err = errors.New("boom")

	f.h.OnMessage(ctx, f.conn, dm("hi"))
	turns, err := f.history.Load(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
