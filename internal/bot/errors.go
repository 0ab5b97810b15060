package bot

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/liao/askbot/internal/chat"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/platform"
)

// UserError 消息原样回复给用户
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func userErrorf(format string, args ...any) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// replyForError 把错误转换成回复文本
func replyForError(err error) string {
	var (
		dbErr   *chat.DatabaseError
		keyErr  *models.APIKeyUnsetError
		userErr *UserError
	)
	switch {
	case errors.As(err, &dbErr):
		return fmt.Sprintf("🤚 Database error: **%s**", dbErr.Error())
	case errors.As(err, &keyErr):
		return fmt.Sprintf("⛔ Model unavailable: **%s**", keyErr.Error())
	case errors.Is(err, platform.ErrEmptyMessage):
		return "⚠️ I received an empty response, please rephrase your question or try another model"
	case errors.As(err, &userErr):
		return userErr.Message
	default:
		return fmt.Sprintf("🚫 Sorry, I couldn't answer right now. Error: **%s**", errorKind(err))
	}
}

// errorKind 取最内层错误的类型名，匿名错误统一为 Error
func errorKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "DeadlineExceeded"
	}
	if errors.Is(err, context.Canceled) {
		return "Canceled"
	}

	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}

	t := reflect.TypeOf(inner)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "Error"
	}
	switch name := t.Name(); name {
	case "", "errorString", "wrapError", "joinError":
		return "Error"
	default:
		return name
	}
}
