package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/liao/askbot/internal/platform"
)

// 平台的输入状态大约 10 秒消失，提前续期
const typingInterval = 8 * time.Second

// keepTyping 持续显示输入状态，直到返回的 stop 被调用
func keepTyping(ctx context.Context, conn platform.Conn, channelID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(typingInterval)
		defer ticker.Stop()
		for {
			if err := conn.Typing(ctx, channelID); err != nil && ctx.Err() == nil {
				slog.Debug("typing indicator failed", "channel", channelID, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}
