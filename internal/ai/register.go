package ai

import (
	"github.com/liao/askbot/internal/config"
	"github.com/liao/askbot/internal/models"
	"github.com/liao/askbot/internal/services"
	"github.com/liao/askbot/internal/storage"
)

// Register 注册所有已知厂商；未配置 key 的厂商也会注册，调用时返回 APIKeyUnsetError
func Register(reg *models.Registry, svc *services.Services, cfg *config.Config) *Gemini {
	gemini := NewGemini(svc.Gemini, svc.HTTP, GeminiOptions{
		FallbackModels:  cfg.Gemini.FallbackModels,
		EmbeddingModel:  cfg.Gemini.EmbeddingModel,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		RPMLimit:        cfg.Gemini.RPMLimit,
	})
	reg.Register("gemini", gemini.Factory())

	// 接口值不能直接持有 nil 的 *Blob
	var uploader storage.Uploader
	if blob := storage.NewBlob(svc.Blob, svc.BlobContainer); blob != nil {
		uploader = blob
	}

	reg.Register("openai", NewOpenAICompat("openai", "OPENAI_API_KEY", svc.OpenAI, svc.HTTP, uploader).Factory())
	reg.Register("openrouter", NewOpenAICompat("openrouter", "OPENROUTER_API_KEY", svc.OpenRouter, svc.HTTP, uploader).Factory())
	reg.Register("groq", NewOpenAICompat("groq", "GROQ_API_KEY", svc.Groq, svc.HTTP, uploader).Factory())

	return gemini
}
