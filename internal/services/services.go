// Package services 负责启动和关闭外部 SDK 客户端。
package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/liao/askbot/internal/config"
)

const (
	openRouterBaseURL = "https://openrouter.ai/api/v1"
	groqBaseURL       = "https://api.groq.com/openai/v1"
	azureAPIVersion   = "preview"
)

// Services 持有所有外部客户端，未配置的为 nil
type Services struct {
	Gemini     *genai.Client
	OpenAI     *openai.Client
	OpenRouter *openai.Client
	Groq       *openai.Client
	HTTP       *http.Client
	Blob       *azblob.Client
	// BlobContainer 附件上传的容器名
	BlobContainer string
}

// Start 按配置初始化客户端。只有 Gemini 客户端创建失败才返回错误，
// 其他客户端缺配置或失败时跳过
func Start(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{BlobContainer: cfg.Azure.Container}

	s.HTTP = &http.Client{Timeout: 2 * time.Minute}
	slog.Info("http client initialized")

	// Gemini
	if cfg.Gemini.APIKey != "" {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:     cfg.Gemini.APIKey,
			Backend:    genai.BackendGeminiAPI,
			HTTPClient: s.HTTP,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		s.Gemini = client
		slog.Info("gemini client initialized")
	} else {
		slog.Warn("GEMINI_API_KEY not set, skipping gemini client")
	}

	// OpenAI，可选走 Azure OpenAI
	if cfg.OpenAI.APIKey != "" {
		var oc openai.ClientConfig
		if cfg.OpenAI.UseAzure && cfg.OpenAI.Endpoint != "" {
			oc = openai.DefaultAzureConfig(cfg.OpenAI.APIKey, cfg.OpenAI.Endpoint)
			oc.APIVersion = azureAPIVersion
			slog.Info("using azure openai endpoint", "endpoint", cfg.OpenAI.Endpoint, "api_version", azureAPIVersion)
		} else {
			oc = openai.DefaultConfig(cfg.OpenAI.APIKey)
			if cfg.OpenAI.Endpoint != "" {
				oc.BaseURL = cfg.OpenAI.Endpoint
			}
		}
		oc.HTTPClient = s.HTTP
		s.OpenAI = openai.NewClientWithConfig(oc)
		slog.Info("openai client initialized")
	} else {
		slog.Warn("OPENAI_API_KEY not set, skipping openai client")
	}

	if cfg.OpenRouter.APIKey != "" {
		s.OpenRouter = newCompatClient(cfg.OpenRouter.APIKey, openRouterBaseURL, s.HTTP)
		slog.Info("openai client for openrouter initialized")
	}

	if cfg.Groq.APIKey != "" {
		s.Groq = newCompatClient(cfg.Groq.APIKey, groqBaseURL, s.HTTP)
		slog.Info("openai client for groq initialized")
	}

	// Azure Blob Storage
	if conn := cfg.Azure.StorageConnectionString; conn != "" {
		blob, err := azblob.NewClientFromConnectionString(conn, nil)
		if err != nil {
			slog.Error("create azure blob client failed, skipping", "error", err)
		} else {
			s.Blob = blob
			slog.Info("azure blob storage client initialized", "container", s.BlobContainer)
		}
	} else {
		slog.Warn("AZURE_STORAGE_CONNECTION_STRING not set, skipping azure blob storage client")
	}

	return s, nil
}

func newCompatClient(apiKey, baseURL string, hc *http.Client) *openai.Client {
	oc := openai.DefaultConfig(apiKey)
	oc.BaseURL = baseURL
	oc.HTTPClient = hc
	return openai.NewClientWithConfig(oc)
}

// Stop 释放连接。部分初始化的 Services 也可以安全调用
func (s *Services) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	if s.HTTP != nil {
		s.HTTP.CloseIdleConnections()
		slog.Info("http client closed")
	}
	if s.Blob != nil {
		// azblob.Client 没有 Close
		s.Blob = nil
		slog.Info("azure blob storage client released")
	}
}
