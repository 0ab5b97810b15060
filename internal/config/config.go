package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig     `mapstructure:"bot"`
	Discord    DiscordConfig `mapstructure:"discord"`
	OneBot     OneBotConfig  `mapstructure:"onebot"`
	Gemini     GeminiConfig  `mapstructure:"gemini"`
	OpenAI     OpenAIConfig  `mapstructure:"openai"`
	OpenRouter KeyConfig     `mapstructure:"openrouter"`
	Groq       KeyConfig     `mapstructure:"groq"`
	Azure      AzureConfig   `mapstructure:"azure"`
	Memory     MemoryConfig  `mapstructure:"memory"`
	Data       DataConfig    `mapstructure:"data"`
	Models     []string      `mapstructure:"models"`
}

type BotConfig struct {
	Name              string `mapstructure:"name"`
	Platform          string `mapstructure:"platform"` // discord / onebot
	CommandPrefix     string `mapstructure:"command_prefix"`
	DefaultModel      string `mapstructure:"default_model"`
	SystemPrompt      string `mapstructure:"system_prompt"`
	SharedChatHistory bool   `mapstructure:"shared_chat_history"`
	MaxContextTurns   int    `mapstructure:"max_context_turns"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

type OneBotConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
	OwnerQQ     int64  `mapstructure:"owner_qq"`
}

type GeminiConfig struct {
	APIKey          string   `mapstructure:"api_key"`
	FallbackModels  []string `mapstructure:"fallback_models"`
	EmbeddingModel  string   `mapstructure:"embedding_model"`
	Temperature     float32  `mapstructure:"temperature"`
	MaxOutputTokens int32    `mapstructure:"max_output_tokens"`
	RPMLimit        int      `mapstructure:"rpm_limit"`
}

type OpenAIConfig struct {
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	UseAzure bool   `mapstructure:"use_azure"`
}

type KeyConfig struct {
	APIKey string `mapstructure:"api_key"`
}

type AzureConfig struct {
	StorageConnectionString string `mapstructure:"storage_connection_string"`
	Container               string `mapstructure:"container"`
}

type MemoryConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float32 `mapstructure:"min_similarity"`
}

type DataConfig struct {
	HistoryDB    string `mapstructure:"history_db"`
	PersonasFile string `mapstructure:"personas_file"`
	VectorsDir   string `mapstructure:"vectors_dir"`
}

// 兼容旧部署的环境变量名
var envBindings = map[string]string{
	"gemini.api_key":                  "GEMINI_API_KEY",
	"openai.api_key":                  "OPENAI_API_KEY",
	"openai.endpoint":                 "OPENAI_API_ENDPOINT",
	"openai.use_azure":                "OPENAI_USE_AZURE_OPENAI",
	"openrouter.api_key":              "OPENROUTER_API_KEY",
	"groq.api_key":                    "GROQ_API_KEY",
	"azure.storage_connection_string": "AZURE_STORAGE_CONNECTION_STRING",
	"bot.shared_chat_history":         "SHARED_CHAT_HISTORY",
	"discord.token":                   "DISCORD_TOKEN",
	"onebot.access_token":             "NAPCAT_ACCESS_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.name", "Jakey")
	v.SetDefault("bot.platform", "discord")
	v.SetDefault("bot.command_prefix", "!")
	v.SetDefault("bot.default_model", "gemini::gemini-2.5-flash")
	v.SetDefault("bot.system_prompt", "jakey_system_prompt")
	v.SetDefault("bot.max_context_turns", 20)
	v.SetDefault("onebot.ws_url", "ws://127.0.0.1:3001")
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.max_output_tokens", 8192)
	v.SetDefault("gemini.rpm_limit", 15)
	v.SetDefault("azure.container", "attachments")
	v.SetDefault("memory.top_k", 3)
	v.SetDefault("memory.min_similarity", 0.6)
	v.SetDefault("data.history_db", "data/history.db")
	v.SetDefault("data.personas_file", "configs/assistants.yaml")
	v.SetDefault("data.vectors_dir", "data/vectors")
	v.SetDefault("models", []string{
		"gemini::gemini-2.5-flash",
		"gemini::gemini-2.5-pro",
		"openai::gpt-4o",
		"openai::gpt-4o-mini",
		"openrouter::deepseek/deepseek-chat",
		"groq::llama-3.3-70b-versatile",
	})
}

// Load 读取配置文件（可选）并叠加环境变量
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if !strings.Contains(c.Bot.DefaultModel, "::") {
		return fmt.Errorf("bot.default_model must look like provider::name, got %q", c.Bot.DefaultModel)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("models list is empty")
	}
	return nil
}

// ValidatePlatform 检查所选聊天平台的连接配置，只有需要连上平台时才调用
func (c *Config) ValidatePlatform() error {
	switch c.Bot.Platform {
	case "discord":
		if c.Discord.Token == "" {
			return fmt.Errorf("discord.token is required (set in config or DISCORD_TOKEN env)")
		}
	case "onebot":
		if c.OneBot.WSURL == "" {
			return fmt.Errorf("onebot.ws_url is required")
		}
	default:
		return fmt.Errorf("unknown bot.platform %q", c.Bot.Platform)
	}
	return nil
}
