package gemini

import (
	"fmt"

	"imagen-batch/common"
)

// NewGeminiClientFromConfig 从配置创建 Gemini 客户端
func NewGeminiClientFromConfig(cfg *common.Config) (*Client, error) {
	client, err := NewClient(Config{
		APIKey:            cfg.GenAIAPIKey,
		BaseURL:           cfg.GenAIBaseURL,
		Timeout:           cfg.GenAITimeout,
		RequestsPerMinute: cfg.GenAIRequestsPerMinute,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}
