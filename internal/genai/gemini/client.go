package gemini

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"imagen-batch/common"
	"imagen-batch/internal/utils"
)

// 默认请求超时时间
const defaultGenAITimeout = 60 * time.Second

// ErrNoImage 接口调用成功但没有返回图片（例如被安全策略过滤），重试没有意义
var ErrNoImage = errors.New("no image returned by API")

// DefaultImageModels 接口没有返回任何图片模型时使用的已知模型
var DefaultImageModels = []string{
	"imagen-3.0-generate-001",
	"imagen-3.0-generate-002",
	"imagen-4.0-generate-001",
	"imagen-4.0-ultra-generate-001",
}

// Client Gemini 客户端实现
type Client struct {
	client  *genai.Client
	timeout time.Duration
	limiter *rate.Limiter
}

// Config Gemini 客户端配置
type Config struct {
	APIKey  string // API Key
	BaseURL string // 自定义 Base URL，如果为空则使用默认值
	// 单次请求超时时间
	Timeout time.Duration
	// 每分钟最多发起的生成请求数，0 表示不限制
	RequestsPerMinute int
}

// NewClient 创建新的 Gemini 客户端
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}

	// 如果提供了自定义 Base URL，设置 HTTPOptions
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGenAITimeout
	}

	return &Client{
		client:  client,
		timeout: timeout,
		limiter: newLimiter(cfg.RequestsPerMinute),
	}, nil
}

// newLimiter 按每分钟请求数构造限流器，rpm <= 0 时不限流
func newLimiter(rpm int) *rate.Limiter {
	if rpm <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
}

// Close 关闭客户端（genai.Client 不需要显式关闭）
func (c *Client) Close() error {
	return nil
}

// ListImageModels 查询可用模型并筛选出图片生成模型
// 查询失败直接返回错误；查询成功但没有图片模型时回退到 DefaultImageModels
func (c *Client) ListImageModels(ctx context.Context) ([]string, error) {
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var models []*genai.Model
	for model, err := range c.client.Models.All(ctx) {
		if err != nil {
			common.WithError(err).Error("Failed to list models from Gemini API")
			return nil, fmt.Errorf("failed to list models: %w", err)
		}
		models = append(models, model)
	}

	names := filterImageModels(models)
	common.WithFields(map[string]interface{}{
		"total": len(models),
		"image": len(names),
	}).Debug("Models listed")

	if len(names) == 0 {
		common.Warnf("No image generation models returned by API, using %d known defaults", len(DefaultImageModels))
		return slices.Clone(DefaultImageModels), nil
	}
	return names, nil
}

// filterImageModels 保留 Imagen 模型和支持 generateContent 的 Gemini 图片模型，去重并排序
func filterImageModels(models []*genai.Model) []string {
	names := lo.FilterMap(models, func(m *genai.Model, _ int) (string, bool) {
		if m == nil {
			return "", false
		}
		name := shortModelName(m.Name)
		if name == "" {
			return "", false
		}
		if isImagenModel(name) {
			return name, true
		}
		lower := strings.ToLower(name)
		return name, strings.Contains(lower, "image") && slices.Contains(m.SupportedActions, "generateContent")
	})
	names = lo.Uniq(names)
	slices.Sort(names)
	return names
}

// shortModelName 去掉 "models/" 前缀
func shortModelName(name string) string {
	return strings.TrimPrefix(name, "models/")
}

// isImagenModel Imagen 系列走 GenerateImages 接口，其余走 GenerateContent
func isImagenModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "imagen")
}

// GenerateImage 文生图：根据文本提示生成一张图片
func (c *Client) GenerateImage(ctx context.Context, model string, prompt string) (*Image, error) {
	log := common.WithFields(map[string]interface{}{
		"model":  model,
		"prompt": utils.TruncateForLog(prompt, 80),
	})
	log.Debug("Starting image generation")

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	// 为本次请求设置超时时间，避免无休止等待
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		img *Image
		err error
	)
	if isImagenModel(model) {
		img, err = c.generateWithImagen(ctx, model, prompt)
	} else {
		img, err = c.generateWithContent(ctx, model, prompt)
	}
	if err != nil {
		log.WithError(err).Warn("Image generation failed")
		return nil, err
	}

	log.WithFields(map[string]interface{}{
		"mime_type": img.MIMEType,
		"size":      len(img.Data),
	}).Debug("Image generated successfully")
	return img, nil
}

// generateWithImagen 调用 Imagen 的 GenerateImages 接口，每次只请求一张
func (c *Client) generateWithImagen(ctx context.Context, model, prompt string) (*Image, error) {
	resp, err := c.client.Models.GenerateImages(ctx, model, prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	return imageFromImagesResponse(resp)
}

// generateWithContent 调用 GenerateContent 接口，从候选结果中取出内联图片
func (c *Client) generateWithContent(ctx context.Context, model, prompt string) (*Image, error) {
	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	return imageFromContentResponse(resp)
}

// imageFromImagesResponse 取出第一张带数据的图片
func imageFromImagesResponse(resp *genai.GenerateImagesResponse) (*Image, error) {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, ErrNoImage
	}
	var reason string
	for _, generated := range resp.GeneratedImages {
		if generated == nil {
			continue
		}
		if generated.Image != nil && len(generated.Image.ImageBytes) > 0 {
			return &Image{
				Data:     generated.Image.ImageBytes,
				MIMEType: generated.Image.MIMEType,
			}, nil
		}
		if generated.RAIFilteredReason != "" {
			reason = generated.RAIFilteredReason
		}
	}
	if reason != "" {
		return nil, fmt.Errorf("%w: %s", ErrNoImage, reason)
	}
	return nil, ErrNoImage
}

// imageFromContentResponse 在第一个候选结果中查找内联图片数据
func imageFromContentResponse(resp *genai.GenerateContentResponse) (*Image, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, fmt.Errorf("%w: no candidates in response", ErrNoImage)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		if candidate.FinishReason != "" {
			return nil, fmt.Errorf("%w: finish reason %s", ErrNoImage, candidate.FinishReason)
		}
		return nil, fmt.Errorf("%w: no content in candidate", ErrNoImage)
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return &Image{
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
			}, nil
		}
	}
	return nil, ErrNoImage
}
