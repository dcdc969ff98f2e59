package gemini

import "context"

// Image 一次生成返回的图片
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageIface 图片模型的发现与生成
type ImageIface interface {
	// ListImageModels 列出支持图片生成的模型名称（不带 "models/" 前缀）
	ListImageModels(ctx context.Context) ([]string, error)
	// GenerateImage 用指定模型根据文本提示生成一张图片
	GenerateImage(ctx context.Context, model string, prompt string) (*Image, error)
}
