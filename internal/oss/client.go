package oss

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"imagen-batch/common"
)

// NewOSSClientFromConfig 从配置创建 OSS 客户端
func NewOSSClientFromConfig(ctx context.Context, cfg *common.Config) (OSSIface, error) {
	return NewS3Client(ctx, S3Config{
		Endpoint:  cfg.OSSEndpoint,
		Region:    cfg.OSSRegion,
		AccessKey: cfg.OSSAccessKey,
		SecretKey: cfg.OSSSecretKey,
	})
}

// Mirror 把本地生成的图片同步到 OSS，key 为 <prefix>/<run>/<file>
type Mirror struct {
	client OSSIface
	bucket string
	prefix string
}

// NewMirror 创建 OSS 同步器
func NewMirror(client OSSIface, bucket, prefix string) *Mirror {
	return &Mirror{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

// NewMirrorFromConfig 未配置 OSS_BUCKET 时返回 nil
func NewMirrorFromConfig(ctx context.Context, cfg *common.Config) (*Mirror, error) {
	if !cfg.OSSEnabled() {
		return nil, nil
	}
	client, err := NewOSSClientFromConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	return NewMirror(client, cfg.OSSBucket, cfg.OSSPrefix), nil
}

// Upload 上传一个文件，返回对象 URL
func (m *Mirror) Upload(ctx context.Context, runName, fileName string, data []byte, contentType string) (string, error) {
	key := path.Join(m.prefix, runName, fileName)
	if _, err := m.client.UploadFile(ctx, m.bucket, key, bytes.NewReader(data), contentType); err != nil {
		return "", err
	}
	return m.client.ObjectURL(m.bucket, key), nil
}
