package output

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"imagen-batch/common"
	"imagen-batch/internal/utils"
)

// 目录名使用毫秒精度，同一秒内的多次运行也能区分
const timestampLayout = "2006-01-02_15-04-05.000"

// 同一时间戳下最多尝试的后缀数量
const maxDirSuffix = 1000

// Mirror 把保存好的图片同步到远端存储
type Mirror interface {
	Upload(ctx context.Context, runName, fileName string, data []byte, contentType string) (string, error)
}

// Run 一次运行对应的输出目录
type Run struct {
	id     string
	name   string
	dir    string
	mirror Mirror

	// prompt 名称 -> 文件名主体
	stems map[string]string
	// 已占用的文件名主体（小写，兼容大小写不敏感的文件系统）
	taken map[string]struct{}
}

// Option 配置 Run
type Option func(*Run)

// WithMirror 保存后同步上传
func WithMirror(m Mirror) Option {
	return func(r *Run) {
		r.mirror = m
	}
}

// NewRun 在 baseDir 下创建本次运行独占的目录
// 目录名为时间戳；已存在时依次追加 _2、_3 ...，os.Mkdir 保证不会与其他运行共用
func NewRun(baseDir string, now time.Time, opts ...Option) (*Run, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	base := now.Format(timestampLayout)
	for i := 1; i <= maxDirSuffix; i++ {
		name := base
		if i > 1 {
			name = fmt.Sprintf("%s_%d", base, i)
		}
		dir := filepath.Join(baseDir, name)
		err := os.Mkdir(dir, 0755)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create run directory: %w", err)
		}

		r := &Run{
			id:    uuid.NewString(),
			name:  name,
			dir:   dir,
			stems: make(map[string]string),
			taken: make(map[string]struct{}),
		}
		for _, opt := range opts {
			opt(r)
		}
		common.WithFields(map[string]interface{}{
			"run_id": r.id,
			"dir":    dir,
		}).Info("Run directory created")
		return r, nil
	}
	return nil, fmt.Errorf("failed to create run directory: %s has %d existing runs", base, maxDirSuffix)
}

// ID 本次运行的唯一标识，用于日志关联
func (r *Run) ID() string {
	return r.id
}

// Name 目录名（时间戳）
func (r *Run) Name() string {
	return r.name
}

// Dir 目录路径
func (r *Run) Dir() string {
	return r.dir
}

// Save 保存一张图片到 <dir>/<stem>_<variant><ext>，返回文件路径
// 先写临时文件再 rename，失败时不会留下半截文件
func (r *Run) Save(ctx context.Context, promptName string, variant int, data []byte, mimeType string) (string, error) {
	fileName := fmt.Sprintf("%s_%d%s", r.stem(promptName), variant, utils.GetExtensionFromMimeType(mimeType))
	path := filepath.Join(r.dir, fileName)

	if err := writeFileAtomic(r.dir, path, data); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", fileName, err)
	}

	if r.mirror != nil {
		contentType := mimeType
		if contentType == "" {
			contentType = "image/png"
		}
		url, err := r.mirror.Upload(ctx, r.name, fileName, data, contentType)
		if err != nil {
			// 本地文件已保存，同步失败只记录告警
			common.WithError(err).WithFields(map[string]interface{}{
				"run_id": r.id,
				"file":   fileName,
			}).Warn("Failed to mirror image to OSS")
		} else {
			common.WithFields(map[string]interface{}{
				"run_id": r.id,
				"file":   fileName,
				"url":    url,
			}).Info("Image mirrored to OSS")
		}
	}

	return path, nil
}

// stem 返回 prompt 名称对应的文件名主体，不同名称清洗后冲突时追加 -2、-3 ...
func (r *Run) stem(promptName string) string {
	if s, ok := r.stems[promptName]; ok {
		return s
	}
	base := utils.SanitizeFileName(promptName)
	s := base
	for n := 2; ; n++ {
		if _, used := r.taken[strings.ToLower(s)]; !used {
			break
		}
		s = fmt.Sprintf("%s-%d", base, n)
	}
	r.taken[strings.ToLower(s)] = struct{}{}
	r.stems[promptName] = s
	return s
}

// writeFileAtomic 写入同目录下的临时文件后 rename 到目标路径
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
