package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"imagen-batch/common"
	"imagen-batch/internal/genai/gemini"
	"imagen-batch/internal/prompts"
)

// Generator 根据模型和文本提示生成一张图片
type Generator interface {
	GenerateImage(ctx context.Context, model string, prompt string) (*gemini.Image, error)
}

// Sink 保存一张生成成功的图片，返回文件路径
type Sink interface {
	Save(ctx context.Context, promptName string, variant int, data []byte, mimeType string) (string, error)
}

// Failure 一个最终失败的 (prompt, variant)
type Failure struct {
	Name     string
	Variant  int
	Attempts int
	Err      error
}

// Summary 一次运行的统计结果
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
	Failures  []Failure
	Files     []string
}

// Runner 顺序执行批量生成
type Runner struct {
	generator Generator
	policy    RetryPolicy
	sleep     func(ctx context.Context, d time.Duration) error
	progress  io.Writer
}

// RunnerOption 配置 Runner
type RunnerOption func(*Runner)

// WithSleep 替换重试之间的等待函数
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) {
		r.sleep = sleep
	}
}

// WithProgress 把逐条进度输出到 w
func WithProgress(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.progress = w
	}
}

// NewRunner 创建 Runner
func NewRunner(generator Generator, policy RetryPolicy, opts ...RunnerOption) *Runner {
	r := &Runner{
		generator: generator,
		policy:    policy,
		sleep:     sleepContext,
		progress:  io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 依次为每个 prompt 生成 settings.Variants 张图片
// 单张图片失败只记录并继续；context 取消时立即停止并返回已完成部分的统计
func (r *Runner) Run(ctx context.Context, sink Sink, settings Settings, entries []prompts.Entry) (Summary, error) {
	var summary Summary
	if len(entries) == 0 {
		return summary, nil
	}
	if settings.Model == "" {
		return summary, errors.New("model is required")
	}
	if !ValidVariants(settings.Variants) {
		return summary, fmt.Errorf("images per prompt must be between %d and %d, got %d", MinVariants, MaxVariants, settings.Variants)
	}

	summary.Total = len(entries) * settings.Variants
	for i, entry := range entries {
		fmt.Fprintf(r.progress, "[%d/%d] Generating: %s...\n", i+1, len(entries), entry.Name)

		for variant := 1; variant <= settings.Variants; variant++ {
			if err := ctx.Err(); err != nil {
				return summary, err
			}

			log := common.WithFields(map[string]interface{}{
				"model":   settings.Model,
				"prompt":  entry.Name,
				"variant": variant,
			})

			img, attempts, err := r.generate(ctx, settings.Model, entry, variant)
			if err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				log.WithError(err).WithField("attempts", attempts).Error("Image generation failed")
				fmt.Fprintf(r.progress, "  Failed %s #%d after %d attempt(s): %v\n", entry.Name, variant, attempts, err)
				summary.fail(Failure{Name: entry.Name, Variant: variant, Attempts: attempts, Err: err})
				continue
			}

			path, err := sink.Save(ctx, entry.Name, variant, img.Data, img.MIMEType)
			if err != nil {
				log.WithError(err).Error("Failed to save image")
				fmt.Fprintf(r.progress, "  Failed to save %s #%d: %v\n", entry.Name, variant, err)
				summary.fail(Failure{Name: entry.Name, Variant: variant, Attempts: attempts, Err: err})
				continue
			}

			log.WithField("file", path).Info("Image saved")
			fmt.Fprintf(r.progress, "  Saved: %s\n", filepath.Base(path))
			summary.Succeeded++
			summary.Files = append(summary.Files, path)
		}
	}
	return summary, nil
}

// generate 调用生成接口，按策略重试；返回实际尝试次数
func (r *Runner) generate(ctx context.Context, model string, entry prompts.Entry, variant int) (*gemini.Image, int, error) {
	maxAttempts := r.policy.attempts()
	for attempt := 1; ; attempt++ {
		img, err := r.generator.GenerateImage(ctx, model, entry.Text)
		if err == nil && img == nil {
			err = errors.New("generator returned no image")
		}
		if err == nil {
			return img, attempt, nil
		}
		if ctx.Err() != nil || attempt >= maxAttempts || !r.policy.retryable(err) {
			return nil, attempt, err
		}

		wait := r.policy.Delay(attempt)
		common.WithError(err).WithFields(map[string]interface{}{
			"prompt":  entry.Name,
			"variant": variant,
			"attempt": attempt,
			"wait":    wait.String(),
		}).Warn("Image generation attempt failed, retrying")
		fmt.Fprintf(r.progress, "  Retry %d/%d in %s... (%v)\n", attempt, maxAttempts-1, wait, err)

		if err := r.sleep(ctx, wait); err != nil {
			return nil, attempt, err
		}
	}
}

func (s *Summary) fail(f Failure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}
