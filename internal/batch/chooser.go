package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// 每个 prompt 的图片数量范围
const (
	MinVariants = 1
	MaxVariants = 4
)

// 同一个问题连续无效回答的上限，超过后放弃
const maxInvalidAnswers = 5

var (
	// ErrCancelled 用户在确认环节取消
	ErrCancelled = errors.New("run cancelled by user")
	// ErrTooManyInvalidAnswers 多次给出无效的选择
	ErrTooManyInvalidAnswers = errors.New("too many invalid answers")
)

// Plan 开始生成前展示给用户确认的摘要
type Plan struct {
	Model    string
	Prompts  int
	Variants int
}

// Total 预计生成的图片数量
func (p Plan) Total() int {
	return p.Prompts * p.Variants
}

// Settings 用户选定的运行参数
type Settings struct {
	Model    string
	Variants int
}

// Chooser 提供模型选择、每个 prompt 的图片数量以及最终确认
// 终端交互由 interactive.Terminal 实现，测试中可以替换为固定答案
type Chooser interface {
	ChooseModel(ctx context.Context, models []string) (string, error)
	ChooseVariants(ctx context.Context) (int, error)
	Confirm(ctx context.Context, plan Plan) (bool, error)
}

// ValidVariants 图片数量是否在 [MinVariants, MaxVariants] 范围内
func ValidVariants(n int) bool {
	return n >= MinVariants && n <= MaxVariants
}

// Prepare 通过 Chooser 收集运行参数
// 不在列表中的模型、超出范围的数量都会被拒绝并重新询问，不做截断
func Prepare(ctx context.Context, chooser Chooser, models []string, promptCount int) (Settings, error) {
	if len(models) == 0 {
		return Settings{}, errors.New("no models to choose from")
	}

	model, err := ask(ctx, func() (string, error) {
		return chooser.ChooseModel(ctx, models)
	}, func(m string) bool {
		return slices.Contains(models, m)
	})
	if err != nil {
		return Settings{}, fmt.Errorf("choose model: %w", err)
	}

	variants, err := ask(ctx, func() (int, error) {
		return chooser.ChooseVariants(ctx)
	}, ValidVariants)
	if err != nil {
		return Settings{}, fmt.Errorf("choose images per prompt: %w", err)
	}

	ok, err := chooser.Confirm(ctx, Plan{Model: model, Prompts: promptCount, Variants: variants})
	if err != nil {
		return Settings{}, fmt.Errorf("confirm: %w", err)
	}
	if !ok {
		return Settings{}, ErrCancelled
	}

	return Settings{Model: model, Variants: variants}, nil
}

// ask 重复询问直到 valid 返回 true
func ask[T any](ctx context.Context, question func() (T, error), valid func(T) bool) (T, error) {
	var zero T
	for i := 0; i < maxInvalidAnswers; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		answer, err := question()
		if err != nil {
			return zero, err
		}
		if valid(answer) {
			return answer, nil
		}
	}
	return zero, ErrTooManyInvalidAnswers
}
