package interactive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"imagen-batch/internal/batch"
)

// ErrInputClosed 输入流已结束（例如 Ctrl-D 或管道关闭）
var ErrInputClosed = errors.New("input closed")

// Terminal 基于行输入的交互式选择，实现 batch.Chooser
type Terminal struct {
	in    *bufio.Reader
	out   io.Writer
	once  sync.Once
	lines chan readResult
}

type readResult struct {
	line string
	err  error
}

// NewTerminal 创建 Terminal，通常传入 os.Stdin 和 os.Stdout
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{
		in:    bufio.NewReader(in),
		out:   out,
		lines: make(chan readResult),
	}
}

// ChooseModel 展示编号列表并读取选择，无效输入会重新询问
func (t *Terminal) ChooseModel(ctx context.Context, models []string) (string, error) {
	line := strings.Repeat("─", 42)
	fmt.Fprintf(t.out, "\n%s\n", line)
	fmt.Fprintln(t.out, "  Available Image Generation Models")
	fmt.Fprintln(t.out, line)
	for i, m := range models {
		fmt.Fprintf(t.out, "  [%d] %s\n", i+1, m)
	}
	fmt.Fprintln(t.out, line)

	for {
		answer, err := t.ask(ctx, fmt.Sprintf("Select model (1-%d): ", len(models)))
		if err != nil {
			return "", err
		}
		idx, err := strconv.Atoi(answer)
		if err == nil && idx >= 1 && idx <= len(models) {
			fmt.Fprintf(t.out, "  -> %s\n", models[idx-1])
			return models[idx-1], nil
		}
		fmt.Fprintln(t.out, "  Invalid choice, try again.")
	}
}

// ChooseVariants 读取每个 prompt 的图片数量，空输入默认为 1，超出范围重新询问
func (t *Terminal) ChooseVariants(ctx context.Context) (int, error) {
	prompt := fmt.Sprintf("Images per prompt (%d-%d) [default: %d]: ", batch.MinVariants, batch.MaxVariants, batch.MinVariants)
	for {
		answer, err := t.ask(ctx, prompt)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return batch.MinVariants, nil
		}
		n, err := strconv.Atoi(answer)
		if err == nil && batch.ValidVariants(n) {
			return n, nil
		}
		fmt.Fprintf(t.out, "  Enter a number between %d and %d.\n", batch.MinVariants, batch.MaxVariants)
	}
}

// Confirm 展示运行摘要，空输入、y、yes 视为确认
func (t *Terminal) Confirm(ctx context.Context, plan batch.Plan) (bool, error) {
	line := strings.Repeat("=", 50)
	fmt.Fprintf(t.out, "\n%s\n", line)
	fmt.Fprintf(t.out, "  Model:             %s\n", plan.Model)
	fmt.Fprintf(t.out, "  Prompts:           %d\n", plan.Prompts)
	fmt.Fprintf(t.out, "  Images per prompt: %d\n", plan.Variants)
	fmt.Fprintf(t.out, "  Total images:      %d\n", plan.Total())
	fmt.Fprintln(t.out, line)

	answer, err := t.ask(ctx, "Start generation? (Y/n): ")
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// ask 输出提示并读取一行，去掉首尾空白；ctx 取消时立即返回，不等待输入
func (t *Terminal) ask(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.once.Do(func() { go t.readLines() })
	fmt.Fprint(t.out, prompt)

	var (
		res readResult
		ok  bool
	)
	select {
	case <-ctx.Done():
		fmt.Fprintln(t.out)
		return "", ctx.Err()
	case res, ok = <-t.lines:
	}
	// 最后一行没有换行符时仍然有效
	if !ok || (errors.Is(res.err, io.EOF) && res.line == "") {
		fmt.Fprintln(t.out)
		return "", ErrInputClosed
	}
	if res.err != nil && !errors.Is(res.err, io.EOF) {
		return "", fmt.Errorf("read input: %w", res.err)
	}
	return strings.TrimSpace(res.line), nil
}

// readLines 在单独的 goroutine 中逐行读取输入，读到错误后关闭 lines
// 阻塞的读取无法中断，所以只有这一个 goroutine 访问 t.in
func (t *Terminal) readLines() {
	defer close(t.lines)
	for {
		line, err := t.in.ReadString('\n')
		t.lines <- readResult{line: line, err: err}
		if err != nil {
			return
		}
	}
}
