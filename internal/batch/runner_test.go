package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagen-batch/internal/genai/gemini"
	"imagen-batch/internal/prompts"
)

// fakeGenerator 按 prompt 文本脚本化每次调用的结果
type fakeGenerator struct {
	// 每个 prompt 前 N 次调用失败
	failFirst map[string]int
	// 这些 prompt 每次都失败
	alwaysFail map[string]error
	calls      []string
	perPrompt  map[string]int
	onCall     func(n int)
}

func (g *fakeGenerator) GenerateImage(_ context.Context, model string, prompt string) (*gemini.Image, error) {
	if g.perPrompt == nil {
		g.perPrompt = make(map[string]int)
	}
	g.calls = append(g.calls, model+"|"+prompt)
	g.perPrompt[prompt]++
	if g.onCall != nil {
		g.onCall(len(g.calls))
	}
	if err, ok := g.alwaysFail[prompt]; ok {
		return nil, err
	}
	if g.perPrompt[prompt] <= g.failFirst[prompt] {
		return nil, fmt.Errorf("transient failure %d", g.perPrompt[prompt])
	}
	return &gemini.Image{Data: []byte("img:" + prompt), MIMEType: "image/png"}, nil
}

type savedImage struct {
	name    string
	variant int
	data    string
}

type fakeSink struct {
	saved []savedImage
	err   error
}

func (s *fakeSink) Save(_ context.Context, promptName string, variant int, data []byte, _ string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved = append(s.saved, savedImage{name: promptName, variant: variant, data: string(data)})
	return fmt.Sprintf("/out/%s_%d.png", promptName, variant), nil
}

// recordSleep 不真正等待，只记录等待时长
func recordSleep(delays *[]time.Duration) RunnerOption {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	})
}

func entries(n int) []prompts.Entry {
	out := make([]prompts.Entry, n)
	for i := range out {
		out[i] = prompts.Entry{Name: fmt.Sprintf("p%d", i+1), Text: fmt.Sprintf("text %d", i+1)}
	}
	return out
}

func TestRunCallsGeneratorExactlyKTimesV(t *testing.T) {
	for k := 1; k <= 3; k++ {
		for v := MinVariants; v <= MaxVariants; v++ {
			t.Run(fmt.Sprintf("k=%d,v=%d", k, v), func(t *testing.T) {
				gen := &fakeGenerator{}
				sink := &fakeSink{}
				runner := NewRunner(gen, DefaultRetryPolicy())

				summary, err := runner.Run(context.Background(), sink, Settings{Model: "imagen", Variants: v}, entries(k))
				require.NoError(t, err)

				assert.Len(t, gen.calls, k*v)
				assert.Len(t, sink.saved, k*v)
				assert.Equal(t, k*v, summary.Total)
				assert.Equal(t, k*v, summary.Succeeded)
				assert.Zero(t, summary.Failed)
				assert.Len(t, summary.Files, k*v)
			})
		}
	}
}

func TestRunOrderAndVariantNumbering(t *testing.T) {
	sink := &fakeSink{}
	runner := NewRunner(&fakeGenerator{}, DefaultRetryPolicy())

	_, err := runner.Run(context.Background(), sink, Settings{Model: "m", Variants: 2}, entries(2))
	require.NoError(t, err)

	assert.Equal(t, []savedImage{
		{name: "p1", variant: 1, data: "img:text 1"},
		{name: "p1", variant: 2, data: "img:text 1"},
		{name: "p2", variant: 1, data: "img:text 2"},
		{name: "p2", variant: 2, data: "img:text 2"},
	}, sink.saved)
}

func TestRunSucceedsOnThirdAttempt(t *testing.T) {
	var delays []time.Duration
	gen := &fakeGenerator{failFirst: map[string]int{"text 1": 2}}
	sink := &fakeSink{}
	runner := NewRunner(gen, RetryPolicy{MaxAttempts: 3, Backoff: 3 * time.Second}, recordSleep(&delays))

	summary, err := runner.Run(context.Background(), sink, Settings{Model: "m", Variants: 1}, entries(1))
	require.NoError(t, err)

	assert.Len(t, gen.calls, 3)
	assert.Equal(t, []savedImage{{name: "p1", variant: 1, data: "img:text 1"}}, sink.saved)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Zero(t, summary.Failed)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, delays)
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	var delays []time.Duration
	boom := errors.New("quota exceeded")
	gen := &fakeGenerator{alwaysFail: map[string]error{"text 1": boom}}
	sink := &fakeSink{}
	runner := NewRunner(gen, DefaultRetryPolicy(), recordSleep(&delays))

	summary, err := runner.Run(context.Background(), sink, Settings{Model: "m", Variants: 1}, entries(2))
	require.NoError(t, err)

	// 第一个 prompt 尝试 3 次，第二个 1 次
	assert.Len(t, gen.calls, 4)
	assert.Equal(t, []savedImage{{name: "p2", variant: 1, data: "img:text 2"}}, sink.saved)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "p1", summary.Failures[0].Name)
	assert.Equal(t, 1, summary.Failures[0].Variant)
	assert.Equal(t, 3, summary.Failures[0].Attempts)
	assert.ErrorIs(t, summary.Failures[0].Err, boom)
	assert.Len(t, delays, 2)
}

func TestRunDoesNotRetryNonRetryableErrors(t *testing.T) {
	gen := &fakeGenerator{alwaysFail: map[string]error{"text 1": gemini.ErrNoImage}}
	policy := DefaultRetryPolicy()
	policy.Retryable = func(err error) bool { return !errors.Is(err, gemini.ErrNoImage) }
	var delays []time.Duration
	runner := NewRunner(gen, policy, recordSleep(&delays))

	summary, err := runner.Run(context.Background(), &fakeSink{}, Settings{Model: "m", Variants: 1}, entries(1))
	require.NoError(t, err)

	assert.Len(t, gen.calls, 1)
	assert.Empty(t, delays)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Failures[0].Attempts)
}

func TestRunCountsSaveErrorsAsFailures(t *testing.T) {
	gen := &fakeGenerator{}
	runner := NewRunner(gen, DefaultRetryPolicy())

	summary, err := runner.Run(context.Background(), &fakeSink{err: errors.New("disk full")}, Settings{Model: "m", Variants: 2}, entries(1))
	require.NoError(t, err)

	// 保存失败不重新调用接口
	assert.Len(t, gen.calls, 2)
	assert.Zero(t, summary.Succeeded)
	assert.Equal(t, 2, summary.Failed)
}

func TestRunEmptyPrompts(t *testing.T) {
	gen := &fakeGenerator{}
	sink := &fakeSink{}
	runner := NewRunner(gen, DefaultRetryPolicy())

	summary, err := runner.Run(context.Background(), sink, Settings{}, nil)
	require.NoError(t, err)

	assert.Empty(t, gen.calls)
	assert.Empty(t, sink.saved)
	assert.Equal(t, Summary{}, summary)
}

func TestRunRejectsInvalidSettings(t *testing.T) {
	runner := NewRunner(&fakeGenerator{}, DefaultRetryPolicy())

	_, err := runner.Run(context.Background(), &fakeSink{}, Settings{Model: "m", Variants: 5}, entries(1))
	assert.Error(t, err)
	_, err = runner.Run(context.Background(), &fakeSink{}, Settings{Model: "m", Variants: 0}, entries(1))
	assert.Error(t, err)
	_, err = runner.Run(context.Background(), &fakeSink{}, Settings{Variants: 1}, entries(1))
	assert.Error(t, err)
}

func TestRunStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}
	sink := &fakeSink{}
	runner := NewRunner(gen, DefaultRetryPolicy())

	summary, err := runner.Run(ctx, sink, Settings{Model: "m", Variants: 2}, entries(3))
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, gen.calls, 2)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Zero(t, summary.Failed)
}

func TestRunStopsDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &fakeGenerator{alwaysFail: map[string]error{"text 1": errors.New("unavailable")}}
	runner := NewRunner(gen, DefaultRetryPolicy(), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	summary, err := runner.Run(ctx, &fakeSink{}, Settings{Model: "m", Variants: 1}, entries(2))
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, gen.calls, 1)
	assert.Zero(t, summary.Failed)
}

func TestRunWritesProgress(t *testing.T) {
	var out bytes.Buffer
	var delays []time.Duration
	gen := &fakeGenerator{failFirst: map[string]int{"text 1": 1}}
	runner := NewRunner(gen, DefaultRetryPolicy(), WithProgress(&out), recordSleep(&delays))

	_, err := runner.Run(context.Background(), &fakeSink{}, Settings{Model: "m", Variants: 1}, entries(1))
	require.NoError(t, err)

	assert.Contains(t, out.String(), "[1/1] Generating: p1...")
	assert.Contains(t, out.String(), "Retry 1/2 in 3s")
	assert.Contains(t, out.String(), "Saved: p1_1.png")
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{Backoff: 2 * time.Second}
	assert.Equal(t, 1, p.attempts())
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.True(t, p.retryable(errors.New("x")))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
