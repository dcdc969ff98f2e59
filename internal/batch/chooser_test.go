package batch

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedChooser 依次返回预设的答案
type scriptedChooser struct {
	models   []string
	variants []int
	confirm  bool
	plans    []Plan

	modelAsks   int
	variantAsks int
}

func (c *scriptedChooser) ChooseModel(_ context.Context, _ []string) (string, error) {
	c.modelAsks++
	if len(c.models) == 0 {
		return "", errors.New("no more answers")
	}
	m := c.models[0]
	c.models = c.models[1:]
	return m, nil
}

func (c *scriptedChooser) ChooseVariants(_ context.Context) (int, error) {
	c.variantAsks++
	if len(c.variants) == 0 {
		return 0, errors.New("no more answers")
	}
	v := c.variants[0]
	c.variants = c.variants[1:]
	return v, nil
}

func (c *scriptedChooser) Confirm(_ context.Context, plan Plan) (bool, error) {
	c.plans = append(c.plans, plan)
	return c.confirm, nil
}

var testModels = []string{"imagen-3.0-generate-002", "imagen-4.0-generate-001"}

func TestPrepare(t *testing.T) {
	chooser := &scriptedChooser{
		models:   []string{"imagen-4.0-generate-001"},
		variants: []int{3},
		confirm:  true,
	}

	settings, err := Prepare(context.Background(), chooser, testModels, 5)
	require.NoError(t, err)

	assert.Equal(t, Settings{Model: "imagen-4.0-generate-001", Variants: 3}, settings)
	require.Len(t, chooser.plans, 1)
	assert.Equal(t, 15, chooser.plans[0].Total())
}

func TestPrepareRerequestsOutOfRangeVariants(t *testing.T) {
	chooser := &scriptedChooser{
		models:   []string{"imagen-3.0-generate-002"},
		variants: []int{0, 5, -1, 4},
		confirm:  true,
	}

	settings, err := Prepare(context.Background(), chooser, testModels, 1)
	require.NoError(t, err)

	// 不截断：最终取的是用户重新给出的 4
	assert.Equal(t, 4, settings.Variants)
	assert.Equal(t, 4, chooser.variantAsks)
}

func TestPrepareRerequestsUnknownModel(t *testing.T) {
	chooser := &scriptedChooser{
		models:   []string{"dall-e-3", "imagen-3.0-generate-002"},
		variants: []int{1},
		confirm:  true,
	}

	settings, err := Prepare(context.Background(), chooser, testModels, 1)
	require.NoError(t, err)
	assert.Equal(t, "imagen-3.0-generate-002", settings.Model)
	assert.Equal(t, 2, chooser.modelAsks)
}

func TestPrepareGivesUpAfterRepeatedInvalidAnswers(t *testing.T) {
	chooser := &scriptedChooser{
		models:   []string{"imagen-3.0-generate-002"},
		variants: []int{9, 9, 9, 9, 9, 9, 9},
		confirm:  true,
	}

	_, err := Prepare(context.Background(), chooser, testModels, 1)
	assert.ErrorIs(t, err, ErrTooManyInvalidAnswers)
	assert.Equal(t, maxInvalidAnswers, chooser.variantAsks)
}

func TestPrepareCancelled(t *testing.T) {
	chooser := &scriptedChooser{
		models:   []string{"imagen-3.0-generate-002"},
		variants: []int{1},
		confirm:  false,
	}

	_, err := Prepare(context.Background(), chooser, testModels, 1)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestPrepareNoModels(t *testing.T) {
	_, err := Prepare(context.Background(), &scriptedChooser{}, nil, 1)
	assert.Error(t, err)
}

func TestPropagatesChooserErrors(t *testing.T) {
	_, err := Prepare(context.Background(), &scriptedChooser{}, testModels, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooManyInvalidAnswers)
}

func TestValidVariants(t *testing.T) {
	for n := -1; n <= 6; n++ {
		assert.Equal(t, n >= 1 && n <= 4, ValidVariants(n), "n=%d", n)
	}
}

func TestWriteSummary(t *testing.T) {
	var out bytes.Buffer
	WriteSummary(&out, Summary{
		Total:     4,
		Succeeded: 3,
		Failed:    1,
		Failures:  []Failure{{Name: "cat", Variant: 2}},
	}, "generated_images/run")

	assert.Contains(t, out.String(), "Completed: 3/4 succeeded, 1 failed")
	assert.Contains(t, out.String(), "Failed:    cat #2")
	assert.Contains(t, out.String(), "Output:    generated_images/run")
}

func TestWriteSummaryEmpty(t *testing.T) {
	var out bytes.Buffer
	WriteSummary(&out, Summary{}, "")

	assert.Contains(t, out.String(), "Completed: 0/0 succeeded, 0 failed")
	assert.NotContains(t, out.String(), "Failed:")
	assert.NotContains(t, out.String(), "Output:")
}
