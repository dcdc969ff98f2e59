package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"imagen-batch/common"
	"imagen-batch/internal/batch"
	"imagen-batch/internal/genai/gemini"
	"imagen-batch/internal/interactive"
	"imagen-batch/internal/oss"
	"imagen-batch/internal/output"
	"imagen-batch/internal/prompts"
)

// 退出码
const (
	exitOK          = 0
	exitFatal       = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	fmt.Println()
	fmt.Println("  Bulk Image Generator")
	fmt.Println("  ====================")
	fmt.Println()

	// 加载配置
	config, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, common.ErrMissingAPIKey) {
			fmt.Fprintln(os.Stderr, "Add your key to .env:  GOOGLE_API_KEY=your_key_here")
		}
		return exitFatal
	}
	common.WithFields(map[string]interface{}{
		"base_url":     config.GenAIBaseURL,
		"api_key":      maskAPIKey(config.GenAIAPIKey),
		"max_attempts": config.GenAIMaxAttempts,
		"backoff":      config.GenAIRetryBackoff.String(),
	}).Info("Configuration loaded")

	// Ctrl-C 立即停止，已保存的文件保留
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	set, err := prompts.Load(config.PromptsFile)
	if errors.Is(err, prompts.ErrTemplateCreated) {
		fmt.Printf("No prompts file found. Created a template at:\n  %s\n", config.PromptsFile)
		fmt.Println("Edit it with your prompts and run again.")
		return exitFatal
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	fmt.Printf("Loaded %d prompt(s) from %s\n", set.Len(), config.PromptsFile)

	if set.Len() == 0 {
		fmt.Println("Prompts file is empty, nothing to generate.")
		batch.WriteSummary(os.Stdout, batch.Summary{}, "")
		return exitOK
	}

	client, err := gemini.NewGeminiClientFromConfig(config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	defer client.Close()

	fmt.Println("Fetching available models...")
	models, err := client.ListImageModels(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not fetch models: %v\n", err)
		return exitFatal
	}

	terminal := interactive.NewTerminal(os.Stdin, os.Stdout)
	settings, err := batch.Prepare(ctx, terminal, models, set.Len())
	if errors.Is(err, batch.ErrCancelled) {
		fmt.Println("Cancelled.")
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		fmt.Println("Interrupted.")
		return exitInterrupted
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	var opts []output.Option
	mirror, err := oss.NewMirrorFromConfig(ctx, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	if mirror != nil {
		opts = append(opts, output.WithMirror(mirror))
	}

	outputRun, err := output.NewRun(config.OutputDir, time.Now(), opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}
	fmt.Printf("\nSaving to: %s\n\n", outputRun.Dir())

	runner := batch.NewRunner(client, batch.RetryPolicy{
		MaxAttempts: config.GenAIMaxAttempts,
		Backoff:     config.GenAIRetryBackoff,
		Retryable: func(err error) bool {
			return !errors.Is(err, gemini.ErrNoImage)
		},
	}, batch.WithProgress(os.Stdout))

	summary, err := runner.Run(ctx, outputRun, settings, set.Entries())
	batch.WriteSummary(os.Stdout, summary, outputRun.Dir())
	if err != nil {
		if ctx.Err() != nil {
			fmt.Println("Interrupted.")
			return exitInterrupted
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFatal
	}

	common.WithFields(map[string]interface{}{
		"run_id":    outputRun.ID(),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
	}).Info("Run finished")
	return exitOK
}

// maskAPIKey 隐藏 API Key 的敏感部分
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
