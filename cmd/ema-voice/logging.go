package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/koscakluka/ema-voice/internal/config"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// severityProcessor drops records below a minimum severity before they reach
// the exporter.
type severityProcessor struct {
	sdklog.Processor
	min log.Severity
}

func (p severityProcessor) OnEmit(ctx context.Context, record *sdklog.Record) error {
	if record.Severity() < p.min {
		return nil
	}
	return p.Processor.OnEmit(ctx, record)
}

// severityFromLevel follows the otelslog mapping, which offsets slog levels
// by the otel INFO severity.
func severityFromLevel(level slog.Level) log.Severity {
	return log.Severity(int(level) + int(log.SeverityInfo))
}

// setupLogging routes every otelslog logger to a log file. The returned
// function flushes and closes it.
func setupLogging(cfg config.LogConfig) (func(context.Context) error, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	exporter, err := stdoutlog.New(stdoutlog.WithWriter(file))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create log exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(severityProcessor{
			Processor: sdklog.NewBatchProcessor(exporter),
			min:       severityFromLevel(level),
		}),
	)
	global.SetLoggerProvider(provider)

	return func(ctx context.Context) error {
		err := provider.Shutdown(ctx)
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
		return err
	}, nil
}
