package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/synadia-labs/workload-probe/internal/tracer"
)

type Inspector interface {
	// pong
	Ping() string

	// fetch the raw content of a URL
	FetchURL(ctx context.Context, req FetchRequest) FetchResult

	// run a command line through the host shell
	RunCommand(ctx context.Context, commandLine string) CommandOutcome
}

func NewInspector(fetcher *Fetcher, runner *Runner) Inspector {
	return &inspector{fetcher: fetcher, runner: runner}
}

type inspector struct {
	fetcher *Fetcher
	runner  *Runner
}

func (i *inspector) Ping() string {
	return "PONG"
}

func (i *inspector) FetchURL(ctx context.Context, req FetchRequest) FetchResult {
	ctx, span := tracer.StartSpan(ctx, "probe.fetch",
		attribute.String("probe.url", req.URL),
		attribute.Bool("probe.screenshot", req.TakeScreenshot),
	)

	res := i.fetcher.Fetch(ctx, req.URL, req.TakeScreenshot)

	span.SetAttributes(
		attribute.String("probe.kind", string(res.Kind)),
		attribute.Int("probe.content_length", len(res.Content)),
	)
	tracer.Finish(span, deref(res.Error))
	return res
}

func (i *inspector) RunCommand(ctx context.Context, commandLine string) CommandOutcome {
	ctx, span := tracer.StartSpan(ctx, "probe.run",
		attribute.String("probe.command", commandLine),
	)

	outcome := i.runner.Run(ctx, commandLine)

	res, executed := outcome.Result()
	span.SetAttributes(attribute.Bool("probe.executed", executed))
	if executed {
		span.SetAttributes(
			attribute.String("probe.kind", string(res.Kind)),
			attribute.Int("probe.exit_code", res.ExitCode),
		)
	}
	tracer.Finish(span, deref(res.Error))
	return outcome
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
