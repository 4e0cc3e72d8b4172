package usecase

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"nimbus/internal/domain"
	"nimbus/internal/infra/tracer"
)

// ToolExecutor runs tool call batches against a registry.
type ToolExecutor struct {
	registry domain.ToolRegistry
	logger   *slog.Logger
}

// NewToolExecutor creates a tool executor.
func NewToolExecutor(registry domain.ToolRegistry, logger *slog.Logger) *ToolExecutor {
	return &ToolExecutor{registry: registry, logger: logger}
}

// ExecuteBatch runs the calls sequentially in their original order and
// returns one tool result message per call, in the same order. A failing
// or unknown tool never fails the batch: the failure text becomes that
// call's result and the remaining calls still run. Context cancellation
// aborts the batch and returns the context error; partial results are
// discarded by the caller.
func (e *ToolExecutor) ExecuteBatch(ctx context.Context, calls []domain.ToolCall) ([]domain.Message, error) {
	msgs := make([]domain.Message, 0, len(calls))
	for _, call := range calls {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs = append(msgs, e.executeOne(ctx, call))
	}
	return msgs, nil
}

// executeOne runs a single tool call and returns the result as a Message.
func (e *ToolExecutor) executeOne(ctx context.Context, call domain.ToolCall) domain.Message {
	ctx, span := tracer.StartSpan(ctx, "executor.tool_call",
		trace.WithAttributes(tracer.StringAttr("tool.name", call.Name)),
	)
	defer span.End()

	start := time.Now()

	tool, err := e.registry.Get(call.Name)
	if err != nil {
		tracer.RecordError(span, err)
		e.logger.Warn("tool lookup failed", "tool", call.Name, "error", err)
		return domain.NewToolResultMessage(call, err.Error())
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		tracer.RecordError(span, err)
		e.logger.Warn("tool execution failed",
			"tool", call.Name,
			"duration", time.Since(start),
			"error", err,
		)
		return domain.NewToolResultMessage(call, err.Error())
	}

	tracer.SetOK(span)
	e.logger.Debug("tool executed",
		"tool", call.Name,
		"duration", time.Since(start),
	)
	return domain.NewToolResultMessage(call, result.Content)
}
