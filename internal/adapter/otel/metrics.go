package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "cerebro"

// Metrics holds all Cerebro metric instruments.
type Metrics struct {
	TurnsStarted   metric.Int64Counter
	TurnsCompleted metric.Int64Counter
	TurnsFailed    metric.Int64Counter
	ToolCalls      metric.Int64Counter
	ModelCalls     metric.Int64Counter
	ModelTokens    metric.Int64Counter
	MessagesSent   metric.Int64Counter
	TurnDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TurnsStarted, err = meter.Int64Counter("cerebro.turns.started",
		metric.WithDescription("Number of turns started"))
	if err != nil {
		return nil, err
	}

	m.TurnsCompleted, err = meter.Int64Counter("cerebro.turns.completed",
		metric.WithDescription("Number of turns that produced a model answer"))
	if err != nil {
		return nil, err
	}

	m.TurnsFailed, err = meter.Int64Counter("cerebro.turns.failed",
		metric.WithDescription("Number of turns that ended with a fallback reply"))
	if err != nil {
		return nil, err
	}

	m.ToolCalls, err = meter.Int64Counter("cerebro.toolcalls",
		metric.WithDescription("Number of tool calls"))
	if err != nil {
		return nil, err
	}

	m.ModelCalls, err = meter.Int64Counter("cerebro.model.calls",
		metric.WithDescription("Number of model invocations"))
	if err != nil {
		return nil, err
	}

	m.ModelTokens, err = meter.Int64Counter("cerebro.model.tokens",
		metric.WithDescription("Tokens consumed, by direction"))
	if err != nil {
		return nil, err
	}

	m.MessagesSent, err = meter.Int64Counter("cerebro.outbound.parts",
		metric.WithDescription("Outbound message parts sent"))
	if err != nil {
		return nil, err
	}

	m.TurnDuration, err = meter.Float64Histogram("cerebro.turn.duration_seconds",
		metric.WithDescription("Turn duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
