// Package alerts delivers risk alerts raised by the ledger. A Fanout hands
// each batch to every configured sink: the structured log, the in-memory
// History, the WebSocket hub, the journal and Kafka. Sinks never block the
// ledger; slow transports buffer and drop.
package alerts

import (
	"context"
	"log/slog"

	"github.com/atmx/position-engine/internal/model"
)

// Sink receives alert batches. Implementations must not block.
type Sink interface {
	PublishAlerts(alerts []model.Alert)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(alerts []model.Alert)

func (f SinkFunc) PublishAlerts(alerts []model.Alert) { f(alerts) }

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) PublishAlerts(alerts []model.Alert) {
	if len(alerts) == 0 {
		return
	}
	for _, s := range f {
		if s != nil {
			s.PublishAlerts(alerts)
		}
	}
}

// LogSink writes each alert to a structured logger, critical alerts at
// Warn and the rest at Info.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) PublishAlerts(alerts []model.Alert) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	for _, a := range alerts {
		level := slog.LevelInfo
		if a.Severity == model.SeverityCritical {
			level = slog.LevelWarn
		}
		log.Log(context.Background(), level, "risk alert",
			"alert", a.ID,
			"customer", a.CustomerID,
			"type", a.Type,
			"severity", a.Severity,
			"title", a.Title,
			"message", a.Message,
		)
	}
}
