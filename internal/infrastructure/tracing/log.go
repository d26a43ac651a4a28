package tracing

import (
	"context"

	"go.uber.org/zap"
)

// LogExporter writes events to a zap logger at info level.
type LogExporter struct {
	logger *zap.Logger
}

// NewLogExporter creates a log exporter.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogExporter{logger: logger.Named("trace")}
}

// Export logs event.
func (e *LogExporter) Export(_ context.Context, event Event) error {
	e.logger.Info(string(event.Kind),
		zap.String("swarm_id", event.SwarmID),
		zap.Int64("timestamp", event.Timestamp),
		zap.Any("attributes", event.Attributes))
	return nil
}

// Close flushes the logger.
func (e *LogExporter) Close(context.Context) error {
	_ = e.logger.Sync()
	return nil
}
