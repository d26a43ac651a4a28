package tracing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/blackms/flyswarm-go/internal/infrastructure/config"
)

// NewFromConfig builds the exporters named in cfg and returns a running
// sink. With no exporters configured the sink discards events.
func NewFromConfig(ctx context.Context, cfg config.TracingConfig, swarmID string, logger *zap.Logger) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var exporters Multi
	closeAll := func() {
		_ = exporters.Close(ctx)
	}

	for _, name := range cfg.Exporters {
		switch name {
		case config.ExporterLog:
			exporters = append(exporters, NewLogExporter(logger))
		case config.ExporterOTel:
			e, err := NewOTelExporter(ctx, cfg.OTel, swarmID)
			if err != nil {
				closeAll()
				return nil, err
			}
			exporters = append(exporters, e)
		case config.ExporterSQLite:
			e, err := NewSQLiteExporter(cfg.SQLitePath)
			if err != nil {
				closeAll()
				return nil, err
			}
			exporters = append(exporters, e)
		default:
			closeAll()
			return nil, fmt.Errorf("unknown trace exporter %q", name)
		}
	}

	var exporter Exporter = Discard{}
	switch len(exporters) {
	case 0:
	case 1:
		exporter = exporters[0]
	default:
		exporter = exporters
	}

	logger.Debug("trace sink configured",
		zap.Strings("exporters", cfg.Exporters),
		zap.Int("queue_size", cfg.QueueSize))

	return NewSink(SinkConfig{
		SwarmID:       swarmID,
		Exporter:      exporter,
		QueueSize:     cfg.QueueSize,
		ExportTimeout: cfg.ExportTimeout(),
		Logger:        logger,
	}), nil
}
