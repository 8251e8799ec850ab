// Package app assembles the harness object graph with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"github.com/fxnlabs/fpga-mmult/internal/config"
	"github.com/fxnlabs/fpga-mmult/internal/emulator"
	"github.com/fxnlabs/fpga-mmult/internal/harness"
	"github.com/fxnlabs/fpga-mmult/internal/logger"
	"github.com/fxnlabs/fpga-mmult/internal/metrics"
	"github.com/fxnlabs/fpga-mmult/internal/opencl"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module provides every component of a run. cfg must already be validated;
// the report is written to out.
func Module(cfg *config.Config, out io.Writer) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(
			func() io.Writer { return out },
			NewLogger,
			metrics.New,
			NewRuntime,
			fx.Annotate(NewPipeline, fx.As(new(harness.Runner))),
			harness.New,
		),
		fx.Invoke(RegisterExport),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: log.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
	)
}

// NewLogger builds the root logger at the configured verbosity.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Logger.Verbosity)
}

// NewRuntime selects the device runtime: the software emulator when
// emulation is configured, the native OpenCL platforms otherwise.
func NewRuntime(cfg *config.Config, log *zap.Logger) (accel.Runtime, error) {
	if cfg.Device.Emulation {
		log.Info("using emulated device", zap.String("device", emulator.DefaultDevice))
		return emulator.New(), nil
	}
	rt, err := opencl.New()
	if errors.Is(err, opencl.ErrNotAvailable) {
		return nil, fmt.Errorf("%w; rerun with --emulate", err)
	}
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// NewPipeline builds the accelerator pipeline over rt.
func NewPipeline(rt accel.Runtime, cfg *config.Config, log *zap.Logger) (*accel.Pipeline, error) {
	opts, err := cfg.PipelineOptions()
	if err != nil {
		return nil, err
	}
	return accel.NewPipeline(rt, opts, log), nil
}

// RegisterExport writes the run metrics to the configured sinks when the
// application stops.
func RegisterExport(lc fx.Lifecycle, cfg *config.Config, m *metrics.Metrics, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return Export(cfg, m, log)
		},
	})
}

// Export writes m to the textfile and pushes it to the Pushgateway, for
// whichever of the two is configured.
func Export(cfg *config.Config, m *metrics.Metrics, log *zap.Logger) error {
	var errs []error
	if path := cfg.Metrics.Textfile; path != "" {
		if err := m.WriteTextfile(path); err != nil {
			errs = append(errs, err)
		} else {
			log.Debug("wrote metrics textfile", zap.String("path", path))
		}
	}
	if url := cfg.Metrics.Pushgateway; url != "" {
		if err := m.Push(url, cfg.Metrics.Job); err != nil {
			errs = append(errs, err)
		} else {
			log.Debug("pushed metrics", zap.String("url", url), zap.String("job", cfg.Metrics.Job))
		}
	}
	return errors.Join(errs...)
}
