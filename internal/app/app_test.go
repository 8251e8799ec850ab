package app

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"github.com/fxnlabs/fpga-mmult/internal/config"
	"github.com/fxnlabs/fpga-mmult/internal/emulator"
	"github.com/fxnlabs/fpga-mmult/internal/harness"
	"github.com/fxnlabs/fpga-mmult/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func emulated() *config.Config {
	cfg := config.Default()
	cfg.Device.Emulation = true
	cfg.Matrix.Dim = 8
	cfg.Logger.Verbosity = "error"
	return cfg
}

func TestModuleRunsEmulated(t *testing.T) {
	cfg := emulated()
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "mmult.prom")

	image := filepath.Join(t.TempDir(), "mmult.xclbin")
	require.NoError(t, os.WriteFile(image, emulator.Image(), 0o600))

	var h *harness.Harness
	var out bytes.Buffer
	app := fxtest.New(t, Module(cfg, &out), fx.Populate(&h))
	app.RequireStart()

	report, err := h.Run(image)
	require.NoError(t, err)
	assert.True(t, report.Passed())
	assert.Contains(t, out.String(), "TEST PASSED")

	app.RequireStop()
	data, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mmult_runs_total{result="passed"} 1`)
}

func TestNewRuntime(t *testing.T) {
	rt, err := NewRuntime(emulated(), zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &emulator.Emulator{}, rt)
}

func TestNewPipelineRejectsBadDeviceType(t *testing.T) {
	cfg := emulated()
	cfg.Device.Type = "quantum"
	_, err := NewPipeline(emulator.New(), cfg, zap.NewNop())
	assert.Error(t, err)

	p, err := NewPipeline(emulator.New(), emulated(), zap.NewNop())
	require.NoError(t, err)
	var _ harness.Runner = p
	assert.IsType(t, &accel.Pipeline{}, p)
}

func TestExport(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		assert.NoError(t, Export(emulated(), metrics.New(), zap.NewNop()))
	})

	t.Run("both sinks", func(t *testing.T) {
		var pushed string
		gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pushed = r.URL.Path
			w.WriteHeader(http.StatusAccepted)
		}))
		defer gateway.Close()

		cfg := emulated()
		cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "mmult.prom")
		cfg.Metrics.Pushgateway = gateway.URL
		cfg.Metrics.Job = "mmult-ci"

		require.NoError(t, Export(cfg, metrics.New(), zap.NewNop()))
		assert.FileExists(t, cfg.Metrics.Textfile)
		assert.Equal(t, "/metrics/job/mmult-ci", pushed)
	})

	t.Run("textfile error is reported", func(t *testing.T) {
		cfg := emulated()
		cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "missing", "mmult.prom")
		assert.Error(t, Export(cfg, metrics.New(), zap.NewNop()))
	})
}
