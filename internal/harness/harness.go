// Package harness runs one verified multiplication: it generates the inputs,
// computes the CPU reference, drives the accelerator pipeline and reports
// whether the device agreed.
package harness

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"github.com/fxnlabs/fpga-mmult/internal/config"
	"github.com/fxnlabs/fpga-mmult/internal/hostmem"
	"github.com/fxnlabs/fpga-mmult/internal/matrix"
	"github.com/fxnlabs/fpga-mmult/internal/metrics"
	"github.com/fxnlabs/fpga-mmult/internal/verify"
	"go.uber.org/zap"
)

const emulationNote = "Note: Wall Clock Time is meaningful for real hardware execution only, not for emulation."

// Runner executes the device side of a run. *accel.Pipeline implements it.
type Runner interface {
	Run(imagePath string, mats accel.Matrices, dim int) (accel.Result, error)
}

// Report is the outcome of a run that reached the device.
type Report struct {
	Result accel.Result
	// Mismatch is the first differing element, nil when the results match.
	Mismatch *verify.Mismatch
	// CrossChecked is set when the reference was confirmed with gonum.
	CrossChecked bool
	// FreivaldsRounds is the number of rounds the device result passed.
	FreivaldsRounds int
	FreivaldsFailed bool
}

// Passed reports whether the device result is correct.
func (r *Report) Passed() bool {
	return r.Mismatch == nil && !r.FreivaldsFailed
}

// Harness owns a configured run.
type Harness struct {
	runner  Runner
	cfg     *config.Config
	metrics *metrics.Metrics
	out     io.Writer
	log     *zap.Logger
}

// New returns a harness writing its report to out. m may be nil.
func New(runner Runner, cfg *config.Config, m *metrics.Metrics, out io.Writer, log *zap.Logger) *Harness {
	return &Harness{
		runner:  runner,
		cfg:     cfg,
		metrics: m,
		out:     out,
		log:     log.Named("harness"),
	}
}

// Run performs one multiplication of the configured size with the program
// image at imagePath. An error means the run never produced a result; a
// wrong result is a Report that did not pass.
func (h *Harness) Run(imagePath string) (*Report, error) {
	report, err := h.run(imagePath)
	if err != nil {
		h.recordFailure(err)
		return nil, err
	}
	if h.metrics != nil {
		if report.Passed() {
			h.metrics.RecordResult(metrics.ResultPassed)
		} else {
			h.metrics.RecordResult(metrics.ResultFailed)
		}
	}
	if err := h.write(report); err != nil {
		return report, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

func (h *Harness) run(imagePath string) (report *Report, err error) {
	dim := h.cfg.Matrix.Dim
	n := dim * dim

	alignment := h.cfg.Buffer.Alignment
	if alignment < hostmem.PageSize {
		alignment = hostmem.PageSize
	}

	var mats accel.Matrices
	regions := []**hostmem.Region{&mats.A, &mats.B, &mats.Out}
	for _, r := range regions {
		region, err := hostmem.AllocInt32(n, alignment)
		if err != nil {
			closeRegions(&err, mats)
			return nil, fmt.Errorf("allocate host matrices: %w", err)
		}
		*r = region
	}
	defer closeRegions(&err, mats)

	a, b, out := mats.A.Int32s(), mats.B.Int32s(), mats.Out.Int32s()
	seeds := newSeeds(h.cfg.Matrix.Seed)
	matrix.Fill(a, seeds.a, h.cfg.Matrix.MaxValue)
	matrix.Fill(b, seeds.b, h.cfg.Matrix.MaxValue)
	mats.Out.Zero()

	want := make([]int32, n)
	if err := matrix.Multiply(a, b, want, dim); err != nil {
		return nil, err
	}
	h.log.Debug("computed reference", zap.Int("dim", dim), zap.Int64("seed", h.cfg.Matrix.Seed))

	report = &Report{}
	switch err := matrix.CrossCheck(a, b, want, dim); {
	case err == nil:
		report.CrossChecked = true
	case errors.Is(err, matrix.ErrCrossCheckSkipped):
		h.log.Debug("reference cross-check skipped", zap.Error(err))
	default:
		return nil, err
	}

	res, err := h.runner.Run(imagePath, mats, dim)
	if err != nil {
		return nil, err
	}
	report.Result = res
	if h.metrics != nil {
		h.metrics.ObserveKernel(dim, res.ElapsedNS)
		h.metrics.ImageBytes.Set(float64(res.ImageBytes))
	}

	if err := verify.Compare(want, out); err != nil {
		var m *verify.Mismatch
		if !errors.As(err, &m) {
			return nil, err
		}
		report.Mismatch = m
		h.log.Error("device result differs from reference", zap.Error(err))
	}

	if rounds := h.cfg.Verify.FreivaldsRounds; rounds > 0 {
		if verify.Freivalds(a, b, out, dim, rounds, seeds.freivalds) {
			report.FreivaldsRounds = rounds
		} else {
			report.FreivaldsFailed = true
			h.log.Error("device result failed Freivalds check", zap.Int("rounds", rounds))
		}
	}

	h.log.Info("run complete",
		zap.Bool("passed", report.Passed()),
		zap.Uint64("elapsed_ns", res.ElapsedNS),
		zap.Bool("cross_checked", report.CrossChecked))
	return report, nil
}

func (h *Harness) write(r *Report) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(h.out, format, args...)
		}
	}
	if m := r.Mismatch; m != nil {
		printf("Error: Result mismatch\n")
		printf("i = %d CPU result = %d Device result = %d\n", m.Index, m.Want, m.Got)
	}
	if r.Passed() {
		printf("TEST PASSED\n")
	} else {
		printf("TEST FAILED\n")
	}
	printf("Wall Clock Time (Kernel execution): %d\n", r.Result.ElapsedNS)
	printf("%s\n", emulationNote)
	return err
}

func (h *Harness) recordFailure(err error) {
	kind := accel.KindOf(err)
	h.log.Error("run failed", zap.String("kind", accel.KindName(kind)), zap.Error(err))
	if h.metrics != nil {
		h.metrics.RecordFailure(accel.KindName(kind))
	}
}

// closeRegions unmaps the regions in reverse allocation order.
func closeRegions(err *error, mats accel.Matrices) {
	for _, r := range []*hostmem.Region{mats.Out, mats.B, mats.A} {
		if r == nil {
			continue
		}
		if cerr := r.Close(); cerr != nil {
			*err = errors.Join(*err, cerr)
		}
	}
}

// seedSet splits the configured seed into one stream per consumer so the
// Freivalds vectors never repeat the values used to fill the inputs.
type seedSet struct {
	a, b, freivalds int64
}

func newSeeds(seed int64) seedSet {
	return seedSet{a: seed, b: seed + 1, freivalds: seed + 2}
}
