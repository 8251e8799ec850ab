// Package accel drives one matrix multiplication on an accelerator: it
// resolves the device, loads a precompiled program, creates buffers over
// caller-owned host memory, dispatches the routine and reads back the
// device-side execution time.
//
// Every object is released in reverse creation order before Run returns,
// whether it succeeds or fails. Run never terminates the process; callers
// decide what a failure means.
package accel

import (
	"errors"
	"time"

	"go.uber.org/zap"
)

// Options configure a Pipeline.
type Options struct {
	// Vendor is the exact platform name to select, e.g. "Xilinx".
	Vendor string
	// DeviceType is the device class requested from the platform.
	DeviceType DeviceType
	// Routine is the kernel name extracted from the program.
	Routine string
	// Alignment is the host-region alignment below which the runtime stages
	// copies.
	Alignment int
}

// DefaultOptions match the Xilinx mmult example kernel.
func DefaultOptions() Options {
	return Options{
		Vendor:     "Xilinx",
		DeviceType: DeviceTypeAccelerator,
		Routine:    "mmult",
		Alignment:  4096,
	}
}

// Result describes a completed run.
type Result struct {
	Platform   string
	Device     string
	ImageBytes int
	// ElapsedNS is the device-measured kernel execution time.
	ElapsedNS uint64
}

// Elapsed returns ElapsedNS as a time.Duration.
func (r Result) Elapsed() time.Duration {
	return time.Duration(r.ElapsedNS)
}

// Pipeline runs the five stages in order.
type Pipeline struct {
	resolver   *Resolver
	loader     *Loader
	buffers    *BufferManager
	dispatcher *Dispatcher
	log        *zap.Logger
}

// NewPipeline assembles a pipeline over rt.
func NewPipeline(rt Runtime, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("accel")
	buffers := NewBufferManager(opts.Alignment, log)
	return &Pipeline{
		resolver:   NewResolver(rt, opts.Vendor, opts.DeviceType, log),
		loader:     NewLoader(opts.Routine, log),
		buffers:    buffers,
		dispatcher: NewDispatcher(buffers, log),
		log:        log,
	}
}

// Run executes the routine once over mats and returns the kernel time. Out is
// populated when Run returns without error. Run blocks until the device queue
// drains; there is no timeout.
func (p *Pipeline) Run(imagePath string, mats Matrices, dim int) (res Result, err error) {
	platform, device, err := p.resolver.Resolve()
	if err != nil {
		return res, err
	}
	res.Platform = platform.Name()
	res.Device = device.Name()

	image, err := p.loader.ReadImage(imagePath)
	if err != nil {
		return res, err
	}
	res.ImageBytes = len(image)

	ctx, err := device.CreateContext()
	if err != nil {
		return res, newError(ErrDeviceNotFound, "CreateContext", err)
	}
	defer release(&err, ctx)

	queue, err := ctx.CreateQueue(device, QueueProfiling)
	if err != nil {
		return res, newError(ErrDispatch, "CreateCommandQueue", err)
	}
	defer release(&err, queue)

	program, kernel, err := p.loader.Build(ctx, device, image)
	if err != nil {
		return res, err
	}
	defer release(&err, program)
	defer release(&err, kernel)

	bufs, err := p.buffers.Allocate(ctx, mats, dim)
	if err != nil {
		return res, err
	}
	defer release(&err, bufs)

	event, err := p.dispatcher.Dispatch(queue, kernel, bufs, dim)
	if err != nil {
		return res, err
	}
	defer release(&err, event)

	res.ElapsedNS, err = Elapsed(event)
	if err != nil {
		return res, err
	}

	p.log.Info("dispatch complete",
		zap.String("device", res.Device),
		zap.Int("dim", dim),
		zap.Uint64("elapsed_ns", res.ElapsedNS))
	return res, nil
}

type releaser interface {
	Release() error
}

// release releases r and reports its error through err unless an earlier
// failure is already being returned.
func release(err *error, r releaser) {
	if rerr := r.Release(); rerr != nil && *err == nil {
		*err = newError(ErrDispatch, "Release", rerr)
	} else if rerr != nil {
		*err = errors.Join(*err, rerr)
	}
}
