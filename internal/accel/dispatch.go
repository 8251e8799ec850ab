package accel

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Dispatcher runs the routine once over a buffer set.
type Dispatcher struct {
	buffers *BufferManager
	log     *zap.Logger
}

// NewDispatcher returns a dispatcher that routes migrations through buffers.
func NewDispatcher(buffers *BufferManager, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		buffers: buffers,
		log:     log.Named("dispatch"),
	}
}

// Dispatch binds the arguments, migrates the inputs, runs the task, migrates
// the output back and blocks until the queue drains. The returned event is
// the task's completion signal and is owned by the caller.
//
// Argument order must match the routine signature
// mmult(in1, in2, out, dim); a different order is not detected by the device.
func (d *Dispatcher) Dispatch(q Queue, kernel Kernel, bufs *BufferSet, dim int) (Event, error) {
	if dim < 1 || dim > math.MaxInt32 {
		return nil, newError(ErrDispatch, "SetArg", fmt.Errorf("dimension %d out of range", dim))
	}

	args := []*DeviceBuffer{bufs.A, bufs.B, bufs.Out}
	for i, b := range args {
		if err := kernel.SetArgBuffer(i, b.Buffer); err != nil {
			return nil, newError(ErrDispatch, "SetArg", fmt.Errorf("arg %d (%s): %w", i, b.Role, err))
		}
	}
	if err := kernel.SetArgInt32(len(args), int32(dim)); err != nil {
		return nil, newError(ErrDispatch, "SetArg", fmt.Errorf("arg %d (dim): %w", len(args), err))
	}

	if err := d.buffers.Migrate(q, MigrateToDevice, bufs.A, bufs.B); err != nil {
		return nil, err
	}

	event, err := q.EnqueueTask(kernel)
	if err != nil {
		// The inputs may still be in flight.
		_ = q.Finish()
		return nil, newError(ErrDispatch, "EnqueueTask", err)
	}

	if err := d.buffers.Migrate(q, MigrateToHost, bufs.Out); err != nil {
		_ = q.Finish()
		_ = event.Release()
		return nil, err
	}

	d.log.Debug("waiting for queue to drain", zap.String("routine", kernel.Name()))
	if err := q.Finish(); err != nil {
		_ = event.Release()
		return nil, newError(ErrDispatch, "Finish", err)
	}
	return event, nil
}
