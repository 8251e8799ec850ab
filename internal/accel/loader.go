package accel

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Loader turns a precompiled image on disk into a routine handle.
type Loader struct {
	routine string
	log     *zap.Logger
}

// NewLoader returns a loader extracting the routine with the given name.
func NewLoader(routine string, log *zap.Logger) *Loader {
	return &Loader{
		routine: routine,
		log:     log.Named("loader"),
	}
}

// ReadImage reads the whole image. The contents are opaque.
func (l *Loader) ReadImage(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrProgramLoad, "ReadFile", err)
	}
	if len(image) == 0 {
		return nil, newError(ErrProgramLoad, "ReadFile", fmt.Errorf("%s is empty", path))
	}
	l.log.Info("read program image", zap.String("path", path), zap.Int("bytes", len(image)))
	return image, nil
}

// Build constructs a program for device from image and extracts the routine.
// On success the caller owns both the program and the kernel and must release
// the kernel first.
func (l *Loader) Build(ctx Context, device Device, image []byte) (Program, Kernel, error) {
	program, err := ctx.CreateProgramWithBinary(device, image)
	if err != nil {
		return nil, nil, newError(ErrProgramBuild, "CreateProgramWithBinary", err)
	}

	kernel, err := program.CreateKernel(l.routine)
	if err != nil {
		_ = program.Release()
		return nil, nil, newError(ErrRoutineNotFound, "CreateKernel",
			fmt.Errorf("routine %q: %w", l.routine, err))
	}

	l.log.Debug("extracted routine", zap.String("routine", l.routine), zap.String("device", device.Name()))
	return program, kernel, nil
}
