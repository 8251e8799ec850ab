package accel

import (
	"fmt"
	"strings"
)

// DeviceType is the class of device requested from a platform.
type DeviceType uint64

// Values follow cl_device_type.
const (
	DeviceTypeDefault     DeviceType = 1 << 0
	DeviceTypeCPU         DeviceType = 1 << 1
	DeviceTypeGPU         DeviceType = 1 << 2
	DeviceTypeAccelerator DeviceType = 1 << 3
	DeviceTypeAll         DeviceType = 0xFFFFFFFF
)

// ParseDeviceType maps a configuration name to a DeviceType.
func ParseDeviceType(name string) (DeviceType, error) {
	switch strings.ToLower(name) {
	case "", "accelerator":
		return DeviceTypeAccelerator, nil
	case "gpu":
		return DeviceTypeGPU, nil
	case "cpu":
		return DeviceTypeCPU, nil
	case "default":
		return DeviceTypeDefault, nil
	case "all":
		return DeviceTypeAll, nil
	default:
		return 0, fmt.Errorf("unknown device type %q", name)
	}
}

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeDefault:
		return "default"
	case DeviceTypeCPU:
		return "cpu"
	case DeviceTypeGPU:
		return "gpu"
	case DeviceTypeAccelerator:
		return "accelerator"
	case DeviceTypeAll:
		return "all"
	default:
		return fmt.Sprintf("device_type(%#x)", uint64(t))
	}
}

// MemFlags describe how the device may access a buffer. Values follow
// cl_mem_flags.
type MemFlags uint64

const (
	MemReadWrite  MemFlags = 1 << 0
	MemWriteOnly  MemFlags = 1 << 1
	MemReadOnly   MemFlags = 1 << 2
	MemUseHostPtr MemFlags = 1 << 3
)

// Has reports whether all bits of f2 are set.
func (f MemFlags) Has(f2 MemFlags) bool {
	return f&f2 == f2
}

// Migration is the direction of a memory migration.
type Migration uint64

const (
	// MigrateToDevice moves host contents into device memory.
	MigrateToDevice Migration = 0
	// MigrateToHost moves device contents back into the host region.
	// Equal to CL_MIGRATE_MEM_OBJECT_HOST.
	MigrateToHost Migration = 1 << 0
)

func (m Migration) String() string {
	if m == MigrateToHost {
		return "device->host"
	}
	return "host->device"
}

// QueueProperties select optional command-queue behaviour.
type QueueProperties uint64

const (
	QueueOutOfOrder QueueProperties = 1 << 0
	QueueProfiling  QueueProperties = 1 << 1
)

// ProfilingInfo selects a timestamp of a completed command.
type ProfilingInfo uint32

// Values follow cl_profiling_info.
const (
	ProfilingQueued ProfilingInfo = 0x1280
	ProfilingSubmit ProfilingInfo = 0x1281
	ProfilingStart  ProfilingInfo = 0x1282
	ProfilingEnd    ProfilingInfo = 0x1283
)

// Runtime is the entry point to a device runtime: the native OpenCL binding or
// the software emulator. All failures are reported as Status values, possibly
// wrapped.
type Runtime interface {
	Platforms() ([]Platform, error)
}

// Platform is a vendor installation exposing devices.
type Platform interface {
	Name() string
	Vendor() string
	Devices(DeviceType) ([]Device, error)
}

// Device is a compute device. A Device is owned by its platform and is never
// released by the caller.
type Device interface {
	Name() string
	CreateContext() (Context, error)
}

// Context owns every object created on the device.
type Context interface {
	CreateQueue(Device, QueueProperties) (Queue, error)
	// CreateProgramWithBinary builds a program for exactly one device.
	CreateProgramWithBinary(Device, []byte) (Program, error)
	// CreateBuffer wraps host memory. With MemUseHostPtr the runtime keeps a
	// reference to host; host must then stay valid until the buffer is
	// released.
	CreateBuffer(flags MemFlags, host []byte) (Buffer, error)
	Release() error
}

// Queue is an in-order command queue.
type Queue interface {
	EnqueueMigrate([]Buffer, Migration) error
	// EnqueueTask runs the kernel as a single work-item and returns its
	// completion event.
	EnqueueTask(Kernel) (Event, error)
	// Finish blocks until every enqueued command has completed.
	Finish() error
	Release() error
}

// Program is an executable image loaded onto a device.
type Program interface {
	CreateKernel(name string) (Kernel, error)
	Release() error
}

// Kernel is a routine extracted from a program.
type Kernel interface {
	Name() string
	SetArgBuffer(index int, buf Buffer) error
	SetArgInt32(index int, v int32) error
	Release() error
}

// Buffer is device-visible memory.
type Buffer interface {
	Size() int
	Release() error
}

// Event is the completion signal of an enqueued command.
type Event interface {
	ProfilingInfo(ProfilingInfo) (uint64, error)
	Release() error
}
