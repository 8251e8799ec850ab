// Package emulator is a software device runtime. It implements the accel
// runtime interfaces in Go so the pipeline can run without hardware, much
// like the vendor's software emulation flow.
//
// Buffers have separate host and device memory: data only reaches a kernel
// through an explicit host->device migration and only comes back through a
// device->host migration. Commands run asynchronously on a per-queue worker
// goroutine, in order.
package emulator

import (
	"bytes"
	"sync"
	"time"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
)

// ImageMagic prefixes every image the emulator accepts. It is the magic of
// the xclbin container format.
const ImageMagic = "xclbin2\x00"

// DefaultPlatform and DefaultDevice name the emulated board.
const (
	DefaultPlatform = "Xilinx"
	DefaultDevice   = "xilinx_u200_xdma_201830_2 (sw_emu)"
)

// Image returns a minimal program image accepted by the emulator.
func Image() []byte {
	return append([]byte(ImageMagic), []byte("emulated mmult image\n")...)
}

// PlatformSpec describes an emulated platform.
type PlatformSpec struct {
	Name    string
	Vendor  string
	Devices []DeviceSpec
}

// DeviceSpec describes an emulated device.
type DeviceSpec struct {
	Name string
	Type accel.DeviceType
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithPlatforms replaces the default platform list. With no specs the
// emulator reports no platforms at all.
func WithPlatforms(specs ...PlatformSpec) Option {
	return func(e *Emulator) {
		e.specs = specs
		e.specsSet = true
	}
}

// WithKernel registers a kernel under name, replacing any existing one.
func WithKernel(name string, k Kernel) Option {
	return func(e *Emulator) {
		e.kernels[name] = k
	}
}

// WithoutKernel removes a registered kernel.
func WithoutKernel(name string) Option {
	return func(e *Emulator) {
		delete(e.kernels, name)
	}
}

// WithMemoryLimit caps the total device memory across live buffers.
func WithMemoryLimit(bytes int) Option {
	return func(e *Emulator) {
		e.memLimit = bytes
	}
}

// WithFault makes op fail with status. Ops are named after the runtime
// calls: CreateContext, CreateQueue, CreateProgram, CreateBuffer, SetArg,
// EnqueueMigrate, EnqueueTask, Finish, ProfilingInfo.
func WithFault(op string, status accel.Status) Option {
	return func(e *Emulator) {
		e.faults[op] = status
	}
}

// Stats count objects created through the emulator.
type Stats struct {
	ContextsCreated int
	ContextsLive    int
	QueuesLive      int
	ProgramsLive    int
	KernelsLive     int
	BuffersCreated  int
	BuffersLive     int
	// BuffersStaged counts buffers whose host memory was not page aligned
	// and got a runtime-side staging copy.
	BuffersStaged int
	EventsLive    int
	DeviceBytes   int
}

// Emulator implements accel.Runtime.
type Emulator struct {
	specs    []PlatformSpec
	specsSet bool
	kernels  map[string]Kernel
	faults   map[string]accel.Status
	memLimit int
	epoch    time.Time

	mu     sync.Mutex
	stats  Stats
	trace  []Command
	calls  []HostCall
	nextID int
}

var _ accel.Runtime = (*Emulator)(nil)

// New returns an emulator with a single Xilinx platform exposing one
// accelerator and the mmult kernel, unless options say otherwise.
func New(opts ...Option) *Emulator {
	e := &Emulator{
		kernels: map[string]Kernel{"mmult": MMult{}},
		faults:  map[string]accel.Status{},
		epoch:   time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if !e.specsSet {
		e.specs = []PlatformSpec{{
			Name:    DefaultPlatform,
			Vendor:  "Xilinx",
			Devices: []DeviceSpec{{Name: DefaultDevice, Type: accel.DeviceTypeAccelerator}},
		}}
	}
	return e
}

// Platforms implements accel.Runtime.
func (e *Emulator) Platforms() ([]accel.Platform, error) {
	platforms := make([]accel.Platform, 0, len(e.specs))
	for _, spec := range e.specs {
		platforms = append(platforms, &platform{emu: e, spec: spec})
	}
	return platforms, nil
}

// Stats returns a snapshot of the object counters.
func (e *Emulator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Trace returns the commands executed so far, in execution order.
func (e *Emulator) Trace() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.trace...)
}

// HostCalls returns the synchronizing host calls made so far, in call order.
func (e *Emulator) HostCalls() []HostCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]HostCall(nil), e.calls...)
}

func (e *Emulator) fault(op string) error {
	if status, ok := e.faults[op]; ok {
		return status
	}
	return nil
}

func (e *Emulator) now() uint64 {
	return uint64(time.Since(e.epoch).Nanoseconds())
}

func (e *Emulator) update(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

func (e *Emulator) record(c Command) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.trace = append(e.trace, c)
}

func (e *Emulator) call(c HostCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c)
}

type platform struct {
	emu  *Emulator
	spec PlatformSpec
}

func (p *platform) Name() string   { return p.spec.Name }
func (p *platform) Vendor() string { return p.spec.Vendor }

func (p *platform) Devices(t accel.DeviceType) ([]accel.Device, error) {
	var devices []accel.Device
	for _, d := range p.spec.Devices {
		if d.Type&t != 0 {
			devices = append(devices, &device{emu: p.emu, spec: d})
		}
	}
	return devices, nil
}

type device struct {
	emu  *Emulator
	spec DeviceSpec
}

func (d *device) Name() string { return d.spec.Name }

func (d *device) CreateContext() (accel.Context, error) {
	if err := d.emu.fault("CreateContext"); err != nil {
		return nil, err
	}
	d.emu.update(func(s *Stats) {
		s.ContextsCreated++
		s.ContextsLive++
	})
	return &devContext{emu: d.emu, device: d}, nil
}

func sameDevice(a *device, b accel.Device) bool {
	other, ok := b.(*device)
	return ok && other.emu == a.emu && other.spec == a.spec
}

func hasMagic(image []byte) bool {
	return bytes.HasPrefix(image, []byte(ImageMagic))
}
