package emulator

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"github.com/fxnlabs/fpga-mmult/internal/hostmem"
)

// CommandKind names an executed queue command.
type CommandKind string

const (
	CommandMigrate CommandKind = "migrate"
	CommandTask    CommandKind = "task"
)

// HostCall names a host call that waits on or frees device work.
type HostCall string

const (
	CallFinish        HostCall = "finish"
	CallReleaseQueue  HostCall = "release queue"
	CallReleaseBuffer HostCall = "release buffer"
)

// Command is one entry of the execution trace.
type Command struct {
	Kind      CommandKind
	Direction accel.Migration
	// Buffers are the ids of migrated buffers, or the buffer arguments of a
	// task in argument order.
	Buffers []int
	Kernel  string
}

type devContext struct {
	emu    *Emulator
	device *device
	once   sync.Once
}

func (c *devContext) CreateQueue(d accel.Device, props accel.QueueProperties) (accel.Queue, error) {
	if err := c.emu.fault("CreateQueue"); err != nil {
		return nil, err
	}
	if !sameDevice(c.device, d) {
		return nil, accel.StatusInvalidDevice
	}
	if props&accel.QueueOutOfOrder != 0 {
		return nil, accel.StatusInvalidQueueProperties
	}
	q := &queue{
		emu:       c.emu,
		profiling: props&accel.QueueProfiling != 0,
		cmds:      make(chan func() error, 16),
		done:      make(chan struct{}),
	}
	go q.run()
	c.emu.update(func(s *Stats) { s.QueuesLive++ })
	return q, nil
}

func (c *devContext) CreateProgramWithBinary(d accel.Device, image []byte) (accel.Program, error) {
	if err := c.emu.fault("CreateProgram"); err != nil {
		return nil, err
	}
	if !sameDevice(c.device, d) {
		return nil, accel.StatusInvalidDevice
	}
	if !hasMagic(image) {
		return nil, accel.StatusInvalidBinary
	}
	c.emu.update(func(s *Stats) { s.ProgramsLive++ })
	return &program{emu: c.emu}, nil
}

func (c *devContext) CreateBuffer(flags accel.MemFlags, host []byte) (accel.Buffer, error) {
	if err := c.emu.fault("CreateBuffer"); err != nil {
		return nil, err
	}
	access := 0
	for _, f := range []accel.MemFlags{accel.MemReadWrite, accel.MemReadOnly, accel.MemWriteOnly} {
		if flags.Has(f) {
			access++
		}
	}
	if access > 1 {
		return nil, accel.StatusInvalidValue
	}
	if len(host) == 0 {
		if flags.Has(accel.MemUseHostPtr) {
			return nil, accel.StatusInvalidHostPtr
		}
		return nil, accel.StatusInvalidBufferSize
	}

	staged := false
	if flags.Has(accel.MemUseHostPtr) {
		staged = !hostmem.IsAligned(addrOf(host), hostmem.PageSize)
	}

	c.emu.mu.Lock()
	if c.emu.memLimit > 0 && c.emu.stats.DeviceBytes+len(host) > c.emu.memLimit {
		c.emu.mu.Unlock()
		return nil, accel.StatusMemObjectAllocationFailure
	}
	c.emu.stats.DeviceBytes += len(host)
	c.emu.stats.BuffersCreated++
	c.emu.stats.BuffersLive++
	if staged {
		c.emu.stats.BuffersStaged++
	}
	c.emu.nextID++
	id := c.emu.nextID
	c.emu.mu.Unlock()

	b := &buffer{
		emu:    c.emu,
		id:     id,
		flags:  flags,
		device: make([]byte, len(host)),
	}
	if flags.Has(accel.MemUseHostPtr) {
		b.host = host
	} else {
		copy(b.device, host)
	}
	return b, nil
}

func (c *devContext) Release() error {
	c.once.Do(func() {
		c.emu.update(func(s *Stats) { s.ContextsLive-- })
	})
	return nil
}

type queue struct {
	emu       *Emulator
	profiling bool
	cmds      chan func() error
	done      chan struct{}
	pending   sync.WaitGroup

	mu       sync.Mutex
	released bool

	errMu sync.Mutex
	err   error
}

func (q *queue) run() {
	defer close(q.done)
	for cmd := range q.cmds {
		if err := cmd(); err != nil {
			q.errMu.Lock()
			if q.err == nil {
				q.err = err
			}
			q.errMu.Unlock()
		}
		q.pending.Done()
	}
}

func (q *queue) enqueue(cmd func() error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released {
		return accel.StatusInvalidCommandQueue
	}
	q.pending.Add(1)
	q.cmds <- cmd
	return nil
}

func (q *queue) EnqueueMigrate(bufs []accel.Buffer, dir accel.Migration) error {
	if err := q.emu.fault("EnqueueMigrate"); err != nil {
		return err
	}
	if len(bufs) == 0 {
		return accel.StatusInvalidValue
	}
	own := make([]*buffer, 0, len(bufs))
	ids := make([]int, 0, len(bufs))
	for _, b := range bufs {
		eb, ok := b.(*buffer)
		if !ok || eb.emu != q.emu {
			return accel.StatusInvalidMemObject
		}
		own = append(own, eb)
		ids = append(ids, eb.id)
	}

	return q.enqueue(func() error {
		for _, b := range own {
			b.migrate(dir)
		}
		q.emu.record(Command{Kind: CommandMigrate, Direction: dir, Buffers: ids})
		return nil
	})
}

func (q *queue) EnqueueTask(k accel.Kernel) (accel.Event, error) {
	if err := q.emu.fault("EnqueueTask"); err != nil {
		return nil, err
	}
	ek, ok := k.(*kernel)
	if !ok || ek.emu != q.emu {
		return nil, accel.StatusInvalidKernel
	}
	// Arguments are captured at enqueue time.
	args, err := ek.snapshot()
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, a := range args {
		if a.buf != nil {
			ids = append(ids, a.buf.id)
		}
	}

	ev := &event{emu: q.emu, profiling: q.profiling}
	q.emu.update(func(s *Stats) { s.EventsLive++ })
	err = q.enqueue(func() error {
		start := q.emu.now()
		runErr := ek.impl.Run(resolveArgs(args))
		end := q.emu.now()
		ev.complete(start, end, runErr)
		q.emu.record(Command{Kind: CommandTask, Buffers: ids, Kernel: ek.name})
		if runErr != nil {
			return fmt.Errorf("kernel %s: %w", ek.name, runErr)
		}
		return nil
	})
	if err != nil {
		_ = ev.Release()
		return nil, err
	}
	return ev, nil
}

func (q *queue) Finish() error {
	if err := q.emu.fault("Finish"); err != nil {
		return err
	}
	q.emu.call(CallFinish)
	q.pending.Wait()
	q.errMu.Lock()
	defer q.errMu.Unlock()
	err := q.err
	q.err = nil
	return err
}

func (q *queue) Release() error {
	q.mu.Lock()
	if q.released {
		q.mu.Unlock()
		return nil
	}
	q.released = true
	close(q.cmds)
	q.mu.Unlock()
	q.emu.call(CallReleaseQueue)

	// Releasing a queue waits for outstanding commands.
	<-q.done
	q.emu.update(func(s *Stats) { s.QueuesLive-- })
	return nil
}

type program struct {
	emu  *Emulator
	once sync.Once
}

func (p *program) CreateKernel(name string) (accel.Kernel, error) {
	impl, ok := p.emu.kernels[name]
	if !ok {
		return nil, accel.StatusInvalidKernelName
	}
	p.emu.update(func(s *Stats) { s.KernelsLive++ })
	return &kernel{
		emu:  p.emu,
		name: name,
		impl: impl,
		args: make([]*arg, impl.Arity()),
	}, nil
}

func (p *program) Release() error {
	p.once.Do(func() {
		p.emu.update(func(s *Stats) { s.ProgramsLive-- })
	})
	return nil
}

type arg struct {
	buf   *buffer
	value int32
}

type kernel struct {
	emu  *Emulator
	name string
	impl Kernel
	once sync.Once

	mu   sync.Mutex
	args []*arg
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArgBuffer(index int, b accel.Buffer) error {
	if err := k.emu.fault("SetArg"); err != nil {
		return err
	}
	eb, ok := b.(*buffer)
	if !ok || eb.emu != k.emu {
		return accel.StatusInvalidMemObject
	}
	return k.set(index, &arg{buf: eb})
}

func (k *kernel) SetArgInt32(index int, v int32) error {
	if err := k.emu.fault("SetArg"); err != nil {
		return err
	}
	return k.set(index, &arg{value: v})
}

func (k *kernel) set(index int, a *arg) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if index < 0 || index >= len(k.args) {
		return accel.StatusInvalidArgIndex
	}
	k.args[index] = a
	return nil
}

func (k *kernel) snapshot() ([]arg, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]arg, len(k.args))
	for i, a := range k.args {
		if a == nil {
			return nil, accel.StatusInvalidKernelArgs
		}
		out[i] = *a
	}
	return out, nil
}

func (k *kernel) Release() error {
	k.once.Do(func() {
		k.emu.update(func(s *Stats) { s.KernelsLive-- })
	})
	return nil
}

func resolveArgs(args []arg) []Arg {
	out := make([]Arg, len(args))
	for i, a := range args {
		if a.buf != nil {
			out[i] = Arg{Mem: a.buf.device, Buffer: true}
		} else {
			out[i] = Arg{Value: a.value}
		}
	}
	return out
}

type buffer struct {
	emu    *Emulator
	id     int
	flags  accel.MemFlags
	host   []byte
	device []byte
	once   sync.Once
}

func (b *buffer) Size() int { return len(b.device) }

func (b *buffer) migrate(dir accel.Migration) {
	if b.host == nil {
		return
	}
	if dir == accel.MigrateToHost {
		copy(b.host, b.device)
	} else {
		copy(b.device, b.host)
	}
}

func (b *buffer) Release() error {
	b.once.Do(func() {
		b.emu.call(CallReleaseBuffer)
		b.emu.update(func(s *Stats) {
			s.BuffersLive--
			s.DeviceBytes -= len(b.device)
		})
	})
	return nil
}

type event struct {
	emu       *Emulator
	profiling bool
	once      sync.Once

	mu         sync.Mutex
	done       bool
	start, end uint64
	err        error
}

func (e *event) complete(start, end uint64, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.done = true
	e.start, e.end, e.err = start, end, err
}

func (e *event) ProfilingInfo(info accel.ProfilingInfo) (uint64, error) {
	if err := e.emu.fault("ProfilingInfo"); err != nil {
		return 0, err
	}
	if !e.profiling {
		return 0, accel.StatusProfilingInfoNotAvailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		return 0, accel.StatusProfilingInfoNotAvailable
	}
	switch info {
	case accel.ProfilingQueued, accel.ProfilingSubmit, accel.ProfilingStart:
		return e.start, nil
	case accel.ProfilingEnd:
		return e.end, nil
	default:
		return 0, accel.StatusInvalidValue
	}
}

func (e *event) Release() error {
	e.once.Do(func() {
		e.emu.update(func(s *Stats) { s.EventsLive-- })
	})
	return nil
}
