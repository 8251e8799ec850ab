package emulator

import (
	"errors"
	"testing"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
	"github.com/fxnlabs/fpga-mmult/internal/hostmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func open(t *testing.T, e *Emulator) (accel.Device, accel.Context) {
	t.Helper()
	platforms, err := e.Platforms()
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	devices, err := platforms[0].Devices(accel.DeviceTypeAccelerator)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	ctx, err := devices[0].CreateContext()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctx.Release() })
	return devices[0], ctx
}

func region(t *testing.T, n int) *hostmem.Region {
	t.Helper()
	r, err := hostmem.AllocInt32(n, hostmem.PageSize)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func assertNothingLive(t *testing.T, s Stats) {
	t.Helper()
	assert.Zero(t, s.ContextsLive, "contexts")
	assert.Zero(t, s.QueuesLive, "queues")
	assert.Zero(t, s.ProgramsLive, "programs")
	assert.Zero(t, s.KernelsLive, "kernels")
	assert.Zero(t, s.BuffersLive, "buffers")
	assert.Zero(t, s.EventsLive, "events")
	assert.Zero(t, s.DeviceBytes, "device bytes")
}

func TestPlatforms(t *testing.T) {
	t.Run("default board", func(t *testing.T) {
		platforms, err := New().Platforms()
		require.NoError(t, err)
		require.Len(t, platforms, 1)
		assert.Equal(t, DefaultPlatform, platforms[0].Name())

		devices, err := platforms[0].Devices(accel.DeviceTypeAccelerator)
		require.NoError(t, err)
		require.Len(t, devices, 1)
		assert.Equal(t, DefaultDevice, devices[0].Name())

		gpus, err := platforms[0].Devices(accel.DeviceTypeGPU)
		require.NoError(t, err)
		assert.Empty(t, gpus)
	})

	t.Run("no platforms", func(t *testing.T) {
		platforms, err := New(WithPlatforms()).Platforms()
		require.NoError(t, err)
		assert.Empty(t, platforms)
	})

	t.Run("device class filter", func(t *testing.T) {
		e := New(WithPlatforms(PlatformSpec{
			Name:   "Xilinx",
			Vendor: "Xilinx",
			Devices: []DeviceSpec{
				{Name: "host", Type: accel.DeviceTypeCPU},
				{Name: "u250", Type: accel.DeviceTypeAccelerator},
			},
		}))
		platforms, err := e.Platforms()
		require.NoError(t, err)
		all, err := platforms[0].Devices(accel.DeviceTypeAll)
		require.NoError(t, err)
		assert.Len(t, all, 2)
		acc, err := platforms[0].Devices(accel.DeviceTypeAccelerator)
		require.NoError(t, err)
		require.Len(t, acc, 1)
		assert.Equal(t, "u250", acc[0].Name())
	})
}

func TestRoundTrip(t *testing.T) {
	const dim = 4
	e := New()
	dev, ctx := open(t, e)

	q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
	require.NoError(t, err)
	prog, err := ctx.CreateProgramWithBinary(dev, Image())
	require.NoError(t, err)
	k, err := prog.CreateKernel("mmult")
	require.NoError(t, err)
	assert.Equal(t, "mmult", k.Name())

	a, b, out := region(t, dim*dim), region(t, dim*dim), region(t, dim*dim)
	for i := range a.Int32s() {
		a.Int32s()[i] = int32(i)
	}
	for i := 0; i < dim; i++ {
		b.Int32s()[i*dim+i] = 1
	}

	bufA, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, a.Bytes())
	require.NoError(t, err)
	bufB, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, b.Bytes())
	require.NoError(t, err)
	bufOut, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemWriteOnly, out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, dim*dim*4, bufOut.Size())

	require.NoError(t, k.SetArgBuffer(0, bufA))
	require.NoError(t, k.SetArgBuffer(1, bufB))
	require.NoError(t, k.SetArgBuffer(2, bufOut))
	require.NoError(t, k.SetArgInt32(3, dim))

	require.NoError(t, q.EnqueueMigrate([]accel.Buffer{bufA, bufB}, accel.MigrateToDevice))
	ev, err := q.EnqueueTask(k)
	require.NoError(t, err)
	require.NoError(t, q.EnqueueMigrate([]accel.Buffer{bufOut}, accel.MigrateToHost))
	require.NoError(t, q.Finish())

	assert.Equal(t, a.Int32s(), out.Int32s())

	start, err := ev.ProfilingInfo(accel.ProfilingStart)
	require.NoError(t, err)
	end, err := ev.ProfilingInfo(accel.ProfilingEnd)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, end, start)

	assert.Equal(t, []Command{
		{Kind: CommandMigrate, Direction: accel.MigrateToDevice, Buffers: []int{1, 2}},
		{Kind: CommandTask, Buffers: []int{1, 2, 3}, Kernel: "mmult"},
		{Kind: CommandMigrate, Direction: accel.MigrateToHost, Buffers: []int{3}},
	}, e.Trace())

	for _, r := range []interface{ Release() error }{ev, bufOut, bufB, bufA, k, prog, q, ctx} {
		require.NoError(t, r.Release())
	}
	stats := e.Stats()
	assertNothingLive(t, stats)
	assert.Equal(t, 1, stats.ContextsCreated)
	assert.Equal(t, 3, stats.BuffersCreated)
	assert.Zero(t, stats.BuffersStaged)
}

// Data only moves between host and device through migrations.
func TestSeparateMemory(t *testing.T) {
	const dim = 2
	e := New()
	dev, ctx := open(t, e)
	q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
	require.NoError(t, err)
	defer q.Release()
	prog, err := ctx.CreateProgramWithBinary(dev, Image())
	require.NoError(t, err)
	defer prog.Release()
	k, err := prog.CreateKernel("mmult")
	require.NoError(t, err)
	defer k.Release()

	a, b, out := region(t, dim*dim), region(t, dim*dim), region(t, dim*dim)
	for i := range a.Int32s() {
		a.Int32s()[i] = 3
		b.Int32s()[i] = 5
	}
	bufA, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, a.Bytes())
	require.NoError(t, err)
	defer bufA.Release()
	bufB, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, b.Bytes())
	require.NoError(t, err)
	defer bufB.Release()
	bufOut, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemWriteOnly, out.Bytes())
	require.NoError(t, err)
	defer bufOut.Release()

	require.NoError(t, k.SetArgBuffer(0, bufA))
	require.NoError(t, k.SetArgBuffer(1, bufB))
	require.NoError(t, k.SetArgBuffer(2, bufOut))
	require.NoError(t, k.SetArgInt32(3, dim))

	// No migration to the host: the computed product stays on the device.
	require.NoError(t, q.EnqueueMigrate([]accel.Buffer{bufA, bufB}, accel.MigrateToDevice))
	ev, err := q.EnqueueTask(k)
	require.NoError(t, err)
	defer ev.Release()
	require.NoError(t, q.Finish())
	assert.Equal(t, []int32{0, 0, 0, 0}, out.Int32s())

	require.NoError(t, q.EnqueueMigrate([]accel.Buffer{bufOut}, accel.MigrateToHost))
	require.NoError(t, q.Finish())
	assert.Equal(t, []int32{30, 30, 30, 30}, out.Int32s())
}

func TestCreateBuffer(t *testing.T) {
	t.Run("conflicting access flags", func(t *testing.T) {
		_, ctx := open(t, New())
		_, err := ctx.CreateBuffer(accel.MemReadOnly|accel.MemWriteOnly, make([]byte, 16))
		assert.ErrorIs(t, err, accel.StatusInvalidValue)
	})

	t.Run("empty host memory", func(t *testing.T) {
		_, ctx := open(t, New())
		_, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, nil)
		assert.ErrorIs(t, err, accel.StatusInvalidHostPtr)
		_, err = ctx.CreateBuffer(accel.MemReadOnly, nil)
		assert.ErrorIs(t, err, accel.StatusInvalidBufferSize)
	})

	t.Run("memory limit", func(t *testing.T) {
		e := New(WithMemoryLimit(8192))
		_, ctx := open(t, e)
		r := region(t, 1024)
		b1, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, r.Bytes())
		require.NoError(t, err)
		b2, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, r.Bytes())
		require.NoError(t, err)
		_, err = ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, r.Bytes())
		assert.ErrorIs(t, err, accel.StatusMemObjectAllocationFailure)

		require.NoError(t, b2.Release())
		b3, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, r.Bytes())
		require.NoError(t, err)
		require.NoError(t, b3.Release())
		require.NoError(t, b1.Release())
		assert.Zero(t, e.Stats().DeviceBytes)
	})

	t.Run("unaligned host memory is staged", func(t *testing.T) {
		e := New()
		_, ctx := open(t, e)
		r, err := hostmem.Misaligned(64, 4)
		require.NoError(t, err)
		defer r.Close()
		b, err := ctx.CreateBuffer(accel.MemUseHostPtr|accel.MemReadOnly, r.Bytes())
		require.NoError(t, err)
		defer b.Release()
		assert.Equal(t, 1, e.Stats().BuffersStaged)
	})

	t.Run("release is idempotent", func(t *testing.T) {
		e := New()
		_, ctx := open(t, e)
		b, err := ctx.CreateBuffer(accel.MemReadWrite, make([]byte, 32))
		require.NoError(t, err)
		require.NoError(t, b.Release())
		require.NoError(t, b.Release())
		assert.Zero(t, e.Stats().BuffersLive)
	})
}

func TestProgram(t *testing.T) {
	t.Run("bad magic", func(t *testing.T) {
		dev, ctx := open(t, New())
		_, err := ctx.CreateProgramWithBinary(dev, []byte("not an xclbin"))
		assert.ErrorIs(t, err, accel.StatusInvalidBinary)
	})

	t.Run("unknown kernel", func(t *testing.T) {
		dev, ctx := open(t, New())
		prog, err := ctx.CreateProgramWithBinary(dev, Image())
		require.NoError(t, err)
		defer prog.Release()
		_, err = prog.CreateKernel("vadd")
		assert.ErrorIs(t, err, accel.StatusInvalidKernelName)
	})

	t.Run("kernel removed", func(t *testing.T) {
		dev, ctx := open(t, New(WithoutKernel("mmult")))
		prog, err := ctx.CreateProgramWithBinary(dev, Image())
		require.NoError(t, err)
		defer prog.Release()
		_, err = prog.CreateKernel("mmult")
		assert.ErrorIs(t, err, accel.StatusInvalidKernelName)
	})
}

func TestKernelArgs(t *testing.T) {
	e := New(WithKernel("noop", KernelFunc{N: 1, Fn: func([]Arg) error { return nil }}))
	dev, ctx := open(t, e)
	q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
	require.NoError(t, err)
	defer q.Release()
	prog, err := ctx.CreateProgramWithBinary(dev, Image())
	require.NoError(t, err)
	defer prog.Release()
	k, err := prog.CreateKernel("noop")
	require.NoError(t, err)
	defer k.Release()

	assert.ErrorIs(t, k.SetArgInt32(1, 0), accel.StatusInvalidArgIndex)
	assert.ErrorIs(t, k.SetArgInt32(-1, 0), accel.StatusInvalidArgIndex)

	_, err = q.EnqueueTask(k)
	assert.ErrorIs(t, err, accel.StatusInvalidKernelArgs)

	require.NoError(t, k.SetArgInt32(0, 7))
	ev, err := q.EnqueueTask(k)
	require.NoError(t, err)
	require.NoError(t, q.Finish())
	require.NoError(t, ev.Release())
}

func TestKernelFailureSurfacesOnFinish(t *testing.T) {
	boom := errors.New("boom")
	e := New(WithKernel("broken", KernelFunc{N: 1, Fn: func([]Arg) error { return boom }}))
	dev, ctx := open(t, e)
	q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
	require.NoError(t, err)
	defer q.Release()
	prog, err := ctx.CreateProgramWithBinary(dev, Image())
	require.NoError(t, err)
	defer prog.Release()
	k, err := prog.CreateKernel("broken")
	require.NoError(t, err)
	defer k.Release()
	require.NoError(t, k.SetArgInt32(0, 1))

	ev, err := q.EnqueueTask(k)
	require.NoError(t, err)
	defer ev.Release()

	err = q.Finish()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "kernel broken")
	assert.NoError(t, q.Finish(), "error is reported once")
}

func TestQueue(t *testing.T) {
	t.Run("out of order rejected", func(t *testing.T) {
		dev, ctx := open(t, New())
		_, err := ctx.CreateQueue(dev, accel.QueueProfiling|accel.QueueOutOfOrder)
		assert.ErrorIs(t, err, accel.StatusInvalidQueueProperties)
	})

	t.Run("foreign device rejected", func(t *testing.T) {
		_, ctx := open(t, New())
		other, _ := open(t, New())
		_, err := ctx.CreateQueue(other, accel.QueueProfiling)
		assert.ErrorIs(t, err, accel.StatusInvalidDevice)
	})

	t.Run("released queue rejects commands", func(t *testing.T) {
		dev, ctx := open(t, New())
		q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
		require.NoError(t, err)
		b, err := ctx.CreateBuffer(accel.MemReadWrite, make([]byte, 16))
		require.NoError(t, err)
		defer b.Release()
		require.NoError(t, q.Release())
		require.NoError(t, q.Release())
		assert.ErrorIs(t, q.EnqueueMigrate([]accel.Buffer{b}, accel.MigrateToDevice), accel.StatusInvalidCommandQueue)
	})

	t.Run("empty migration", func(t *testing.T) {
		dev, ctx := open(t, New())
		q, err := ctx.CreateQueue(dev, accel.QueueProfiling)
		require.NoError(t, err)
		defer q.Release()
		assert.ErrorIs(t, q.EnqueueMigrate(nil, accel.MigrateToDevice), accel.StatusInvalidValue)
	})
}

func TestProfiling(t *testing.T) {
	run := func(t *testing.T, e *Emulator, props accel.QueueProperties) accel.Event {
		t.Helper()
		dev, ctx := open(t, e)
		q, err := ctx.CreateQueue(dev, props)
		require.NoError(t, err)
		t.Cleanup(func() { _ = q.Release() })
		prog, err := ctx.CreateProgramWithBinary(dev, Image())
		require.NoError(t, err)
		t.Cleanup(func() { _ = prog.Release() })
		k, err := prog.CreateKernel("noop")
		require.NoError(t, err)
		t.Cleanup(func() { _ = k.Release() })
		require.NoError(t, k.SetArgInt32(0, 0))
		ev, err := q.EnqueueTask(k)
		require.NoError(t, err)
		t.Cleanup(func() { _ = ev.Release() })
		require.NoError(t, q.Finish())
		return ev
	}
	noop := WithKernel("noop", KernelFunc{N: 1, Fn: func([]Arg) error { return nil }})

	t.Run("disabled on queue", func(t *testing.T) {
		ev := run(t, New(noop), 0)
		_, err := ev.ProfilingInfo(accel.ProfilingStart)
		assert.ErrorIs(t, err, accel.StatusProfilingInfoNotAvailable)
	})

	t.Run("unknown parameter", func(t *testing.T) {
		ev := run(t, New(noop), accel.QueueProfiling)
		_, err := ev.ProfilingInfo(accel.ProfilingInfo(0))
		assert.ErrorIs(t, err, accel.StatusInvalidValue)
	})

	t.Run("fault", func(t *testing.T) {
		ev := run(t, New(noop, WithFault("ProfilingInfo", accel.StatusInvalidEvent)), accel.QueueProfiling)
		_, err := ev.ProfilingInfo(accel.ProfilingEnd)
		assert.ErrorIs(t, err, accel.StatusInvalidEvent)
	})
}

func TestFaults(t *testing.T) {
	e := New(WithFault("CreateContext", accel.StatusOutOfHostMemory))
	platforms, err := e.Platforms()
	require.NoError(t, err)
	devices, err := platforms[0].Devices(accel.DeviceTypeAccelerator)
	require.NoError(t, err)
	_, err = devices[0].CreateContext()
	assert.ErrorIs(t, err, accel.StatusOutOfHostMemory)
	assert.Zero(t, e.Stats().ContextsCreated)
}

func TestMMult(t *testing.T) {
	mem := func(vals ...int32) []byte {
		r := region(t, len(vals))
		copy(r.Int32s(), vals)
		return r.Bytes()
	}

	t.Run("wraparound", func(t *testing.T) {
		out := mem(0)
		err := MMult{}.Run([]Arg{
			{Mem: mem(1 << 30), Buffer: true},
			{Mem: mem(4), Buffer: true},
			{Mem: out, Buffer: true},
			{Value: 1},
		})
		require.NoError(t, err)
		r := region(t, 1)
		copy(r.Bytes(), out)
		assert.Equal(t, []int32{0}, r.Int32s())
	})

	t.Run("argument shape", func(t *testing.T) {
		err := MMult{}.Run([]Arg{{Value: 1}, {Value: 1}, {Value: 1}, {Value: 1}})
		assert.ErrorIs(t, err, accel.StatusInvalidKernelArgs)
	})

	t.Run("dimension", func(t *testing.T) {
		buf := mem(1)
		err := MMult{}.Run([]Arg{{Mem: buf, Buffer: true}, {Mem: buf, Buffer: true}, {Mem: buf, Buffer: true}, {Value: 0}})
		assert.ErrorIs(t, err, accel.StatusInvalidArgValue)
		err = MMult{}.Run([]Arg{{Mem: buf, Buffer: true}, {Mem: buf, Buffer: true}, {Mem: buf, Buffer: true}, {Value: 2}})
		assert.ErrorIs(t, err, accel.StatusInvalidArgValue)
	})
}
