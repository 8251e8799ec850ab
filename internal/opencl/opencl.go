//go:build opencl

package opencl

/*
#cgo CFLAGS: -DCL_TARGET_OPENCL_VERSION=120
#cgo linux LDFLAGS: -lOpenCL
#cgo darwin LDFLAGS: -framework OpenCL

#ifdef __APPLE__
#include <OpenCL/opencl.h>
#else
#include <CL/cl.h>
#endif
#include <stdlib.h>

static cl_context mmult_create_context(cl_device_id device, cl_int *err) {
	return clCreateContext(NULL, 1, &device, NULL, NULL, err);
}

static cl_program mmult_create_program(cl_context ctx, cl_device_id device,
		const unsigned char *image, size_t len, cl_int *binary_status, cl_int *err) {
	return clCreateProgramWithBinary(ctx, 1, &device, &len, &image, binary_status, err);
}

static cl_int mmult_set_arg_mem(cl_kernel kernel, cl_uint index, cl_mem mem) {
	return clSetKernelArg(kernel, index, sizeof(cl_mem), &mem);
}

static cl_int mmult_set_arg_int(cl_kernel kernel, cl_uint index, cl_int value) {
	return clSetKernelArg(kernel, index, sizeof(cl_int), &value);
}
*/
import "C"

import (
	"strings"
	"unsafe"

	"github.com/fxnlabs/fpga-mmult/internal/accel"
)

// Returned by the ICD loader when no vendor library is installed.
const platformNotFoundKHR = -1001

// Runtime enumerates the platforms of the installed OpenCL ICDs.
type Runtime struct{}

var _ accel.Runtime = (*Runtime)(nil)

// New returns the native runtime.
func New() (*Runtime, error) {
	return &Runtime{}, nil
}

func status(st C.cl_int) error {
	if st == C.CL_SUCCESS {
		return nil
	}
	return accel.Status(st)
}

// Platforms implements accel.Runtime. No installed platform is an empty
// list, not an error.
func (*Runtime) Platforms() ([]accel.Platform, error) {
	var n C.cl_uint
	st := C.clGetPlatformIDs(0, nil, &n)
	if st == platformNotFoundKHR || (st == C.CL_SUCCESS && n == 0) {
		return nil, nil
	}
	if err := status(st); err != nil {
		return nil, err
	}

	ids := make([]C.cl_platform_id, n)
	if err := status(C.clGetPlatformIDs(n, &ids[0], nil)); err != nil {
		return nil, err
	}

	platforms := make([]accel.Platform, 0, len(ids))
	for _, id := range ids {
		name, err := platformInfo(id, C.CL_PLATFORM_NAME)
		if err != nil {
			return nil, err
		}
		vendor, err := platformInfo(id, C.CL_PLATFORM_VENDOR)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, &platform{id: id, name: name, vendor: vendor})
	}
	return platforms, nil
}

func platformInfo(id C.cl_platform_id, param C.cl_platform_info) (string, error) {
	var size C.size_t
	if err := status(C.clGetPlatformInfo(id, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := status(C.clGetPlatformInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

func deviceInfo(id C.cl_device_id, param C.cl_device_info) (string, error) {
	var size C.size_t
	if err := status(C.clGetDeviceInfo(id, param, 0, nil, &size)); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if err := status(C.clGetDeviceInfo(id, param, size, unsafe.Pointer(&buf[0]), nil)); err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf), "\x00"), nil
}

type platform struct {
	id     C.cl_platform_id
	name   string
	vendor string
}

func (p *platform) Name() string   { return p.name }
func (p *platform) Vendor() string { return p.vendor }

func (p *platform) Devices(t accel.DeviceType) ([]accel.Device, error) {
	var n C.cl_uint
	st := C.clGetDeviceIDs(p.id, C.cl_device_type(t), 0, nil, &n)
	if st == C.CL_DEVICE_NOT_FOUND || (st == C.CL_SUCCESS && n == 0) {
		return nil, nil
	}
	if err := status(st); err != nil {
		return nil, err
	}

	ids := make([]C.cl_device_id, n)
	if err := status(C.clGetDeviceIDs(p.id, C.cl_device_type(t), n, &ids[0], nil)); err != nil {
		return nil, err
	}
	devices := make([]accel.Device, 0, len(ids))
	for _, id := range ids {
		name, err := deviceInfo(id, C.CL_DEVICE_NAME)
		if err != nil {
			return nil, err
		}
		devices = append(devices, &device{id: id, name: name})
	}
	return devices, nil
}

type device struct {
	id   C.cl_device_id
	name string
}

func (d *device) Name() string { return d.name }

func (d *device) CreateContext() (accel.Context, error) {
	var st C.cl_int
	ctx := C.mmult_create_context(d.id, &st)
	if err := status(st); err != nil {
		return nil, err
	}
	return &clContext{id: ctx}, nil
}

func asDevice(d accel.Device) (*device, error) {
	dev, ok := d.(*device)
	if !ok {
		return nil, accel.StatusInvalidDevice
	}
	return dev, nil
}

type clContext struct {
	id C.cl_context
}

func (c *clContext) CreateQueue(d accel.Device, props accel.QueueProperties) (accel.Queue, error) {
	dev, err := asDevice(d)
	if err != nil {
		return nil, err
	}
	var st C.cl_int
	q := C.clCreateCommandQueue(c.id, dev.id, C.cl_command_queue_properties(props), &st)
	if err := status(st); err != nil {
		return nil, err
	}
	return &queue{id: q}, nil
}

func (c *clContext) CreateProgramWithBinary(d accel.Device, image []byte) (accel.Program, error) {
	dev, err := asDevice(d)
	if err != nil {
		return nil, err
	}
	if len(image) == 0 {
		return nil, accel.StatusInvalidValue
	}

	// Vendor runtimes parse the image in place; hand them C memory.
	cimage := C.CBytes(image)
	defer C.free(cimage)

	var binStatus, st C.cl_int
	p := C.mmult_create_program(c.id, dev.id, (*C.uchar)(cimage), C.size_t(len(image)), &binStatus, &st)
	if err := status(st); err != nil {
		return nil, err
	}
	if err := status(binStatus); err != nil {
		C.clReleaseProgram(p)
		return nil, err
	}
	return &program{id: p}, nil
}

func (c *clContext) CreateBuffer(flags accel.MemFlags, host []byte) (accel.Buffer, error) {
	if len(host) == 0 {
		return nil, accel.StatusInvalidBufferSize
	}
	var ptr unsafe.Pointer
	if flags.Has(accel.MemUseHostPtr) {
		ptr = unsafe.Pointer(&host[0])
	}
	var st C.cl_int
	mem := C.clCreateBuffer(c.id, C.cl_mem_flags(flags), C.size_t(len(host)), ptr, &st)
	if err := status(st); err != nil {
		return nil, err
	}
	return &buffer{id: mem, size: len(host)}, nil
}

func (c *clContext) Release() error {
	if c.id == nil {
		return nil
	}
	err := status(C.clReleaseContext(c.id))
	c.id = nil
	return err
}

type queue struct {
	id C.cl_command_queue
}

func (q *queue) EnqueueMigrate(bufs []accel.Buffer, dir accel.Migration) error {
	if len(bufs) == 0 {
		return accel.StatusInvalidValue
	}
	mems := make([]C.cl_mem, len(bufs))
	for i, b := range bufs {
		cb, ok := unwrapBuffer(b)
		if !ok {
			return accel.StatusInvalidMemObject
		}
		mems[i] = cb.id
	}
	return status(C.clEnqueueMigrateMemObjects(q.id, C.cl_uint(len(mems)), &mems[0],
		C.cl_mem_migration_flags(dir), 0, nil, nil))
}

func (q *queue) EnqueueTask(k accel.Kernel) (accel.Event, error) {
	ck, ok := k.(*kernel)
	if !ok {
		return nil, accel.StatusInvalidKernel
	}
	var ev C.cl_event
	if err := status(C.clEnqueueTask(q.id, ck.id, 0, nil, &ev)); err != nil {
		return nil, err
	}
	return &event{id: ev}, nil
}

func (q *queue) Finish() error {
	return status(C.clFinish(q.id))
}

func (q *queue) Release() error {
	if q.id == nil {
		return nil
	}
	err := status(C.clReleaseCommandQueue(q.id))
	q.id = nil
	return err
}

type program struct {
	id C.cl_program
}

func (p *program) CreateKernel(name string) (accel.Kernel, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var st C.cl_int
	k := C.clCreateKernel(p.id, cname, &st)
	if err := status(st); err != nil {
		return nil, err
	}
	return &kernel{id: k, name: name}, nil
}

func (p *program) Release() error {
	if p.id == nil {
		return nil
	}
	err := status(C.clReleaseProgram(p.id))
	p.id = nil
	return err
}

type kernel struct {
	id   C.cl_kernel
	name string
}

func (k *kernel) Name() string { return k.name }

func (k *kernel) SetArgBuffer(index int, b accel.Buffer) error {
	cb, ok := unwrapBuffer(b)
	if !ok {
		return accel.StatusInvalidMemObject
	}
	return status(C.mmult_set_arg_mem(k.id, C.cl_uint(index), cb.id))
}

func (k *kernel) SetArgInt32(index int, v int32) error {
	return status(C.mmult_set_arg_int(k.id, C.cl_uint(index), C.cl_int(v)))
}

func (k *kernel) Release() error {
	if k.id == nil {
		return nil
	}
	err := status(C.clReleaseKernel(k.id))
	k.id = nil
	return err
}

type buffer struct {
	id   C.cl_mem
	size int
}

func (b *buffer) Size() int { return b.size }

func (b *buffer) Release() error {
	if b.id == nil {
		return nil
	}
	err := status(C.clReleaseMemObject(b.id))
	b.id = nil
	return err
}

// unwrapBuffer accepts both raw buffers and the accel.DeviceBuffer wrapper.
func unwrapBuffer(b accel.Buffer) (*buffer, bool) {
	switch v := b.(type) {
	case *buffer:
		return v, true
	case *accel.DeviceBuffer:
		return unwrapBuffer(v.Buffer)
	default:
		return nil, false
	}
}

type event struct {
	id C.cl_event
}

func (e *event) ProfilingInfo(info accel.ProfilingInfo) (uint64, error) {
	var v C.cl_ulong
	err := status(C.clGetEventProfilingInfo(e.id, C.cl_profiling_info(info),
		C.size_t(unsafe.Sizeof(v)), unsafe.Pointer(&v), nil))
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}

func (e *event) Release() error {
	if e.id == nil {
		return nil
	}
	err := status(C.clReleaseEvent(e.id))
	e.id = nil
	return err
}
