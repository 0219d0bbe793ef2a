package gpuprim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpuprim/gpucore"
	"github.com/gogpu/gpuprim/resource"
)

// Context bundles what the primitives need from the outside world: the
// device, a descriptor pool, the kernel cache and the logger. It is passed
// explicitly; there is no global device.
//
// A Context is safe for concurrent use. Each Recorder is used from one
// goroutine.
type Context struct {
	device gpucore.Device
	pool   *gpucore.DescriptorPool
	opts   options

	mu      sync.Mutex
	kernels map[string]*kernel
	closed  bool
}

// New creates a Context on device. The Context does not own the device;
// Close leaves it open.
func New(device gpucore.Device, opts ...Option) *Context {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &Context{
		device:  device,
		pool:    gpucore.NewDescriptorPool(device),
		opts:    o,
		kernels: make(map[string]*kernel),
	}
	registerDevice(device, c.log())
	c.log().Info("gpuprim: context created",
		"adapter", device.Info().Name,
		"backend", device.Info().Backend)
	return c
}

// Device returns the device the Context records for.
func (c *Context) Device() gpucore.Device { return c.device }

// Pool returns the Context's descriptor pool.
func (c *Context) Pool() *gpucore.DescriptorPool { return c.pool }

func (c *Context) log() *slog.Logger {
	if c.opts.logger != nil {
		return c.opts.logger
	}
	return Logger()
}

func (c *Context) label(name string) string {
	if c.opts.labelPrefix == "" {
		return name
	}
	return c.opts.labelPrefix + " " + name
}

// Close destroys the cached pipelines and every pooled bind group. Work
// still in flight must be waited for first.
func (c *Context) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	kernels := c.kernels
	c.kernels = nil
	c.mu.Unlock()

	for _, k := range kernels {
		c.destroyKernel(k)
	}
	c.pool.Close()
	unregisterDevice(c.device)
	c.log().Info("gpuprim: context closed", "kernels", len(kernels))
	return nil
}

func (c *Context) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AllocDeviceOnly allocates a buffer in device-local memory. Releasing the
// returned handle destroys the buffer once every shared reference, such as
// one held by a submission's container, is gone.
func (c *Context) AllocDeviceOnly(label string, usage gpucore.BufferUsage, size uint64) (*resource.Scoped[*gpucore.Buffer], error) {
	return c.alloc(&gpucore.BufferDesc{Label: c.label(label), Size: size, Usage: usage})
}

// AllocHostVisible allocates a buffer the host can map. With persistentMap
// the mapping is kept for the buffer's lifetime and exposed as
// Buffer.Mapped.
func (c *Context) AllocHostVisible(label string, usage gpucore.BufferUsage, size uint64, persistentMap bool) (*resource.Scoped[*gpucore.Buffer], error) {
	return c.alloc(&gpucore.BufferDesc{
		Label:         c.label(label),
		Size:          size,
		Usage:         usage,
		HostVisible:   true,
		PersistentMap: persistentMap,
	})
}

func (c *Context) alloc(desc *gpucore.BufferDesc) (*resource.Scoped[*gpucore.Buffer], error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	buf, err := c.device.CreateBuffer(desc)
	if err != nil {
		return nil, check(c.log(), "create buffer "+desc.Label, "", err)
	}
	c.log().Debug("gpuprim: buffer allocated",
		"label", desc.Label,
		"size", desc.Size,
		"usage", desc.Usage.String())
	return resource.NewScoped(buf, c.device.DestroyBuffer), nil
}

// WriteBuffer uploads data at a byte offset. The write is ordered before
// any later submission.
func (c *Context) WriteBuffer(buf *gpucore.Buffer, offset uint64, data []byte) error {
	precondition(offset+uint64(len(data)) <= buf.Size, "write of %d bytes at %d overflows %s", len(data), offset, buf)
	return check(c.log(), "write buffer "+buf.Label, "", c.device.WriteBuffer(buf, offset, data))
}

// ReadBuffer waits for submitted work and copies a byte range back to the
// host.
func (c *Context) ReadBuffer(ctx context.Context, buf *gpucore.Buffer, offset, size uint64) ([]byte, error) {
	precondition(offset+size <= buf.Size, "read of %d bytes at %d overflows %s", size, offset, buf)
	data, err := c.device.ReadBuffer(ctx, buf, offset, size)
	if err != nil {
		return nil, check(c.log(), "read buffer "+buf.Label, "", err)
	}
	return data, nil
}

// ReadUint32s reads n u32 values starting at element index first.
func (c *Context) ReadUint32s(ctx context.Context, buf *gpucore.Buffer, first, n uint32) ([]uint32, error) {
	data, err := c.ReadBuffer(ctx, buf, 4*uint64(first), 4*uint64(n))
	if err != nil {
		return nil, err
	}
	return DecodeUint32s(data), nil
}

// ReadBVHNodes reads n nodes starting at node index first.
func (c *Context) ReadBVHNodes(ctx context.Context, buf *gpucore.Buffer, first, n uint32) ([]BVHNode, error) {
	data, err := c.ReadBuffer(ctx, buf, BVHNodeSize*uint64(first), BVHNodeSize*uint64(n))
	if err != nil {
		return nil, err
	}
	return DecodeBVHNodes(data)
}

// NewRecorder starts recording. Everything the recorded work needs to keep
// alive is pushed into container, which the caller releases after the
// submission completes (Submission.Wait does this). A nil container gets
// a fresh one.
func (c *Context) NewRecorder(label string, container *resource.Container) (*Recorder, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	if container == nil {
		container = resource.NewContainer()
	}
	enc, err := c.device.CreateCommandEncoder(c.label(label))
	if err != nil {
		return nil, check(c.log(), "create command encoder "+label, "", err)
	}
	return &Recorder{ctx: c, enc: enc, container: container, label: label}, nil
}

// Submit finishes the recorder and queues it. A recorder that failed
// while recording is discarded and its error returned; its container is
// released.
func (c *Context) Submit(rec *Recorder) (*Submission, error) {
	if rec.err != nil {
		rec.enc.Discard()
		rec.container.Release()
		return nil, rec.err
	}
	cb, err := rec.enc.Finish()
	if err != nil {
		rec.container.Release()
		return nil, check(c.log(), "finish "+rec.label, rec.checkpoint, err)
	}
	idx, err := c.device.Submit(cb)
	if err != nil {
		rec.container.Release()
		return nil, check(c.log(), "submit "+rec.label, rec.checkpoint, err)
	}
	c.log().Debug("gpuprim: submitted",
		"label", rec.label,
		"index", uint64(idx),
		"dispatches", rec.dispatches,
		"resources", rec.container.Len())
	return &Submission{ctx: c, index: idx, container: rec.container, label: rec.label}, nil
}

// Run records fn into a fresh recorder, submits it and waits.
func (c *Context) Run(ctx context.Context, label string, fn func(*Recorder) error) error {
	container := resource.NewContainer()
	rec, err := c.NewRecorder(label, container)
	if err != nil {
		return err
	}
	if err := fn(rec); err != nil {
		rec.enc.Discard()
		container.Release()
		return err
	}
	sub, err := c.Submit(rec)
	if err != nil {
		return err
	}
	return sub.Wait(ctx)
}

// Submission is queued work and the container keeping its resources
// alive.
type Submission struct {
	ctx       *Context
	index     gpucore.SubmissionIndex
	container *resource.Container
	label     string
	once      sync.Once
}

// Index returns the device submission index.
func (s *Submission) Index() gpucore.SubmissionIndex { return s.index }

// Done reports whether the GPU has finished the submission. It does not
// block.
func (s *Submission) Done() bool {
	return s.ctx.device.Completed() >= s.index
}

// Wait blocks until the GPU finishes the submission or ctx is done, then
// releases the container. On a context error the container is kept.
func (s *Submission) Wait(ctx context.Context) error {
	if s.ctx.opts.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ctx.opts.waitTimeout)
		defer cancel()
	}
	if err := s.ctx.device.Wait(ctx, s.index); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("gpuprim: wait for %s: %w", s.label, err)
		}
		return check(s.ctx.log(), "wait "+s.label, "", err)
	}
	s.Release()
	return nil
}

// Release drops the submission's hold on its resources. Call it only once
// Done reports true; Wait calls it itself.
func (s *Submission) Release() {
	s.once.Do(s.container.Release)
}
