//go:build gpu

package gpu

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/openfluke/loom-embedding/envconfig"
	"github.com/openfluke/loom-embedding/nn"
	"github.com/openfluke/webgpu/wgpu"
)

// Backend gathers embedding rows with a WGSL compute kernel. It satisfies
// nn.Backend; ids are validated on the host before anything is uploaded.
type Backend struct {
	ctx       *Context
	workgroup uint32
	budget    uint64
	timeout   time.Duration

	mu        sync.Mutex
	pipelines map[[2]int]*wgpu.ComputePipeline
}

// NewBackend initializes the shared GPU context and returns a backend
// bounded by LOOM_BUDGET_MB and LOOM_GPU_TIMEOUT.
func NewBackend() (*Backend, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	return &Backend{
		ctx:       c,
		workgroup: chooseWorkgroup(c.Limits),
		budget:    envconfig.BudgetMB() * 1024 * 1024,
		timeout:   envconfig.GPUTimeout(),
		pipelines: make(map[[2]int]*wgpu.ComputePipeline),
	}, nil
}

func (b *Backend) Name() string      { return "webgpu" }
func (b *Backend) Device() nn.Device { return nn.DeviceWebGPU }

// Gather runs the gather kernel for ids and reads the rows back.
func (b *Backend) Gather(weight *nn.Tensor[float32], ids *nn.Tensor[int64]) (*nn.Tensor[float32], error) {
	rows, dim, err := nn.CheckGather(weight, ids)
	if err != nil {
		return nil, err
	}
	out := nn.NewTensor[float32](nn.GatherShape(ids, dim)...)
	out.DType = weight.DType
	out.Device = b.Device()
	if out.Size() == 0 {
		return out, nil
	}
	if uint64(rows) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d rows do not fit u32 ids", ErrTooLarge, rows)
	}
	for _, size := range []uint64{uint64(weight.Size()) * 4, uint64(out.Size()) * 4} {
		if !b.ctx.Limits.fits(size, b.budget) {
			return nil, fmt.Errorf("%w: %d bytes (binding limit %d, budget %d)", ErrTooLarge, size, b.ctx.Limits.MaxStorageBufferBindingSize, b.budget)
		}
	}

	groups, ok := b.ctx.Limits.dispatch(out.Size(), b.workgroup)
	if !ok {
		return nil, fmt.Errorf("%w: %d outputs need more than %d workgroups of %d", ErrTooLarge, out.Size(), b.ctx.Limits.MaxComputeWorkgroupsPerDimension, b.workgroup)
	}

	pipeline, err := b.pipeline(rows, dim)
	if err != nil {
		return nil, err
	}

	tokens := make([]uint32, ids.Size())
	for i, id := range ids.Data {
		tokens[i] = uint32(id)
	}
	tokenBuf, err := NewIndexBuffer(b.ctx, "Gather_Tokens", tokens)
	if err != nil {
		return nil, err
	}
	defer tokenBuf.Destroy()

	weightBuf, err := NewFloatBuffer(b.ctx, "Gather_Weights", weight.Data, wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}
	defer weightBuf.Destroy()

	outBuf, err := b.ctx.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Gather_Out",
		Size:  uint64(out.Size() * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create output buffer: %w", err)
	}
	defer outBuf.Destroy()

	bindGroup, err := b.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "Gather_Bind",
		Layout: pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: tokenBuf, Size: tokenBuf.GetSize()},
			{Binding: 1, Buffer: weightBuf, Size: weightBuf.GetSize()},
			{Binding: 2, Buffer: outBuf, Size: outBuf.GetSize()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bind group: %w", err)
	}
	defer bindGroup.Release()

	encoder, err := b.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %w", err)
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %w", err)
	}
	b.ctx.Queue.Submit(cmd)

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	data, err := ReadBuffer(ctx, b.ctx, outBuf, out.Size())
	if err != nil {
		return nil, err
	}
	copy(out.Data, data)
	return out, nil
}

// pipeline returns the compiled kernel for a [rows, dim] table.
func (b *Backend) pipeline(rows, dim int) (*wgpu.ComputePipeline, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := [2]int{rows, dim}
	if p, ok := b.pipelines[key]; ok {
		return p, nil
	}

	module, err := b.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "Gather_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: GatherShader(rows, dim, b.workgroup)},
	})
	if err != nil {
		return nil, fmt.Errorf("compile gather shader: %w", err)
	}
	p, err := b.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "Gather_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: "main"},
	})
	if err != nil {
		return nil, fmt.Errorf("create gather pipeline: %w", err)
	}
	slog.Debug("compiled gather kernel", "rows", rows, "dim", dim, "workgroup", b.workgroup)
	b.pipelines[key] = p
	return p, nil
}

// Release frees the compiled pipelines. The shared context stays alive.
func (b *Backend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, p := range b.pipelines {
		p.Release()
		delete(b.pipelines, k)
	}
}
