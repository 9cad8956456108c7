// Package gpuflow orchestrates GPU work: it selects a device, allocates
// buffers and images, builds immutable compute and graphics pipelines,
// records ordered command sequences, submits them for asynchronous
// execution and reads results back once completion has been observed.
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/gpuflow"
//		_ "github.com/gogpu/gpuflow/driver/soft"
//	)
//
//	dc, err := gpuflow.Initialize(gpuflow.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dc.Close()
//
//	src, _ := dc.Allocator().CreateBufferInit(gpuflow.BufferDesc{
//		Usage: gpuflow.BufferUsageTransferSrc, HostVisible: true,
//	}, data)
//	dst, _ := dc.Allocator().CreateBuffer(gpuflow.BufferDesc{
//		Count: uint64(len(data)), Usage: gpuflow.BufferUsageTransferDst, HostVisible: true,
//	})
//
//	seq := gpuflow.NewSequencer(dc)
//	_ = seq.CopyBuffer(src, dst)
//	cs, _ := seq.Build()
//
//	sub := gpuflow.NewSubmitter(dc, gpuflow.SubmitterConfig{})
//	fence, _ := sub.Submit(ctx, cs)
//	if err := sub.Wait(fence, time.Second); err != nil {
//		log.Fatal(err)
//	}
//	view, _ := gpuflow.Read(dst, fence)
//
// # Ownership
//
// Buffers, images, pipelines, descriptor bindings and command sequences are
// reference counted. Creators hold one reference and drop it with Release.
// Objects that depend on a resource retain it, so a resource lives as long
// as any sequence or in-flight submission uses it.
//
// # Drivers
//
// Execution is delegated to a driver from package driver. Import a driver
// package for its side effect of registering itself; Initialize picks the
// first registered driver in priority order that has a suitable adapter.
//
// # Logging
//
// gpuflow is silent by default. Call SetLogger to route diagnostics to a
// log/slog logger.
package gpuflow
