// Package profiling captures runtime profiles for a single command
// run. Long ingest and watch sessions are the usual subjects; the root
// command exposes the switches.
package profiling

import (
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Profiler writes pprof and trace data. Start methods return a stop
// function the caller defers across the run; WriteHeap takes a
// point-in-time snapshot, typically right before exit.
type Profiler struct {
	cpu   *os.File
	trace *os.File
}

// NewProfiler returns an idle profiler.
func NewProfiler() *Profiler {
	return &Profiler{}
}

// StartCPU begins CPU profiling into path. The stop function flushes
// and closes the profile.
func (p *Profiler) StartCPU(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create cpu profile %s: %w", path, err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cannot start cpu profile: %w", err)
	}
	p.cpu = f
	return func() {
		pprof.StopCPUProfile()
		_ = p.cpu.Close()
		p.cpu = nil
	}, nil
}

// StartTrace begins execution tracing into path. The stop function
// ends the trace and closes the file.
func (p *Profiler) StartTrace(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create trace file %s: %w", path, err)
	}
	if err := trace.Start(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("cannot start trace: %w", err)
	}
	p.trace = f
	return func() {
		trace.Stop()
		_ = p.trace.Close()
		p.trace = nil
	}, nil
}

// WriteHeap snapshots the live heap into path. A GC runs first so the
// profile reflects retained memory rather than collectable garbage.
func (p *Profiler) WriteHeap(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create heap profile %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("cannot write heap profile: %w", err)
	}
	return nil
}
