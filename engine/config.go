// Package engine exposes PunkVM's abstract external API (spec.md
// section 6): create, load, run, read_register, read_memory. It is the
// thin seam that wires bytecode.Load's parsed Program into emu's
// architectural state and timing/pipeline's Pipeline, the way the
// teacher's cmd/m2sim driver wires loader.Program into emu/pipeline by
// hand — but packaged as a reusable library entry point rather than a
// CLI-only code path, since the CLI driver itself is out of scope.
package engine

import (
	"io"

	"github.com/punkvm/punkvm/emu"
	"github.com/punkvm/punkvm/timing/cache"
	"github.com/punkvm/punkvm/timing/latency"
	"github.com/punkvm/punkvm/timing/pipeline"
	"github.com/punkvm/punkvm/timing/storebuffer"
)

// DefaultMemorySize matches spec.md section 2's "Main memory: Flat
// byte-addressable store (>=1 MiB)" at exactly the floor value; callers
// with larger data segments raise it via WithMemorySize.
const DefaultMemorySize = emu.MinMemorySize

// Config gathers everything Create needs to build an engine instance.
// Every field has a working zero value; Option functions layer
// overrides on top, mirroring the teacher's functional-options
// pipeline.PipelineOption pattern one level up.
type Config struct {
	MemorySize int

	FetchBufferCapacity int
	BranchPredictor     pipeline.BranchPredictorConfig
	StoreBufferCapacity int
	CacheConfig         cache.Config
	TimingConfig        *latency.TimingConfig

	Stdout io.Writer
	Stderr io.Writer
	Stdin  io.Reader
}

// DefaultConfig returns PunkVM's default engine configuration.
func DefaultConfig() Config {
	return Config{
		MemorySize:          DefaultMemorySize,
		FetchBufferCapacity: pipeline.DefaultFetchBufferCapacity,
		BranchPredictor:     pipeline.DefaultBranchPredictorConfig(),
		StoreBufferCapacity: storebuffer.DefaultCapacity,
		CacheConfig:         cache.DefaultL1Config(),
		TimingConfig:        latency.DefaultTimingConfig(),
	}
}

// Option is a functional option for Create, following the same pattern
// pipeline.PipelineOption establishes one layer down.
type Option func(*Config)

// WithMemorySize overrides the engine's total memory image size.
func WithMemorySize(size int) Option {
	return func(c *Config) { c.MemorySize = size }
}

// WithFetchBufferCapacity overrides the fetch buffer's depth.
func WithFetchBufferCapacity(n int) Option {
	return func(c *Config) { c.FetchBufferCapacity = n }
}

// WithBranchPredictorConfig overrides the branch predictor's sizing.
func WithBranchPredictorConfig(bc pipeline.BranchPredictorConfig) Option {
	return func(c *Config) { c.BranchPredictor = bc }
}

// WithStoreBufferCapacity overrides the store buffer's entry count.
func WithStoreBufferCapacity(n int) Option {
	return func(c *Config) { c.StoreBufferCapacity = n }
}

// WithCacheConfig overrides the L1 cache's organization.
func WithCacheConfig(cc cache.Config) Option {
	return func(c *Config) { c.CacheConfig = cc }
}

// WithTimingConfig overrides the per-category instruction latencies.
func WithTimingConfig(tc *latency.TimingConfig) Option {
	return func(c *Config) { c.TimingConfig = tc }
}

// WithStdout sets the writer the write syscall sends fd 1 output to.
func WithStdout(w io.Writer) Option {
	return func(c *Config) { c.Stdout = w }
}

// WithStderr sets the writer the write syscall sends fd 2 output to.
func WithStderr(w io.Writer) Option {
	return func(c *Config) { c.Stderr = w }
}

// WithStdin sets the reader the read syscall consumes from.
func WithStdin(r io.Reader) Option {
	return func(c *Config) { c.Stdin = r }
}
