// Package batch fans chunks of work across a bounded worker pool while
// preserving input order in the output.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidChunkSize is returned when the chunk size is not positive.
var ErrInvalidChunkSize = errors.New("batch: chunk size must be greater than 0")

// Strategy states whether a workload waits on I/O or burns CPU.
// It selects the pool limit, never the result.
type Strategy int

const (
	// IOBound work (network calls, store queries) runs up to MaxWorkers chunks at once.
	IOBound Strategy = iota
	// CPUBound work (scoring, parsing) runs up to CPUWorkers chunks at once.
	CPUBound
)

func (s Strategy) String() string {
	switch s {
	case IOBound:
		return "io"
	case CPUBound:
		return "cpu"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps "io" and "cpu" to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "io", "":
		return IOBound, nil
	case "cpu":
		return CPUBound, nil
	default:
		return IOBound, fmt.Errorf("batch: unknown strategy %q", s)
	}
}

// Config bounds the executor pools.
type Config struct {
	// MaxWorkers caps concurrent chunks for IOBound work. Default: 8
	MaxWorkers int
	// CPUWorkers caps concurrent chunks for CPUBound work. Default: GOMAXPROCS
	CPUWorkers int
}

// DefaultConfig returns the default pool limits.
func DefaultConfig() Config {
	return Config{
		MaxWorkers: 8,
		CPUWorkers: runtime.GOMAXPROCS(0),
	}
}

// Executor runs chunked work with a bounded number of goroutines.
type Executor struct {
	cfg Config
}

// NewExecutor returns an Executor; non-positive limits fall back to defaults.
func NewExecutor(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.CPUWorkers <= 0 {
		cfg.CPUWorkers = def.CPUWorkers
	}
	return &Executor{cfg: cfg}
}

// Limit returns the pool limit for strategy.
func (e *Executor) Limit(strategy Strategy) int {
	if strategy == CPUBound {
		return e.cfg.CPUWorkers
	}
	return e.cfg.MaxWorkers
}

// MaxConcurrency is the largest pool any single Run may start.
func (e *Executor) MaxConcurrency() int {
	return max(e.cfg.MaxWorkers, e.cfg.CPUWorkers)
}

// PanicError wraps a panic raised by a chunk.
type PanicError struct {
	Chunk int
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("batch: chunk %d panicked: %v", e.Chunk, e.Value)
}

// ChunkError identifies the chunk whose processing failed.
type ChunkError struct {
	Chunk int
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("batch: chunk %d: %v", e.Chunk, e.Err)
}

func (e *ChunkError) Unwrap() error { return e.Err }

// Chunk splits items into contiguous chunks of size; the last may be shorter.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	chunks := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}

// Run processes items in chunks of chunkSize on a pool of
// min(limit(strategy), chunks) goroutines and returns the chunk outputs
// concatenated in chunk order.
//
// The first failing chunk cancels the context passed to the others and Run
// returns its error with no results. Callers that need partial success must
// catch per item errors inside process and encode them in the output.
// process must be safe to call concurrently.
func Run[T, R any](ctx context.Context, e *Executor, items []T, chunkSize int, strategy Strategy, process func(ctx context.Context, chunk []T) ([]R, error)) ([]R, error) {
	chunks, err := Chunk(items, chunkSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return []R{}, nil
	}
	if e == nil {
		e = NewExecutor(Config{})
	}

	outputs := make([][]R, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(e.Limit(strategy), len(chunks)))

	for i, chunk := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &PanicError{Chunk: i, Value: r, Stack: debug.Stack()}
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := process(gctx, chunk)
			if err != nil {
				return &ChunkError{Chunk: i, Err: err}
			}
			outputs[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	total := 0
	for _, out := range outputs {
		total += len(out)
	}
	results := make([]R, 0, total)
	for _, out := range outputs {
		results = append(results, out...)
	}
	return results, nil
}
