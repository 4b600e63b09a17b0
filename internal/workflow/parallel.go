// Mapper generalizes the Python source's optional Ray-backed parallel map
// (openclaw_agent/kernel/batch.py, swarm.py: "gracefully degrade to
// sequential execution when Ray is not available") into a small Go
// interface with a sequential default and a bounded worker-pool
// implementation — SPEC_FULL.md §9's reimplementation of the optional
// distributed executor. Selected per run via workflows.mapperFor and
// config.WorkflowConfig.UseParallelMap.
package workflow

import "sync"

// Mapper applies fn to every item, returning results in input order.
type Mapper interface {
	Map(items []any, fn func(any) any) []any
}

// SequentialMapper is the always-correct default; used when
// WorkflowConfig.UseParallelMap is false or the item count is small.
type SequentialMapper struct{}

func (SequentialMapper) Map(items []any, fn func(any) any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = fn(item)
	}
	return out
}

// PooledMapper runs fn over items on a bounded worker pool — the optional
// concurrent implementation named in SPEC_FULL.md §9. Safe for the pure,
// allocation-light node bodies workflows use (spec.md §5: "workflows
// contain no long CPU sections").
type PooledMapper struct {
	Workers int
}

func (m PooledMapper) Map(items []any, fn func(any) any) []any {
	workers := m.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(items) {
		workers = len(items)
	}
	if workers <= 1 {
		return SequentialMapper{}.Map(items, fn)
	}

	out := make([]any, len(items))
	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = fn(items[i])
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return out
}

// Chunk splits items into consecutive batches of chunkSize (the last one may
// be shorter); chunkSize<=0 means 100, and chunkSize 1 gives one item per
// batch.
func Chunk(items []any, chunkSize int) [][]any {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	var chunks [][]any
	for i := 0; i < len(items); i += chunkSize {
		end := i + chunkSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}
