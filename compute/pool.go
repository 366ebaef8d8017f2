package compute

import (
	"fmt"
	"runtime"
	"sync"
)

// parallelThreshold is the minimum workgroup count to fan out across workers.
// Below this, running inline is faster than the channel round trip.
const parallelThreshold = 4

// workChunk represents a range of invocations for a worker to process.
type workChunk struct {
	start, end int
	fn         func(lo, hi int)
}

// workerPool runs dispatch chunks on persistent goroutines.
type workerPool struct {
	numWorkers int

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan error     // workers signal completion, non-nil on panic
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	return &workerPool{numWorkers: numWorkers}
}

// startWorkers launches persistent worker goroutines.
func (p *workerPool) startWorkers() {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan error, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *workerPool) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *workerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			p.doneChan <- runChunk(chunk)
		}
	}
}

// runChunk executes one chunk, converting a kernel panic into an error.
func runChunk(chunk workChunk) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic in [%d,%d): %v", chunk.start, chunk.end, r)
		}
	}()
	chunk.fn(chunk.start, chunk.end)
	return nil
}

// run executes fn over workgroups*groupSize invocations and blocks until every
// chunk has finished. Chunks are aligned to workgroup boundaries.
func (p *workerPool) run(workgroups, groupSize int, fn func(lo, hi int)) error {
	total := workgroups * groupSize
	if total == 0 {
		return nil
	}

	if workgroups < parallelThreshold || p.numWorkers == 1 {
		return runChunk(workChunk{start: 0, end: total, fn: fn})
	}

	if !p.running {
		p.startWorkers()
	}

	groupsPerChunk := (workgroups + p.numWorkers - 1) / p.numWorkers
	chunkSize := groupsPerChunk * groupSize

	// Dispatch chunks to workers
	chunksDispatched := 0
	for w := 0; w < p.numWorkers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > total {
			end = total
		}
		if start >= end {
			continue
		}

		p.workChan <- workChunk{start: start, end: end, fn: fn}
		chunksDispatched++
	}

	// Wait for all chunks to complete
	var firstErr error
	for i := 0; i < chunksDispatched; i++ {
		if err := <-p.doneChan; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
