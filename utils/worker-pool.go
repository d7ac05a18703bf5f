package utils

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tj/go-spin"
)

// WorkerPool manages a pool of goroutines for parallel processing
type WorkerPool struct {
	NumWorkers int
	JobQueue   chan interface{}
	Results    chan interface{}
	wg         sync.WaitGroup
	started    bool
	mu         sync.Mutex
}

// NewWorkerPool creates a new worker pool with specified number of workers
func NewWorkerPool(numWorkers int, jobBufferSize int, resultBufferSize int) *WorkerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	return &WorkerPool{
		NumWorkers: numWorkers,
		JobQueue:   make(chan interface{}, jobBufferSize),
		Results:    make(chan interface{}, resultBufferSize),
		started:    false,
	}
}

// StartWorkers starts the worker goroutines with the given work function
func (wp *WorkerPool) StartWorkers(workFunc func(interface{}) interface{}) {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}

	wp.started = true
	wp.wg.Add(wp.NumWorkers)

	for i := 0; i < wp.NumWorkers; i++ {
		go wp.worker(i, workFunc)
	}
}

// worker processes jobs from the job queue
func (wp *WorkerPool) worker(id int, workFunc func(interface{}) interface{}) {
	defer wp.wg.Done()

	for job := range wp.JobQueue {
		result := workFunc(job)
		// Always send the result, even if it's nil
		wp.Results <- result
	}
}

// SubmitJob adds a job to the job queue
func (wp *WorkerPool) SubmitJob(job interface{}) {
	wp.JobQueue <- job
}

// ProgressFunc receives periodic (completed, total) notifications.
type ProgressFunc func(completed, total int)

// ResolutionController is the cooperative progress and cancellation channel
// between the engine and its caller. Report fan-out is serialized so callers
// see monotonic counts even when work is parallel.
type ResolutionController struct {
	cancelled  atomic.Bool
	onProgress ProgressFunc
	mu         sync.Mutex
}

// NewResolutionController wraps an optional progress callback. A nil callback
// is fine; the controller then only carries cancellation.
func NewResolutionController(onProgress ProgressFunc) *ResolutionController {
	return &ResolutionController{onProgress: onProgress}
}

// Report forwards a progress notification to the caller.
func (rc *ResolutionController) Report(completed, total int) {
	if rc == nil || rc.onProgress == nil {
		return
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.onProgress(completed, total)
}

// Cancel requests a cooperative stop. Processing halts after the group that
// is currently being resolved completes.
func (rc *ResolutionController) Cancel() {
	if rc != nil {
		rc.cancelled.Store(true)
	}
}

// IsCancelled reports whether a stop has been requested.
func (rc *ResolutionController) IsCancelled() bool {
	return rc != nil && rc.cancelled.Load()
}

// ProgressTracker tracks progress of concurrent operations
type ProgressTracker struct {
	Total      int64
	Processed  int64
	StartTime  time.Time
	Name       string
	spinner    *spin.Spinner
	controller *ResolutionController
}

// NewProgressTracker creates a new progress tracker. The controller is
// optional; when present every print interval also reports through it.
func NewProgressTracker(total int64, name string, controller *ResolutionController) *ProgressTracker {
	return &ProgressTracker{
		Total:      total,
		Processed:  0,
		StartTime:  time.Now(),
		Name:       name,
		spinner:    spin.New(),
		controller: controller,
	}
}

// Increment increments the processed count atomically. The controller hears
// every increment so callers can cancel mid-run; printing stays throttled.
func (pt *ProgressTracker) Increment() {
	processed := atomic.AddInt64(&pt.Processed, 1)

	// Print progress every 100 items or at completion
	if processed%100 == 0 || processed == pt.Total {
		elapsed := time.Since(pt.StartTime)
		rate := float64(processed) / elapsed.Seconds()
		percentage := float64(processed) / float64(pt.Total) * 100

		fmt.Printf("\r%s %s: %d/%d (%.1f%%) - %.1f items/sec\n",
			pt.spinner.Next(), pt.Name, processed, pt.Total, percentage, rate)
	}

	pt.controller.Report(int(processed), int(pt.Total))
}

// GetProgress returns the current progress
func (pt *ProgressTracker) GetProgress() (int64, int64, float64) {
	processed := atomic.LoadInt64(&pt.Processed)
	percentage := float64(processed) / float64(pt.Total) * 100
	return processed, pt.Total, percentage
}

// ParallelProcessor provides utilities for parallel processing
type ParallelProcessor struct {
	NumWorkers int
}

// NewParallelProcessor creates a new parallel processor
func NewParallelProcessor(numWorkers int) *ParallelProcessor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}

	return &ParallelProcessor{
		NumWorkers: numWorkers,
	}
}

// ProcessBatch processes a batch of items in parallel
func (pp *ParallelProcessor) ProcessBatch(items []interface{},
	workFunc func(interface{}) interface{},
	progressName string, controller *ResolutionController) ([]interface{}, error) {

	if len(items) == 0 {
		return []interface{}{}, nil
	}

	// Create progress tracker
	tracker := NewProgressTracker(int64(len(items)), progressName, controller)

	// Create worker pool
	wp := NewWorkerPool(pp.NumWorkers, len(items), len(items))

	// Start workers with progress tracking
	wp.StartWorkers(func(job interface{}) interface{} {
		result := workFunc(job)
		tracker.Increment()
		return result
	})

	// Submit all jobs
	for _, item := range items {
		wp.SubmitJob(item)
	}

	// Close job queue to signal no more jobs
	close(wp.JobQueue)

	// Collect all results - we expect exactly len(items) results
	results := make([]interface{}, 0, len(items))
	for i := 0; i < len(items); i++ {
		result := <-wp.Results
		if result != nil {
			results = append(results, result)
		}
	}

	// Wait for all workers to finish
	wp.wg.Wait()

	// Close results channel
	close(wp.Results)

	fmt.Printf("%s: Completed processing %d items\n", progressName, len(results))
	return results, nil
}
