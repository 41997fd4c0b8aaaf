package systems

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/umbra/engine/core"
)

// JobTask is a unit of background work. OnStart runs on a worker goroutine;
// OnComplete or OnFailure run right after it on the same worker.
type JobTask struct {
	Name       string
	OnStart    func() (interface{}, error)
	OnComplete func(result interface{})
	OnFailure  func(err error)
}

type JobSystem struct {
	numWorkers int
	jobQueue   chan JobTask
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var ErrNoWorkers = fmt.Errorf("attempting to create worker pool with less than 1 worker")
var ErrNegativeChannelSize = fmt.Errorf("attempting to create worker pool with a negative channel size")
var ErrJobSystemClosed = fmt.Errorf("job system is shut down")

func NewJobSystem(numWorkers int, channelSize int) (*JobSystem, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if channelSize < 0 {
		return nil, ErrNegativeChannelSize
	}

	js := &JobSystem{
		numWorkers: numWorkers,
		jobQueue:   make(chan JobTask, channelSize),
	}
	js.start()
	return js, nil
}

func (js *JobSystem) start() {
	for i := 0; i < js.numWorkers; i++ {
		js.wg.Add(1)
		go func() {
			defer js.wg.Done()
			for job := range js.jobQueue {
				js.run(job)
			}
		}()
	}
}

func (js *JobSystem) run(job JobTask) {
	if job.OnStart == nil {
		core.LogWarn("job %q has no entry point, skipping", job.Name)
		return
	}
	result, err := job.OnStart()
	if err != nil {
		core.LogError("job %q failed: %s", job.Name, err.Error())
		if job.OnFailure != nil {
			job.OnFailure(err)
		}
		return
	}
	if job.OnComplete != nil {
		job.OnComplete(result)
	}
}

/**
 * @brief Shuts the job system down. Queued jobs are finished first.
 */
func (js *JobSystem) Shutdown() error {
	js.mu.Lock()
	if js.closed {
		js.mu.Unlock()
		return nil
	}
	js.closed = true
	close(js.jobQueue)
	js.mu.Unlock()

	js.wg.Wait()
	return nil
}

/**
 * @brief Submits the provided job to be queued for execution. Blocks while
 * the queue is full.
 */
func (js *JobSystem) Submit(jt JobTask) error {
	js.mu.RLock()
	defer js.mu.RUnlock()

	if js.closed {
		return ErrJobSystemClosed
	}
	js.jobQueue <- jt
	return nil
}
