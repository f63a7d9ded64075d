package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull wird zurückgegeben, wenn die Job-Queue voll ist
	ErrQueueFull = errors.New("worker queue is full")
	// ErrPoolClosed wird nach ShutdownGraceful zurückgegeben
	ErrPoolClosed = errors.New("worker pool is shut down")
)

// Task ist ein Backend-Aufruf, der im Worker-Pool läuft
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// WorkerPool verwaltet einen Pool von Worker-Goroutinen für Backend-Aufrufe
type WorkerPool struct {
	jobs            chan Task
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	closed          bool
	draining        chan struct{}
	shutdown        chan struct{}
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
}

// NewWorkerPool erstellt einen neuen Worker-Pool mit workers Goroutinen
// und einer Job-Queue der Größe queueSize
func NewWorkerPool(workers, queueSize int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	log.Infof("Initializing backend worker pool with %d workers", workers)

	ctx, cancel := context.WithCancel(context.Background())
	pool := &WorkerPool{
		jobs:        make(chan Task, queueSize),
		workerCount: workers,
		draining:    make(chan struct{}),
		shutdown:    make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}

	pool.startWorkers()

	return pool
}

// startWorkers startet die Worker-Goroutinen
func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case task := <-p.jobs:
					p.run(workerID, task)
				case <-p.draining:
					p.drain(workerID)
					return
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

// drain arbeitet wartende Jobs ab, bis die Queue leer ist oder der
// Shutdown erzwungen wird
func (p *WorkerPool) drain(workerID int) {
	for {
		select {
		case <-p.shutdown:
			log.Debugf("Worker %d stopped draining", workerID)
			return
		default:
		}
		select {
		case task := <-p.jobs:
			p.run(workerID, task)
		default:
			log.Debugf("Worker %d drained the queue", workerID)
			return
		}
	}
}

func (p *WorkerPool) run(workerID int, task Task) {
	p.activeJobsMutex.Lock()
	p.activeJobs++
	jobCount := p.activeJobs
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d running %s (active jobs: %d)", workerID, task.Name, jobCount)
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Worker %d: task %s panicked: %v", workerID, task.Name, r)
		}
		p.activeJobsMutex.Lock()
		p.activeJobs--
		p.activeJobsMutex.Unlock()
		log.Debugf("Worker %d completed %s in %v", workerID, task.Name, time.Since(startTime))
	}()

	task.Run(p.ctx)
}

// TrySubmit übergibt eine Aufgabe, ohne zu blockieren
func (p *WorkerPool) TrySubmit(task Task) error {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity gibt die Kapazität der Job-Queue zurück
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// QueueLength gibt die Anzahl wartender Jobs zurück
func (p *WorkerPool) QueueLength() int {
	return len(p.jobs)
}

// ShutdownGraceful nimmt keine neuen Jobs mehr an und lässt den Workern bis
// zu grace Zeit, die Queue abzuarbeiten. Danach werden laufende Aufrufe
// abgebrochen. Mehrfacher Aufruf ist erlaubt.
func (p *WorkerPool) ShutdownGraceful(grace time.Duration) {
	p.activeJobsMutex.Lock()
	if p.closed {
		p.activeJobsMutex.Unlock()
		return
	}
	p.closed = true
	p.activeJobsMutex.Unlock()

	if grace > 0 {
		close(p.draining)
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			p.cancel()
			return
		case <-timer.C:
			log.Warnf("Worker pool did not drain within %v, cancelling %d queued jobs", grace, len(p.jobs))
		}
	}

	p.cancel()
	close(p.shutdown)
	p.wg.Wait()
}
