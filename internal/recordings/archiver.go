package recordings

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Uploader is the part of [Client] the [Archiver] needs.
type Uploader interface {
	UploadSamples(ctx context.Context, samples []float32, sampleRate int, meta map[string]string) (string, error)
}

var _ Uploader = (*Client)(nil)

type archiveJob struct {
	samples    []float32
	sampleRate int
	meta       map[string]string
}

// Archiver uploads finished speech segments in the background. Uploads run
// one at a time in submission order; when the queue is full new segments are
// dropped so that capture never waits on the network.
type Archiver struct {
	up      Uploader
	timeout time.Duration
	queue   chan archiveJob

	mu     sync.Mutex
	closed bool

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// OnUploaded, if set before the first Archive call, receives the stored
	// filename of every successful upload together with the metadata it was
	// queued with.
	OnUploaded func(filename string, meta map[string]string)

	// OnError, if set before the first Archive call, receives every failed
	// upload.
	OnError func(err error)
}

// NewArchiver starts an Archiver with room for queueSize pending segments.
func NewArchiver(up Uploader, queueSize int) *Archiver {
	if queueSize <= 0 {
		queueSize = 8
	}
	a := &Archiver{
		up:      up,
		timeout: DefaultTimeout,
		queue:   make(chan archiveJob, queueSize),
		done:    make(chan struct{}),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

// Archive queues a segment for upload and reports whether it was accepted.
func (a *Archiver) Archive(samples []float32, sampleRate int, meta map[string]string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return false
	}
	select {
	case a.queue <- archiveJob{samples: samples, sampleRate: sampleRate, meta: meta}:
		return true
	default:
		slog.Warn("archive queue full, dropping segment", "samples", len(samples))
		return false
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.queue:
			a.upload(job)
		case <-a.done:
			// Flush what was queued before Close.
			for {
				select {
				case job := <-a.queue:
					a.upload(job)
				default:
					return
				}
			}
		}
	}
}

func (a *Archiver) upload(job archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()
	name, err := a.up.UploadSamples(ctx, job.samples, job.sampleRate, job.meta)
	if err != nil {
		slog.Warn("segment upload failed", "err", err)
		if a.OnError != nil {
			a.OnError(err)
		}
		return
	}
	slog.Debug("segment archived", "filename", name)
	if a.OnUploaded != nil {
		a.OnUploaded(name, job.meta)
	}
}

// Close stops accepting segments, uploads the ones already queued and waits
// for the background goroutine. It is safe to call more than once.
func (a *Archiver) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		a.mu.Unlock()
		close(a.done)
	})
	a.wg.Wait()
}
