package export

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// Kind names what a job does.
type Kind string

const (
	KindExport Kind = "export"
	KindSend   Kind = "send"
)

// RunFunc is the body of a job. It must honour ctx and report progress.
type RunFunc func(ctx context.Context, onProgress func(Progress)) (*Result, error)

// Listener is told about every job's progress and completion. Calls are
// made from the job's goroutine.
type Listener interface {
	JobProgress(status Status)
	JobDone(status Status)
}

// Status is a point-in-time view of a job, safe to serialize.
type Status struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	TemplateID string    `json:"templateId"`
	State      State     `json:"state"`
	Progress   Progress  `json:"progress"`
	Result     *Result   `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	HasArchive bool      `json:"hasArchive"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Job is one background run of an exporter or sender.
type Job struct {
	id         string
	kind       Kind
	owner      string
	templateID string
	createdAt  time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	mu       sync.Mutex
	state    State
	progress Progress
	result   *Result
	err      error
}

func (j *Job) ID() string { return j.id }

// Owner is the user that started the job.
func (j *Job) Owner() string { return j.owner }

// Done is closed once the job reaches a terminal state.
func (j *Job) Done() <-chan struct{} { return j.done }

// Status returns a snapshot of the job.
func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	st := Status{
		ID:         j.id,
		Kind:       j.kind,
		TemplateID: j.templateID,
		State:      j.state,
		Progress:   j.progress,
		CreatedAt:  j.createdAt,
	}
	if j.result != nil {
		r := *j.result
		st.Result = &r
		st.HasArchive = len(r.Archive) > 0
	}
	if j.err != nil {
		st.Error = j.err.Error()
	}
	return st
}

// Archive returns the packaged output of a finished export job.
func (j *Job) Archive() ([]byte, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result == nil || len(j.result.Archive) == 0 {
		return nil, false
	}
	return j.result.Archive, true
}

// DefaultRetention is how long a finished job and its archive stay
// available for status and download.
const DefaultRetention = 30 * time.Minute

// Jobs tracks running and finished jobs by ID. Finished jobs are dropped
// RetainFor after they end.
type Jobs struct {
	RetainFor time.Duration

	mu        sync.RWMutex
	jobs      map[string]*Job
	listeners []Listener
	wg        sync.WaitGroup
}

func NewJobs() *Jobs {
	return &Jobs{
		RetainFor: DefaultRetention,
		jobs:      make(map[string]*Job),
	}
}

// Subscribe registers l for all future events.
func (js *Jobs) Subscribe(l Listener) {
	js.mu.Lock()
	defer js.mu.Unlock()
	js.listeners = append(js.listeners, l)
}

// Start runs fn in the background under a fresh cancellable context.
func (js *Jobs) Start(kind Kind, owner, templateID string, fn RunFunc) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		id:         ulid.Make().String(),
		kind:       kind,
		owner:      owner,
		templateID: templateID,
		createdAt:  time.Now(),
		cancel:     cancel,
		done:       make(chan struct{}),
		state:      Running,
	}

	js.mu.Lock()
	js.jobs[job.id] = job
	js.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"job_id":      job.id,
		"kind":        kind,
		"user_id":     owner,
		"template_id": templateID,
	})
	log.Info("Job started")

	js.wg.Add(1)
	go func() {
		defer js.wg.Done()
		defer cancel()
		defer close(job.done)

		result, err := fn(ctx, func(p Progress) {
			job.mu.Lock()
			if p.Done >= job.progress.Done {
				job.progress = p
			}
			job.mu.Unlock()
			js.notify(func(l Listener) { l.JobProgress(job.Status()) })
		})

		job.mu.Lock()
		job.result, job.err = result, err
		switch {
		case result != nil:
			job.state = result.State
		case err != nil:
			job.state = Failed
		default:
			job.state = Completed
		}
		state := job.state
		job.mu.Unlock()

		if err != nil {
			log.WithError(err).Error("Job failed")
		} else {
			log.WithField("state", state).Info("Job finished")
		}
		js.notify(func(l Listener) { l.JobDone(job.Status()) })
		js.expire(job)
	}()
	return job
}

func (js *Jobs) expire(job *Job) {
	retain := js.RetainFor
	if retain <= 0 {
		retain = DefaultRetention
	}
	time.AfterFunc(retain, func() {
		js.mu.Lock()
		defer js.mu.Unlock()
		if js.jobs[job.id] == job {
			delete(js.jobs, job.id)
			logrus.WithField("job_id", job.id).Debug("Finished job expired")
		}
	})
}

func (js *Jobs) notify(fn func(Listener)) {
	js.mu.RLock()
	listeners := append([]Listener(nil), js.listeners...)
	js.mu.RUnlock()
	for _, l := range listeners {
		fn(l)
	}
}

// Get looks a job up by ID.
func (js *Jobs) Get(id string) (*Job, bool) {
	js.mu.RLock()
	defer js.mu.RUnlock()
	job, ok := js.jobs[id]
	return job, ok
}

// Cancel asks a running job to stop before its next guest.
func (js *Jobs) Cancel(id string) bool {
	job, ok := js.Get(id)
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// Forget cancels a job if needed and drops it with its archive.
func (js *Jobs) Forget(id string) bool {
	js.mu.Lock()
	job, ok := js.jobs[id]
	delete(js.jobs, id)
	js.mu.Unlock()
	if ok {
		job.cancel()
	}
	return ok
}

// Shutdown cancels every job and waits for them to stop or ctx to expire.
func (js *Jobs) Shutdown(ctx context.Context) error {
	js.mu.RLock()
	for _, job := range js.jobs {
		job.cancel()
	}
	js.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		js.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
