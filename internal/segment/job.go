package segment

import (
	"errors"
	"sync"
	"time"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusInFlight Status = "in-flight"
	StatusDone     Status = "done"
	StatusFailed   Status = "failed"
)

// ErrSuperseded marks a live-mode job replaced by a newer segment
// before it was dequeued.
var ErrSuperseded = errors.New("segment superseded by a newer one")

// Job is one unit of analysis work for a session. Created when a
// segment arrives, terminal after its event is emitted or retries are
// exhausted.
type Job struct {
	SessionID  string
	Seq        uint64
	Media      []byte
	MimeType   string
	EnqueuedAt time.Time

	mu          sync.Mutex
	status      Status
	text        string
	audioBase64 string
	audioFormat string
	err         error
	done        chan struct{}
}

func NewJob(sessionID string, seq uint64, media []byte, mimeType string) *Job {
	return &Job{
		SessionID:  sessionID,
		Seq:        seq,
		Media:      media,
		MimeType:   mimeType,
		EnqueuedAt: time.Now().UTC(),
		status:     StatusQueued,
		done:       make(chan struct{}),
	}
}

func (j *Job) Status() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// MarkInFlight transitions queued → in-flight. Returns false if the
// job already left the queued state.
func (j *Job) MarkInFlight() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != StatusQueued {
		return false
	}
	j.status = StatusInFlight
	return true
}

// Finish records a successful result and closes Done.
func (j *Job) Finish(text, audioBase64, audioFormat string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminalLocked() {
		return
	}
	j.status = StatusDone
	j.text = text
	j.audioBase64 = audioBase64
	j.audioFormat = audioFormat
	close(j.done)
}

// Fail records a terminal failure and closes Done.
func (j *Job) Fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.terminalLocked() {
		return
	}
	j.status = StatusFailed
	j.err = err
	close(j.done)
}

func (j *Job) terminalLocked() bool {
	return j.status == StatusDone || j.status == StatusFailed
}

// Done is closed once the job reaches a terminal status.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the recorded feedback once the job is done.
func (j *Job) Result() (text, audioBase64, audioFormat string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.text, j.audioBase64, j.audioFormat
}

func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}
