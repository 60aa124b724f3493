package coach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nedlabs/ned/internal/analysis"
	"github.com/nedlabs/ned/internal/archive"
	"github.com/nedlabs/ned/internal/coaching"
	"github.com/nedlabs/ned/internal/media"
	"github.com/nedlabs/ned/internal/observability"
	"github.com/nedlabs/ned/internal/protocol"
	"github.com/nedlabs/ned/internal/segment"
	"github.com/nedlabs/ned/internal/session"
	"github.com/nedlabs/ned/internal/speech"
)

// Prometheus collectors register globally, so tests share one set.
var testMetrics = observability.NewMetrics("coachtest")

type stubAnalyzer struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, req analysis.Request) (analysis.Result, error)
}

func (a *stubAnalyzer) Analyze(_ context.Context, req analysis.Request) (analysis.Result, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	fn := a.fn
	a.mu.Unlock()
	return fn(call, req)
}

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type stubSynthesizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubSynthesizer) Name() string { return "stub" }

func (s *stubSynthesizer) Synthesize(_ context.Context, req speech.Request) (speech.AudioRef, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return speech.AudioRef{}, s.err
	}
	return speech.AudioRef{
		AudioBase64: base64.StdEncoding.EncodeToString([]byte(req.Text)),
		Format:      "wav",
		Provider:    "stub",
	}, nil
}

func (s *stubSynthesizer) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeSplitter struct{ chunks int }

func (f *fakeSplitter) Split(_ context.Context, _ string, segSeconds float64, outDir string) ([]media.Chunk, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	chunks := make([]media.Chunk, 0, f.chunks)
	for i := 0; i < f.chunks; i++ {
		path := filepath.Join(outDir, fmt.Sprintf("segment_%03d.mp4", i))
		if err := os.WriteFile(path, []byte(fmt.Sprintf("chunk-%d", i)), 0o644); err != nil {
			return nil, err
		}
		chunks = append(chunks, media.Chunk{Path: path, Start: float64(i) * segSeconds, Duration: segSeconds})
	}
	return chunks, nil
}

type fakeMuxer struct {
	mu    sync.Mutex
	calls int
	clips []media.AudioClip
}

func (f *fakeMuxer) Overlay(_ context.Context, _ string, clips []media.AudioClip, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.clips = clips
	return os.WriteFile(outputPath, []byte("muxed"), 0o644)
}

func writeTestConfig(t *testing.T) *coaching.Store {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sports"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg := `{
		"activity": "basketball shooting",
		"coach": "a supportive coach",
		"skill_level": "beginner",
		"feedback_frequency": 10,
		"fps": 1,
		"max_response_length": 20,
		"language": "en"
	}`
	if err := os.WriteFile(filepath.Join(dir, "sports", "basketball.json"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	store, err := coaching.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func newTestOrchestrator(t *testing.T, analyzer analysis.Analyzer, voice speech.Synthesizer, split media.Segmenter, mux media.Muxer) *Orchestrator {
	t.Helper()
	if voice == nil {
		voice = &stubSynthesizer{}
	}
	o := New(
		session.NewRegistry(time.Minute, 5),
		writeTestConfig(t),
		analyzer,
		voice,
		split,
		mux,
		archive.NewInMemoryStore(),
		testMetrics,
		Options{
			AnalysisTimeout:     time.Second,
			AnalysisMaxAttempts: 3,
			AnalysisBackoffBase: time.Millisecond,
			AnalysisBackoffCap:  4 * time.Millisecond,
			SpeechTimeout:       time.Second,
			DataDir:             t.TempDir(),
		},
	)
	t.Cleanup(o.Shutdown)
	return o
}

func nextEvent(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed before expected event")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(call int, _ analysis.Request) (analysis.Result, error) {
		if call <= 2 {
			return analysis.Result{}, &analysis.Error{Code: "timeout", Transient: true}
		}
		return analysis.Result{Feedback: "bend your knees", Classification: analysis.ClassificationMatch}, nil
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	sess, err := o.CreateSession(session.ModeLive, "basketball", "", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	events, cancel, err := o.Subscribe(sess.ID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if _, err := o.SubmitSegment(sess.ID, []byte("frame"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}

	ev := nextEvent(t, events)
	fb, ok := ev.(protocol.Feedback)
	if !ok {
		t.Fatalf("event = %T %v, want Feedback", ev, ev)
	}
	if fb.Text != "bend your knees" {
		t.Fatalf("feedback text = %q", fb.Text)
	}
	if fb.AudioBase64 == "" {
		t.Fatalf("expected synthesized audio on matched feedback")
	}
	if got := analyzer.callCount(); got != 3 {
		t.Fatalf("analyzer calls = %d, want 3", got)
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{}, &analysis.Error{Code: "bad_request", Transient: false}
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	events, cancel, _ := o.Subscribe(sess.ID)
	defer cancel()

	job, err := o.SubmitSegment(sess.ID, []byte("frame"), "")
	if err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}

	ev := nextEvent(t, events)
	if _, ok := ev.(protocol.Error); !ok {
		t.Fatalf("event = %T, want Error", ev)
	}
	<-job.Done()
	if job.Err() == nil {
		t.Fatalf("job should carry the analysis failure")
	}
	if got := analyzer.callCount(); got != 1 {
		t.Fatalf("analyzer calls = %d, want 1 (no retry on permanent)", got)
	}
	if sess.Status() != session.StatusActive {
		t.Fatalf("session status = %s, want active after a failed segment", sess.Status())
	}
}

func TestTransientFailuresExhaustAttemptCap(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{}, &analysis.Error{Code: "overloaded", Transient: true}
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	events, cancel, _ := o.Subscribe(sess.ID)
	defer cancel()

	if _, err := o.SubmitSegment(sess.ID, []byte("frame"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}

	ev := nextEvent(t, events)
	if _, ok := ev.(protocol.Error); !ok {
		t.Fatalf("event = %T, want exactly one Error after exhausted retries", ev)
	}
	if got := analyzer.callCount(); got != 3 {
		t.Fatalf("analyzer calls = %d, want 3", got)
	}

	// The session survives the failure and processes the next segment.
	analyzer.mu.Lock()
	analyzer.fn = func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{Feedback: "nice recovery", Classification: analysis.ClassificationMatch}, nil
	}
	analyzer.mu.Unlock()

	if _, err := o.SubmitSegment(sess.ID, []byte("frame2"), ""); err != nil {
		t.Fatalf("SubmitSegment() after failure error = %v", err)
	}
	if fb, ok := nextEvent(t, events).(protocol.Feedback); !ok || fb.Text != "nice recovery" {
		t.Fatalf("expected feedback after recovery, got %v", fb)
	}
}

func TestWrongActivitySkipsSynthesis(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{
			Feedback:       "I can see you, but this doesn't look like basketball shooting.",
			Classification: analysis.ClassificationWrongActivity,
		}, nil
	}}
	voice := &stubSynthesizer{}
	o := newTestOrchestrator(t, analyzer, voice, nil, nil)

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	events, cancel, _ := o.Subscribe(sess.ID)
	defer cancel()

	if _, err := o.SubmitSegment(sess.ID, []byte("frame"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}

	fb, ok := nextEvent(t, events).(protocol.Feedback)
	if !ok {
		t.Fatalf("want Feedback event for soft classification")
	}
	if fb.AudioBase64 != "" {
		t.Fatalf("soft classification must not carry audio")
	}
	if voice.callCount() != 0 {
		t.Fatalf("synthesizer calls = %d, want 0", voice.callCount())
	}
}

func TestSynthesisFailureDegradesToTextOnly(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{Feedback: "follow through", Classification: analysis.ClassificationMatch}, nil
	}}
	voice := &stubSynthesizer{err: speech.ErrUnavailable}
	o := newTestOrchestrator(t, analyzer, voice, nil, nil)

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	events, cancel, _ := o.Subscribe(sess.ID)
	defer cancel()

	if _, err := o.SubmitSegment(sess.ID, []byte("frame"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}

	fb, ok := nextEvent(t, events).(protocol.Feedback)
	if !ok {
		t.Fatalf("want Feedback even when synthesis fails")
	}
	if fb.Text != "follow through" || fb.AudioBase64 != "" {
		t.Fatalf("feedback = %+v, want text-only", fb)
	}
}

func TestSubmitRejectionsAreTyped(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{Feedback: "ok", Classification: analysis.ClassificationMatch}, nil
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	if _, err := o.SubmitSegment("missing", []byte("x"), ""); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("unknown session error = %v, want ErrNotFound", err)
	}

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	if err := o.CloseSession(sess.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if _, err := o.SubmitSegment(sess.ID, []byte("x"), ""); !errors.Is(err, session.ErrTerminal) {
		t.Fatalf("closed session error = %v, want ErrTerminal", err)
	}
	// Closing again is a no-op.
	if err := o.CloseSession(sess.ID); err != nil {
		t.Fatalf("second CloseSession() error = %v", err)
	}
}

func TestCreateSessionUnknownConfig(t *testing.T) {
	o := newTestOrchestrator(t, &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		return analysis.Result{}, nil
	}}, nil, nil, nil)

	if _, err := o.CreateSession(session.ModeLive, "curling", "", ""); !errors.Is(err, coaching.ErrNotFound) {
		t.Fatalf("error = %v, want coaching.ErrNotFound", err)
	}
}

func TestUploadPipelineEmitsOrderedProgressThenCompleted(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(call int, _ analysis.Request) (analysis.Result, error) {
		return analysis.Result{
			Feedback:       fmt.Sprintf("tip %d", call),
			Classification: analysis.ClassificationMatch,
		}, nil
	}}
	mux := &fakeMuxer{}
	o := newTestOrchestrator(t, analyzer, nil, &fakeSplitter{chunks: 3}, mux)

	sess, err := o.CreateSession(session.ModeUpload, "basketball", "", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	video := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	sess.SetVideoPath(video)

	events, cancel, err := o.Subscribe(sess.ID)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := o.StartUpload(sess.ID); err != nil {
		t.Fatalf("StartUpload() error = %v", err)
	}
	if err := o.StartUpload(sess.ID); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second StartUpload() error = %v, want ErrAlreadyRunning", err)
	}

	var progress []protocol.Progress
	var completed *protocol.Completed
	for completed == nil {
		switch ev := nextEvent(t, events).(type) {
		case protocol.Progress:
			progress = append(progress, ev)
		case protocol.Completed:
			c := ev
			completed = &c
		case protocol.Feedback:
			// Interleaved per-segment feedback is expected.
		case protocol.Error:
			t.Fatalf("unexpected error event: %v", ev)
		}
	}

	if len(progress) != 3 {
		t.Fatalf("progress events = %d, want 3", len(progress))
	}
	for i, p := range progress {
		if p.Segment != i+1 || p.Total != 3 {
			t.Fatalf("progress[%d] = %d/%d, want %d/3", i, p.Segment, p.Total, i+1)
		}
	}
	if completed.DownloadURL != "/v1/sessions/"+sess.ID+"/download" {
		t.Fatalf("download url = %q", completed.DownloadURL)
	}

	if sess.Status() != session.StatusCompleted {
		t.Fatalf("session status = %s, want completed", sess.Status())
	}
	if sess.OutputPath() == "" {
		t.Fatalf("output path not recorded")
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if mux.calls != 1 {
		t.Fatalf("muxer calls = %d, want 1", mux.calls)
	}
	if len(mux.clips) != 3 {
		t.Fatalf("muxed clips = %d, want 3", len(mux.clips))
	}

	// Closing a completed session keeps the completed status.
	if err := o.CloseSession(sess.ID); err != nil {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if sess.Status() != session.StatusCompleted {
		t.Fatalf("status after close = %s, want completed", sess.Status())
	}
}

func TestUploadChunkFailureStillAdvancesProgress(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(call int, _ analysis.Request) (analysis.Result, error) {
		if call == 2 {
			return analysis.Result{}, &analysis.Error{Code: "bad_frame", Transient: false}
		}
		return analysis.Result{Feedback: "keep going", Classification: analysis.ClassificationMatch}, nil
	}}
	mux := &fakeMuxer{}
	o := newTestOrchestrator(t, analyzer, nil, &fakeSplitter{chunks: 2}, mux)

	sess, _ := o.CreateSession(session.ModeUpload, "basketball", "", "")
	video := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(video, []byte("video"), 0o644); err != nil {
		t.Fatal(err)
	}
	sess.SetVideoPath(video)

	events, cancel, _ := o.Subscribe(sess.ID)
	defer cancel()

	if err := o.StartUpload(sess.ID); err != nil {
		t.Fatalf("StartUpload() error = %v", err)
	}

	var progress []protocol.Progress
	sawError := false
	done := false
	for !done {
		switch ev := nextEvent(t, events).(type) {
		case protocol.Progress:
			progress = append(progress, ev)
		case protocol.Error:
			sawError = true
		case protocol.Completed:
			done = true
		}
	}

	if len(progress) != 2 {
		t.Fatalf("progress events = %d, want 2 (failed chunk still counts)", len(progress))
	}
	if !sawError {
		t.Fatalf("expected an error event for the failed chunk")
	}
	mux.mu.Lock()
	defer mux.mu.Unlock()
	if len(mux.clips) != 1 {
		t.Fatalf("muxed clips = %d, want 1 (only the successful chunk)", len(mux.clips))
	}
}

func TestAnalysisIsSingleFlightPerSession(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	analyzer := &stubAnalyzer{fn: func(int, analysis.Request) (analysis.Result, error) {
		cur := inFlight.Add(1)
		for {
			peak := maxInFlight.Load()
			if cur <= peak || maxInFlight.CompareAndSwap(peak, cur) {
				break
			}
		}
		// Hold the slot long enough for overlapping submits to pile up.
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return analysis.Result{Feedback: "steady", Classification: analysis.ClassificationMatch}, nil
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	sess, err := o.CreateSession(session.ModeLive, "basketball", "", "")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	var mu sync.Mutex
	var accepted []*segment.Job
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				job, err := o.SubmitSegment(sess.ID, []byte("frame"), "")
				if err != nil {
					t.Errorf("SubmitSegment() error = %v", err)
					return
				}
				mu.Lock()
				accepted = append(accepted, job)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Every accepted job terminates: processed, or superseded by a
	// newer live segment. Waiting on all of them drains the loop.
	for _, job := range accepted {
		select {
		case <-job.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("job seq %d never reached a terminal status", job.Seq)
		}
	}

	if got := maxInFlight.Load(); got != 1 {
		t.Fatalf("max concurrent analyses = %d, want 1", got)
	}
	if analyzer.callCount() == 0 {
		t.Fatalf("analyzer was never invoked")
	}
}

func TestSubscribeSeesOnlyFutureEvents(t *testing.T) {
	analyzer := &stubAnalyzer{fn: func(call int, _ analysis.Request) (analysis.Result, error) {
		return analysis.Result{Feedback: fmt.Sprintf("tip %d", call), Classification: analysis.ClassificationMatch}, nil
	}}
	o := newTestOrchestrator(t, analyzer, nil, nil, nil)

	sess, _ := o.CreateSession(session.ModeLive, "basketball", "", "")
	first, cancelFirst, _ := o.Subscribe(sess.ID)

	if _, err := o.SubmitSegment(sess.ID, []byte("frame"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}
	if _, ok := nextEvent(t, first).(protocol.Feedback); !ok {
		t.Fatalf("first subscriber missed its event")
	}
	cancelFirst()

	// A reconnecting subscriber must not see the earlier feedback.
	second, cancelSecond, err := o.Subscribe(sess.ID)
	if err != nil {
		t.Fatalf("resubscribe error = %v", err)
	}
	defer cancelSecond()

	select {
	case ev := <-second:
		t.Fatalf("replayed event to new subscriber: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := o.SubmitSegment(sess.ID, []byte("frame2"), ""); err != nil {
		t.Fatalf("SubmitSegment() error = %v", err)
	}
	if fb, ok := nextEvent(t, second).(protocol.Feedback); !ok || fb.Text != "tip 2" {
		t.Fatalf("second subscriber event = %v, want tip 2", fb)
	}
}
