package coach

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nedlabs/ned/internal/analysis"
	"github.com/nedlabs/ned/internal/archive"
	"github.com/nedlabs/ned/internal/coaching"
	"github.com/nedlabs/ned/internal/media"
	"github.com/nedlabs/ned/internal/observability"
	"github.com/nedlabs/ned/internal/protocol"
	"github.com/nedlabs/ned/internal/reliability"
	"github.com/nedlabs/ned/internal/segment"
	"github.com/nedlabs/ned/internal/session"
	"github.com/nedlabs/ned/internal/speech"
)

const (
	defaultMimeType    = "video/mp4"
	uploadQueueSlots   = 64
	defaultMaxAttempts = 3
)

// Options carries orchestrator tuning. Zero values fall back to safe
// defaults.
type Options struct {
	AnalysisTimeout     time.Duration
	AnalysisMaxAttempts int
	AnalysisBackoffBase time.Duration
	AnalysisBackoffCap  time.Duration
	SpeechTimeout       time.Duration
	DefaultVoiceStyle   string
	DataDir             string
	Logger              *log.Logger
}

// Orchestrator owns the lifecycle of coaching sessions: it accepts
// segments, drives exactly one analysis at a time per session, and
// publishes ordered events to subscribers.
type Orchestrator struct {
	opts     Options
	registry *session.Registry
	configs  *coaching.Store
	analyzer analysis.Analyzer
	voice    speech.Synthesizer
	split    media.Segmenter
	mux      media.Muxer
	store    archive.Store
	metrics  *observability.Metrics
	logger   *log.Logger

	runtimes *runtimeSet
}

func New(
	registry *session.Registry,
	configs *coaching.Store,
	analyzer analysis.Analyzer,
	voice speech.Synthesizer,
	split media.Segmenter,
	mux media.Muxer,
	store archive.Store,
	metrics *observability.Metrics,
	opts Options,
) *Orchestrator {
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = 30 * time.Second
	}
	if opts.AnalysisMaxAttempts <= 0 {
		opts.AnalysisMaxAttempts = defaultMaxAttempts
	}
	if opts.AnalysisBackoffBase <= 0 {
		opts.AnalysisBackoffBase = 500 * time.Millisecond
	}
	if opts.AnalysisBackoffCap <= 0 {
		opts.AnalysisBackoffCap = 5 * time.Second
	}
	if opts.SpeechTimeout <= 0 {
		opts.SpeechTimeout = 20 * time.Second
	}
	if opts.DataDir == "" {
		opts.DataDir = "data"
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	o := &Orchestrator{
		opts:     opts,
		registry: registry,
		configs:  configs,
		analyzer: analyzer,
		voice:    voice,
		split:    split,
		mux:      mux,
		store:    store,
		metrics:  metrics,
		logger:   opts.Logger,
		runtimes: newRuntimeSet(),
	}
	registry.SetExpireHook(func(s *session.Session) {
		o.logger.Printf("session %s expired after inactivity", s.ID)
		o.metrics.SessionEvents.WithLabelValues("expired").Inc()
		o.teardown(s.ID)
	})
	return o
}

// CreateSession registers a new session against a coaching config and
// starts its processing loop.
func (o *Orchestrator) CreateSession(mode session.Mode, configID, voiceProvider, voiceStyle string) (*session.Session, error) {
	cfg, err := o.configs.Get(configID)
	if err != nil {
		return nil, err
	}
	// Style precedence: explicit request, then the coaching config,
	// then the server-wide default. Providers pick their own voice
	// when all three are empty.
	if voiceStyle == "" {
		voiceStyle = cfg.VoiceStyle
	}
	if voiceStyle == "" {
		voiceStyle = o.opts.DefaultVoiceStyle
	}

	sess := o.registry.Create(mode, configID, voiceProvider, voiceStyle)

	policy := segment.Coalesce
	capacity := 1
	if mode == session.ModeUpload {
		policy = segment.FIFO
		capacity = uploadQueueSlots
	}

	ctx, cancel := context.WithCancel(context.Background())
	rt := &runtime{
		queue:  segment.NewQueue(policy, capacity),
		hub:    NewHub(o.metrics.ChannelDrops.Inc),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	o.runtimes.put(sess.ID, rt)

	go o.loop(ctx, sess, rt)

	o.metrics.ActiveSessions.Inc()
	o.metrics.SessionEvents.WithLabelValues("created").Inc()
	o.logger.Printf("session %s created mode=%s config=%s", sess.ID, mode, configID)
	return sess, nil
}

// Session resolves a session by id.
func (o *Orchestrator) Session(id string) (*session.Session, error) {
	return o.registry.Get(id)
}

// Configs exposes the coaching config store for listing endpoints.
func (o *Orchestrator) Configs() *coaching.Store { return o.configs }

// Subscribe attaches to a session's event stream. Events published
// before the subscription are not replayed.
func (o *Orchestrator) Subscribe(sessionID string) (<-chan any, func(), error) {
	if _, err := o.registry.Get(sessionID); err != nil {
		return nil, nil, err
	}
	rt, ok := o.runtimes.get(sessionID)
	if !ok {
		return nil, nil, session.ErrTerminal
	}
	ch, cancel := rt.hub.Subscribe()
	return ch, cancel, nil
}

// SubmitSegment enqueues one media segment for analysis. Rejections
// are typed: session.ErrNotFound, session.ErrTerminal, segment.ErrFull.
func (o *Orchestrator) SubmitSegment(sessionID string, payload []byte, mimeType string) (*segment.Job, error) {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := sess.Activate(); err != nil {
		return nil, err
	}
	rt, ok := o.runtimes.get(sessionID)
	if !ok {
		return nil, session.ErrTerminal
	}

	if mimeType == "" {
		mimeType = defaultMimeType
	}
	job := segment.NewJob(sessionID, sess.NextSeq(), payload, mimeType)
	if err := rt.queue.Offer(job); err != nil {
		if errors.Is(err, segment.ErrClosed) {
			return nil, session.ErrTerminal
		}
		return nil, err
	}
	sess.Touch()
	o.metrics.SessionEvents.WithLabelValues("segment_accepted").Inc()
	return job, nil
}

// CloseSession ends a session. Idempotent; a completed session keeps
// its completed status and its artifacts stay downloadable.
func (o *Orchestrator) CloseSession(sessionID string) error {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}
	sess.Close()
	o.teardown(sessionID)
	o.metrics.SessionEvents.WithLabelValues("closed").Inc()
	return nil
}

// RemoveSession closes a session and drops it from the registry.
func (o *Orchestrator) RemoveSession(sessionID string) error {
	if err := o.CloseSession(sessionID); err != nil {
		return err
	}
	o.registry.Remove(sessionID)
	return nil
}

// Shutdown tears down every session runtime.
func (o *Orchestrator) Shutdown() {
	for _, id := range o.runtimes.ids() {
		if sess, err := o.registry.Get(id); err == nil {
			sess.Close()
		}
		o.teardown(id)
	}
}

func (o *Orchestrator) teardown(sessionID string) {
	rt, ok := o.runtimes.remove(sessionID)
	if !ok {
		return
	}
	rt.markDone()
	rt.cancel()
	rt.queue.Close()
	rt.hub.Close()
	o.metrics.ActiveSessions.Dec()
}

// loop is the per-session single-flight worker. Pulling one job at a
// time is what keeps events in segment order without any reordering
// machinery downstream.
func (o *Orchestrator) loop(ctx context.Context, sess *session.Session, rt *runtime) {
	for {
		job, err := rt.queue.Next(ctx)
		if err != nil {
			return
		}
		if !job.MarkInFlight() {
			continue
		}
		o.process(ctx, sess, rt, job)
	}
}

func (o *Orchestrator) process(ctx context.Context, sess *session.Session, rt *runtime, job *segment.Job) {
	started := time.Now()
	defer func() {
		o.metrics.ObserveSegmentLatency(time.Since(started))
	}()

	cfg, err := o.configs.Get(sess.ConfigID)
	if err != nil {
		o.failJob(rt, job, fmt.Errorf("load coaching config: %w", err))
		return
	}

	result, err := o.analyzeWithRetry(ctx, analysis.Request{
		Media:    job.Media,
		MimeType: job.MimeType,
		Prompt:   coaching.RenderPrompt(cfg, sess.History()),
		Constraints: analysis.Constraints{
			MaxWords: cfg.MaxResponseLength,
			Language: cfg.Language,
			FPS:      cfg.FPS,
		},
	})
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("analysis", errCode(err)).Inc()
		o.failJob(rt, job, err)
		return
	}

	var audio speech.AudioRef
	if result.Classification == analysis.ClassificationMatch {
		audio = o.synthesize(ctx, sess, result.Feedback)
	}

	rt.hub.Publish(protocol.Feedback{
		Type:        protocol.TypeFeedback,
		Text:        result.Feedback,
		AudioBase64: audio.AudioBase64,
		AudioFormat: audio.Format,
		Timestamp:   time.Now().UnixMilli(),
	})
	sess.AppendHistory(result.Feedback)
	sess.Touch()

	if err := o.store.Save(ctx, archive.Record{
		SessionID:      sess.ID,
		Seq:            job.Seq,
		Mode:           string(sess.Mode),
		ConfigID:       sess.ConfigID,
		Classification: string(result.Classification),
		Text:           result.Feedback,
	}); err != nil {
		o.logger.Printf("session %s: archive save failed: %v", sess.ID, err)
	}

	job.Finish(result.Feedback, audio.AudioBase64, audio.Format)
	o.metrics.SessionEvents.WithLabelValues("feedback").Inc()
}

// analyzeWithRetry retries transient failures with capped exponential
// backoff. Permanent failures and exhausted attempts surface as-is;
// the session stays usable either way.
func (o *Orchestrator) analyzeWithRetry(ctx context.Context, req analysis.Request) (analysis.Result, error) {
	var lastErr error
	for attempt := 0; attempt < o.opts.AnalysisMaxAttempts; attempt++ {
		if attempt > 0 {
			o.metrics.AnalysisRetries.Inc()
			if err := reliability.Wait(ctx, reliability.ExponentialBackoff(attempt-1, o.opts.AnalysisBackoffBase, o.opts.AnalysisBackoffCap)); err != nil {
				return analysis.Result{}, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, o.opts.AnalysisTimeout)
		result, err := o.analyzer.Analyze(callCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return analysis.Result{}, ctx.Err()
		}
		if !analysis.IsTransient(err) {
			break
		}
	}
	return analysis.Result{}, lastErr
}

// synthesize converts feedback to audio, degrading to text-only when
// every provider fails.
func (o *Orchestrator) synthesize(ctx context.Context, sess *session.Session, text string) speech.AudioRef {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.SpeechTimeout)
	defer cancel()

	audio, err := o.voice.Synthesize(callCtx, speech.Request{
		Text:     text,
		Provider: sess.VoiceProvider,
		Style:    sess.VoiceStyle,
	})
	if err != nil {
		o.metrics.ProviderErrors.WithLabelValues("speech", errCode(err)).Inc()
		o.logger.Printf("session %s: synthesis degraded to text-only: %v", sess.ID, err)
		return speech.AudioRef{}
	}
	return audio
}

func (o *Orchestrator) failJob(rt *runtime, job *segment.Job, err error) {
	rt.hub.Publish(protocol.Error{Type: protocol.TypeError, Message: err.Error()})
	job.Fail(err)
	o.metrics.SessionEvents.WithLabelValues("segment_failed").Inc()
}

func errCode(err error) string {
	var aerr *analysis.Error
	if errors.As(err, &aerr) {
		return aerr.Code
	}
	if errors.Is(err, speech.ErrUnavailable) {
		return "unavailable"
	}
	return "internal"
}
