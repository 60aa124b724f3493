package coach

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nedlabs/ned/internal/media"
	"github.com/nedlabs/ned/internal/protocol"
	"github.com/nedlabs/ned/internal/session"
)

var (
	ErrNotUpload      = errors.New("session is not an upload session")
	ErrNoVideo        = errors.New("session has no uploaded video")
	ErrAlreadyRunning = errors.New("upload processing already started")
)

// StartUpload validates the session and kicks off asynchronous
// processing of its uploaded video. Progress and the final artifact
// are announced on the session's event stream.
func (o *Orchestrator) StartUpload(sessionID string) error {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return err
	}
	if sess.Mode != session.ModeUpload {
		return ErrNotUpload
	}
	if sess.VideoPath() == "" {
		return ErrNoVideo
	}
	if err := sess.Activate(); err != nil {
		return err
	}
	rt, ok := o.runtimes.get(sessionID)
	if !ok {
		return session.ErrTerminal
	}
	if !rt.uploadStarted.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	go o.runUpload(sess, rt)
	return nil
}

// runUpload splits the video, feeds chunks through the session loop
// one at a time, and muxes the collected audio back over the original.
// A failed chunk still advances progress; only infrastructure failures
// abort the run.
func (o *Orchestrator) runUpload(sess *session.Session, rt *runtime) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		// Stop muxing work when the session is torn down mid-run.
		<-rt.closed()
		cancel()
	}()

	cfg, err := o.configs.Get(sess.ConfigID)
	if err != nil {
		o.abortUpload(sess, rt, fmt.Errorf("load coaching config: %w", err))
		return
	}

	workDir := filepath.Join(o.opts.DataDir, sess.ID)
	chunks, err := o.split.Split(ctx, sess.VideoPath(), cfg.FeedbackFrequency, filepath.Join(workDir, "segments"))
	if errors.Is(err, media.ErrNoSegments) {
		// Shorter than one segment: analyze the whole video as one chunk.
		chunks = []media.Chunk{{Path: sess.VideoPath(), Start: 0}}
		err = nil
	}
	if err != nil {
		o.abortUpload(sess, rt, fmt.Errorf("split video: %w", err))
		return
	}

	total := len(chunks)
	var clips []media.AudioClip
	for i, chunk := range chunks {
		payload, err := os.ReadFile(chunk.Path)
		if err != nil {
			o.abortUpload(sess, rt, fmt.Errorf("read chunk %d: %w", i+1, err))
			return
		}

		job, err := o.SubmitSegment(sess.ID, payload, defaultMimeType)
		if err != nil {
			o.abortUpload(sess, rt, fmt.Errorf("enqueue chunk %d: %w", i+1, err))
			return
		}

		select {
		case <-job.Done():
		case <-ctx.Done():
			return
		}

		text := ""
		if job.Err() == nil {
			var audioB64, format string
			text, audioB64, format = job.Result()
			if audioB64 != "" {
				clipPath, err := o.writeClip(workDir, i, audioB64, format)
				if err != nil {
					o.logger.Printf("session %s: chunk %d clip skipped: %v", sess.ID, i+1, err)
				} else {
					clips = append(clips, media.AudioClip{Path: clipPath, Start: chunk.Start})
				}
			}
		}

		rt.hub.Publish(protocol.Progress{
			Type:    protocol.TypeProgress,
			Segment: i + 1,
			Total:   total,
			Text:    text,
		})
	}

	outputPath := filepath.Join(workDir, "coached_output.mp4")
	if err := o.mux.Overlay(ctx, sess.VideoPath(), clips, outputPath); err != nil {
		o.abortUpload(sess, rt, fmt.Errorf("assemble output: %w", err))
		return
	}

	sess.SetOutputPath(outputPath)
	if err := sess.Complete(); err != nil {
		return
	}
	rt.hub.Publish(protocol.Completed{
		Type:        protocol.TypeCompleted,
		DownloadURL: "/v1/sessions/" + sess.ID + "/download",
	})
	o.metrics.SessionEvents.WithLabelValues("completed").Inc()
	o.logger.Printf("session %s completed: %d segments, %d voiced", sess.ID, total, len(clips))
	o.teardown(sess.ID)
}

func (o *Orchestrator) abortUpload(sess *session.Session, rt *runtime, err error) {
	o.logger.Printf("session %s: upload processing aborted: %v", sess.ID, err)
	rt.hub.Publish(protocol.Error{Type: protocol.TypeError, Message: err.Error()})
	sess.Close()
	o.teardown(sess.ID)
}

func (o *Orchestrator) writeClip(workDir string, index int, audioB64, format string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(audioB64)
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	if format == "" {
		format = "wav"
	}
	dir := filepath.Join(workDir, "clips")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("feedback_%03d.%s", index, format))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
