package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// Chunk is one fixed-duration piece of a split video, in order.
type Chunk struct {
	Path     string
	Start    float64
	Duration float64
}

// AudioClip is a synthesized feedback clip aligned to a video offset.
type AudioClip struct {
	Path  string
	Start float64
}

// Segmenter splits a finite video artifact into ordered chunks.
type Segmenter interface {
	Split(ctx context.Context, inputPath string, segmentSeconds float64, outDir string) ([]Chunk, error)
}

// Muxer assembles the coached output artifact from the original video
// and time-aligned audio clips.
type Muxer interface {
	Overlay(ctx context.Context, inputPath string, clips []AudioClip, outputPath string) error
}

var ErrNoSegments = errors.New("video shorter than one segment")

// FFmpeg drives ffmpeg/ffprobe subprocesses.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	if strings.TrimSpace(ffmpegPath) == "" {
		ffmpegPath = "ffmpeg"
	}
	if strings.TrimSpace(ffprobePath) == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpeg{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

// Duration probes the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, inputPath string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe video: %w", err)
	}
	return parseProbeDuration(out)
}

func parseProbeDuration(out []byte) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse probe output: %w", err)
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

type segmentPlan struct {
	start    float64
	duration float64
}

// planSegments cuts total into fixed-duration segments; the last
// segment absorbs any remainder so no tail is dropped.
func planSegments(total, segmentSeconds float64) []segmentPlan {
	if segmentSeconds <= 0 || total < segmentSeconds {
		return nil
	}
	n := int(total / segmentSeconds)
	remainder := total - float64(n)*segmentSeconds

	plans := make([]segmentPlan, n)
	for i := 0; i < n; i++ {
		plans[i] = segmentPlan{
			start:    float64(i) * segmentSeconds,
			duration: segmentSeconds,
		}
	}
	plans[n-1].duration += remainder
	return plans
}

// Split cuts inputPath into ordered chunks under outDir without
// re-encoding.
func (f *FFmpeg) Split(ctx context.Context, inputPath string, segmentSeconds float64, outDir string) ([]Chunk, error) {
	total, err := f.Duration(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	plans := planSegments(total, segmentSeconds)
	if len(plans) == 0 {
		return nil, ErrNoSegments
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir: %w", err)
	}

	chunks := make([]Chunk, 0, len(plans))
	for i, plan := range plans {
		outPath := filepath.Join(outDir, fmt.Sprintf("segment_%03d.mp4", i))
		cmd := exec.CommandContext(ctx, f.FFmpegPath,
			"-y",
			"-i", inputPath,
			"-ss", formatSeconds(plan.start),
			"-t", formatSeconds(plan.duration),
			"-c", "copy",
			outPath,
		)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, fmt.Errorf("split segment %d: %w: %s", i, err, tail(out))
		}
		chunks = append(chunks, Chunk{Path: outPath, Start: plan.start, Duration: plan.duration})
	}
	return chunks, nil
}

// Overlay mixes clips into inputPath's audio track at their offsets,
// copying the video stream. With no clips the original is copied.
func (f *FFmpeg) Overlay(ctx context.Context, inputPath string, clips []AudioClip, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if len(clips) == 0 {
		data, err := os.ReadFile(inputPath)
		if err != nil {
			return fmt.Errorf("copy original video: %w", err)
		}
		return os.WriteFile(outputPath, data, 0o644)
	}

	args := buildOverlayArgs(f.FFmpegPath, inputPath, clips, outputPath)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("overlay audio: %w: %s", err, tail(out))
	}
	return nil
}

// buildOverlayArgs assembles the adelay+amix filter graph command.
func buildOverlayArgs(ffmpegPath, inputPath string, clips []AudioClip, outputPath string) []string {
	args := []string{ffmpegPath, "-y", "-i", inputPath}
	for _, clip := range clips {
		args = append(args, "-i", clip.Path)
	}

	var filters []string
	var mixInputs strings.Builder
	mixInputs.WriteString("[0:a]")
	for i, clip := range clips {
		delayMS := int(clip.Start * 1000)
		filters = append(filters, fmt.Sprintf("[%d:a]adelay=%d|%d[a%d]", i+1, delayMS, delayMS, i))
		fmt.Fprintf(&mixInputs, "[a%d]", i)
	}
	filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest[out]", mixInputs.String(), len(clips)+1))

	args = append(args,
		"-filter_complex", strings.Join(filters, ";"),
		"-map", "0:v",
		"-map", "[out]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		outputPath,
	)
	return args
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(out []byte) string {
	const max = 512
	s := strings.TrimSpace(string(out))
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}
