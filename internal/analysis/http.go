package analysis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nedlabs/ned/internal/reliability"
)

// HTTPAnalyzer forwards segments to a vision-inference HTTP endpoint.
type HTTPAnalyzer struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPAnalyzer(url, apiKey string, timeout time.Duration) *HTTPAnalyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAnalyzer{
		url:    strings.TrimSpace(url),
		apiKey: strings.TrimSpace(apiKey),
		client: &http.Client{Timeout: timeout},
	}
}

type analyzeRequest struct {
	VideoBase64 string  `json:"video_base64"`
	MimeType    string  `json:"mime_type"`
	Prompt      string  `json:"prompt"`
	FPS         float64 `json:"fps,omitempty"`
	MaxWords    int     `json:"max_words,omitempty"`
	Language    string  `json:"language,omitempty"`
}

type analyzeResponse struct {
	Feedback string `json:"feedback"`
}

func (a *HTTPAnalyzer) Analyze(ctx context.Context, req Request) (Result, error) {
	if len(req.Media) == 0 {
		return Result{}, &Error{Code: "empty_media", Detail: "no video data", Transient: false}
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	payload, err := json.Marshal(analyzeRequest{
		VideoBase64: base64.StdEncoding.EncodeToString(req.Media),
		MimeType:    mimeType,
		Prompt:      req.Prompt,
		FPS:         req.Constraints.FPS,
		MaxWords:    req.Constraints.MaxWords,
		Language:    req.Constraints.Language,
	})
	if err != nil {
		return Result{}, &Error{Code: "marshal_request", Detail: err.Error(), Transient: false}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, &Error{Code: "create_request", Detail: err.Error(), Transient: false}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Result{}, &Error{Code: "transport", Detail: err.Error(), Transient: true}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, &Error{
			Code:      fmt.Sprintf("http_%d", res.StatusCode),
			Detail:    strings.TrimSpace(string(body)),
			Transient: reliability.IsRetryableHTTPStatus(res.StatusCode),
		}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Result{}, &Error{Code: "read_response", Detail: err.Error(), Transient: true}
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, &Error{Code: "malformed_response", Detail: err.Error(), Transient: false}
	}
	if strings.TrimSpace(parsed.Feedback) == "" {
		return Result{}, &Error{Code: "empty_feedback", Detail: "response carried no feedback", Transient: false}
	}

	feedback := TruncateWords(parsed.Feedback, req.Constraints.MaxWords)
	return Result{
		Feedback:       feedback,
		Classification: ClassifyFeedback(feedback),
	}, nil
}
