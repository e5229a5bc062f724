// Package agent is the HTTP client for the Glot agent backend.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout   = 60 * time.Second
	streamingTimeout = 300 * time.Second
	probeTimeout     = 2 * time.Second
)

// Client communicates with the agent backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given backend base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// RunRequest is the JSON body for both the one-shot and streaming
// agent endpoints. Optional fields are omitted when empty.
type RunRequest struct {
	Prompt         string   `json:"prompt"`
	APIKey         string   `json:"apiKey"`
	Provider       string   `json:"provider,omitempty"`
	Model          string   `json:"model,omitempty"`
	AllowedDomains []string `json:"allowedDomains,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
}

// runResponse mirrors the JSON returned by POST /run-agent. Older
// backend builds used "output" or "response" for the answer field.
type runResponse struct {
	Answer   string `json:"answer"`
	Output   string `json:"output"`
	Response string `json:"response"`
}

// Run sends a one-shot agent request and returns the answer text.
func (c *Client) Run(ctx context.Context, req RunRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run-agent", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("run-agent request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("run-agent: unexpected status %d", resp.StatusCode)
	}

	var result runResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding run-agent response: %w", err)
	}

	switch {
	case result.Answer != "":
		return result.Answer, nil
	case result.Output != "":
		return result.Output, nil
	default:
		return result.Response, nil
	}
}

// RunStream opens the streaming agent endpoint and returns the raw SSE
// body. The caller is responsible for closing it.
func (c *Client) RunStream(ctx context.Context, req RunRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, streamingTimeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/run-agent-stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("run-agent-stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("run-agent-stream: unexpected status %d", resp.StatusCode)
	}

	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

// cancelReadCloser releases the request context when the stream body
// is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// UploadResult mirrors the JSON returned by POST /upload-doc.
type UploadResult struct {
	SessionID string         `json:"sessionId"`
	File      string         `json:"file"`
	Fields    map[string]any `json:"fields"`
	Chars     int            `json:"chars"`
	Preview   string         `json:"preview"`
}

// UploadDoc submits one document as a multipart upload. sessionID may
// be empty; the backend then mints one and returns it in the result.
func (c *Client) UploadDoc(ctx context.Context, sessionID, filename string, content io.Reader) (UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return UploadResult{}, fmt.Errorf("writing form file: %w", err)
	}
	if sessionID != "" {
		if err := mw.WriteField("sessionId", sessionID); err != nil {
			return UploadResult{}, fmt.Errorf("writing session field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("finalizing multipart body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload-doc", &body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload-doc request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return UploadResult{}, fmt.Errorf("upload-doc: unexpected status %d", resp.StatusCode)
	}

	var result UploadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return UploadResult{}, fmt.Errorf("decoding upload response: %w", err)
	}
	return result, nil
}

// ClearSession asks the backend to drop server-side state for the
// session. Callers treat failures as advisory.
func (c *Client) ClearSession(ctx context.Context, sessionID string) error {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/clear-session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating clear-session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("clear-session request: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("clear-session: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Healthz returns true if the backend responds to GET /healthz with 2xx.
func (c *Client) Healthz(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
