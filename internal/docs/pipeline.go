// Package docs manages the session's document attachments: sequential
// multipart uploads with a single bounded retry, and the persisted
// record list shown in the panel.
package docs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/glotlabs/glot/internal/agent"
	"github.com/glotlabs/glot/internal/store"
)

// ErrUploadInFlight is returned when an upload is requested while
// another is still running. Uploads are single-flight, never parallel.
var ErrUploadInFlight = errors.New("an upload is already in flight")

const retryDelay = 700 * time.Millisecond

// Record describes one successfully uploaded document.
type Record struct {
	File    string         `json:"file"`
	Fields  map[string]any `json:"fields"`
	Chars   int            `json:"chars"`
	Preview string         `json:"preview"`
}

// Uploader is the agent client surface the pipeline needs.
type Uploader interface {
	UploadDoc(ctx context.Context, sessionID, filename string, content io.Reader) (agent.UploadResult, error)
}

// SessionBinding gives the pipeline access to the shared backend
// session id: read it for uploads, adopt one the backend mints.
type SessionBinding interface {
	SessionID() string
	AdoptSessionID(id string)
}

// StatusFunc receives transient one-line status updates.
type StatusFunc func(text string)

// Deps holds the collaborators of a Pipeline.
type Deps struct {
	Backend Uploader
	Session SessionBinding
	KV      store.KV
	Status  StatusFunc
	Logger  *slog.Logger
}

// Pipeline uploads documents one at a time and owns the record list.
type Pipeline struct {
	backend Uploader
	session SessionBinding
	kv      store.KV
	status  StatusFunc
	logger  *slog.Logger
	delay   time.Duration

	mu        sync.Mutex
	uploading bool
	records   []Record
}

// NewPipeline creates a Pipeline, loading persisted records.
func NewPipeline(deps Deps) *Pipeline {
	p := &Pipeline{
		backend: deps.Backend,
		session: deps.Session,
		kv:      deps.KV,
		status:  deps.Status,
		logger:  deps.Logger,
		delay:   retryDelay,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.status == nil {
		p.status = func(string) {}
	}
	if raw, err := p.kv.Get(store.KeyDocList); err == nil {
		var records []Record
		if err := json.Unmarshal([]byte(raw), &records); err != nil {
			p.logger.Warn("discarding malformed document list", "error", err)
		} else {
			p.records = records
		}
	}
	return p
}

// Records returns a copy of the attached document records.
func (p *Pipeline) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

// AddFiles uploads a batch of files strictly in order. A file that
// fails (after its one retry) is reported and skipped; the rest of the
// batch still runs. The returned error aggregates per-file failures.
func (p *Pipeline) AddFiles(ctx context.Context, paths []string) error {
	var errs []error
	for _, path := range paths {
		if err := p.AddFile(ctx, path); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
	}
	return errors.Join(errs...)
}

// AddFile uploads one file, retrying once after a short delay.
func (p *Pipeline) AddFile(ctx context.Context, path string) error {
	p.mu.Lock()
	if p.uploading {
		p.mu.Unlock()
		return ErrUploadInFlight
	}
	p.uploading = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.uploading = false
		p.mu.Unlock()
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		p.status("Upload failed")
		return fmt.Errorf("reading file: %w", err)
	}
	name := filepath.Base(path)

	p.status(fmt.Sprintf("Uploading %s…", name))
	result, err := p.uploadOnce(ctx, name, data)
	if err != nil {
		p.logger.Warn("upload failed, retrying once", "file", name, "error", err)
		p.status("Retrying upload…")
		select {
		case <-ctx.Done():
			p.status("Upload failed")
			return ctx.Err()
		case <-time.After(p.delay):
		}
		result, err = p.uploadOnce(ctx, name, data)
		if err != nil {
			p.logger.Warn("upload retry failed", "file", name, "error", err)
			p.status("Upload failed")
			return err
		}
	}

	p.adopt(result)
	p.appendRecord(buildRecord(name, data, result))
	p.status("Document attached")
	return nil
}

func (p *Pipeline) uploadOnce(ctx context.Context, name string, data []byte) (agent.UploadResult, error) {
	return p.backend.UploadDoc(ctx, p.session.SessionID(), name, bytes.NewReader(data))
}

// adopt records a backend-minted session id when none is held yet.
func (p *Pipeline) adopt(result agent.UploadResult) {
	if result.SessionID != "" {
		p.session.AdoptSessionID(result.SessionID)
	}
}

// buildRecord fills a Record from the upload response, defaulting
// missing fields from the file itself.
func buildRecord(name string, data []byte, result agent.UploadResult) Record {
	rec := Record{
		File:    result.File,
		Fields:  result.Fields,
		Chars:   result.Chars,
		Preview: result.Preview,
	}
	if rec.File == "" {
		rec.File = name
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	if rec.Preview == "" || rec.Chars == 0 {
		preview, chars := ExtractPreview(name, data)
		if rec.Preview == "" {
			rec.Preview = preview
		}
		if rec.Chars == 0 {
			rec.Chars = chars
		}
	}
	return rec
}

func (p *Pipeline) appendRecord(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	p.persistLocked()
}

// Clear drops all document records. Driven by the session when the
// active chat is cleared.
func (p *Pipeline) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = nil
	return p.kv.Delete(store.KeyDocList)
}

func (p *Pipeline) persistLocked() {
	raw, err := json.Marshal(p.records)
	if err != nil {
		p.logger.Error("marshaling document list", "error", err)
		return
	}
	if err := p.kv.Set(store.KeyDocList, string(raw)); err != nil {
		p.logger.Warn("persisting document list", "error", err)
	}
}
