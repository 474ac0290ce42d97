package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/subgen/pkg/logging"
	"github.com/psantana5/subgen/pkg/models"
	"github.com/psantana5/subgen/pkg/tracing"
)

const (
	fileField = "file"
	urlField  = "youtube_url"
)

// ProgressFunc receives upload progress as a percentage in [0, 100].
// It is called only when the percentage changes.
type ProgressFunc func(percent int)

// Submit sends one multipart request carrying either the file or the URL and
// returns the job the service created. The input must already be valid.
func (c *Client) Submit(ctx context.Context, in models.Input, progress ProgressFunc) (*models.SubmitResponse, error) {
	ctx, span := c.tracing.StartSpan(ctx, "api.Submit",
		attribute.String("input.kind", string(in.Kind())),
	)
	defer span.End()

	body, err := newMultipartBody(in)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	pr := &progressReader{r: body, total: body.size, onProgress: progress, last: -1}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(submitPath), c.limiter.Reader(ctx, pr))
	if err != nil {
		return nil, err
	}
	req.ContentLength = body.size
	req.Header.Set("Content-Type", body.contentType)

	c.logger.Info("Submitting job", logging.Fields{
		"input_kind": string(in.Kind()),
		"input":      in.Value(),
		"bytes":      body.size,
	})

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.AddUploadBytes(pr.Sent())
	c.metrics.ObserveUpload(time.Since(start))
	if err != nil {
		tracing.SetError(ctx, err)
		return nil, fmt.Errorf("failed to send submission: %w", err)
	}
	defer resp.Body.Close()
	tracing.AddEvent(ctx, "upload.complete", attribute.Int64("upload.bytes", pr.Sent()))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError("submission", resp)
	}

	var result models.SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	if strings.TrimSpace(result.JobID) == "" {
		return nil, ErrNoJobID
	}

	span.SetAttributes(attribute.String("job.id", result.JobID))
	return &result, nil
}

// multipartBody streams a form with a single field without buffering the file,
// so the total length is known before the request starts.
type multipartBody struct {
	io.Reader
	file        *os.File
	size        int64
	contentType string
}

func newMultipartBody(in models.Input) (*multipartBody, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if in.Kind() == models.InputKindURL {
		if err := mw.WriteField(urlField, in.Value()); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
		if err := mw.Close(); err != nil {
			return nil, fmt.Errorf("failed to build form: %w", err)
		}
		return &multipartBody{
			Reader:      bytes.NewReader(buf.Bytes()),
			size:        int64(buf.Len()),
			contentType: mw.FormDataContentType(),
		}, nil
	}

	f, err := os.Open(in.Value())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", in.Value(), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", in.Value(), err)
	}

	if _, err := mw.CreateFormFile(fileField, filepath.Base(in.Value())); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	headLen := buf.Len()
	// Close appends the closing boundary after the part header; split it off
	// so the file can be streamed in between.
	if err := mw.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to build form: %w", err)
	}
	head := buf.Bytes()[:headLen]
	tail := buf.Bytes()[headLen:]

	return &multipartBody{
		Reader:      io.MultiReader(bytes.NewReader(head), f, bytes.NewReader(tail)),
		file:        f,
		size:        int64(len(head)) + info.Size() + int64(len(tail)),
		contentType: mw.FormDataContentType(),
	}, nil
}

func (b *multipartBody) Close() error {
	if b.file == nil {
		return nil
	}
	return b.file.Close()
}

type progressReader struct {
	r          io.Reader
	total      int64
	onProgress ProgressFunc

	mu   sync.Mutex
	sent int64
	last int
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.advance(int64(n))
	}
	return n, err
}

func (p *progressReader) advance(n int64) {
	p.mu.Lock()
	p.sent += n
	percent := 100
	if p.total > 0 {
		percent = int(p.sent * 100 / p.total)
	}
	if percent > 100 {
		percent = 100
	}
	changed := percent != p.last
	p.last = percent
	p.mu.Unlock()

	if changed && p.onProgress != nil {
		p.onProgress(percent)
	}
}

// Sent returns the number of body bytes handed to the transport
func (p *progressReader) Sent() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}
