package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/subgen/pkg/logging"
)

const defaultArtifactName = "subtitles.zip"

// Artifact is an open download of a finished job's result
type Artifact struct {
	Body     io.ReadCloser
	Size     int64 // -1 when the server did not announce a length
	Filename string
}

// Download opens the result location announced by a COMPLETED status.
// Relative locations are resolved against the service root. The API key is only
// sent to the service host; presigned storage links are fetched as-is.
func (c *Client) Download(ctx context.Context, downloadURL string) (*Artifact, error) {
	target, err := c.resolve(downloadURL)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracing.StartSpan(ctx, "api.Download",
		attribute.String("download.host", target.Host),
	)
	defer span.End()

	var req *http.Request
	if target.Host == c.baseURL.Host {
		req, err = c.newRequest(ctx, http.MethodGet, target.String(), nil)
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err == nil {
			req.Header.Set("X-Request-ID", uuid.NewString())
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download artifact: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newStatusError("download", resp)
	}

	name := artifactName(resp.Header.Get("Content-Disposition"), target)
	c.logger.Info("Downloading artifact", logging.Fields{
		"file":  name,
		"bytes": resp.ContentLength,
	})

	return &Artifact{
		Body:     &countingBody{ReadCloser: resp.Body, c: c},
		Size:     resp.ContentLength,
		Filename: name,
	}, nil
}

func (c *Client) resolve(raw string) (*url.URL, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("download url is empty")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid download url %q: %w", raw, err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

// artifactName prefers the server's Content-Disposition filename and falls back
// to the last path element of the location.
func artifactName(disposition string, target *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); usableName(name) {
				return name
			}
		}
	}
	if name := path.Base(target.Path); usableName(name) {
		return name
	}
	return defaultArtifactName
}

func usableName(name string) bool {
	return name != "" && name != "." && name != ".." && name != "/"
}

type countingBody struct {
	io.ReadCloser
	c *Client
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.c.metrics.AddDownloadBytes(int64(n))
	return n, err
}
