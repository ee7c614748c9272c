package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"assistantbot/internal/app"
)

// Indexer receives the chunked text of one source document.
type Indexer interface {
	Index(ctx context.Context, source string, chunks []string) (string, error)
}

// Pipeline extracts, chunks and indexes document sources.
type Pipeline struct {
	indexer    Indexer
	chunker    ChunkerConfig
	httpClient *http.Client
}

func NewPipeline(indexer Indexer, chunker ChunkerConfig) *Pipeline {
	return &Pipeline{
		indexer:    indexer,
		chunker:    chunker,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// IngestText chunks and indexes raw text under the given source label.
// Returns the assigned document ID.
func (p *Pipeline) IngestText(ctx context.Context, source, text string) (string, error) {
	chunks := SplitText(text, p.chunker)
	if len(chunks) == 0 {
		return "", fmt.Errorf("%w: source %q has no text content", app.ErrInvalidInput, source)
	}
	return p.indexer.Index(ctx, source, chunks)
}

// IngestFile extracts text from an uploaded file and indexes it.
func (p *Pipeline) IngestFile(ctx context.Context, filename string, data []byte) (string, error) {
	text, err := ExtractFileText(filename, data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", app.ErrInvalidInput, err)
	}
	return p.IngestText(ctx, filename, text)
}

// IngestURL fetches an http(s) page, extracts its visible text and indexes it.
func (p *Pipeline) IngestURL(ctx context.Context, rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: invalid url: %v", app.ErrInvalidInput, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported url scheme %q", app.ErrInvalidInput, parsed.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build fetch request failed: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch url failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch url returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("read url body failed: %w", err)
	}

	text, err := ExtractHTMLText(string(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", app.ErrInvalidInput, err)
	}
	return p.IngestText(ctx, parsed.String(), text)
}
