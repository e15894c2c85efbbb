// Package parser implements the Parser capability contract against a
// docling-serve-style document-structure HTTP server (spec.md §6): POST
// {url}/v1/convert/file with a multipart file and to_formats=md, returning
// converted markdown plus whatever metadata the server could extract.
package parser

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
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/WessleyAI/wessley-mvp/internal/backend"
	"github.com/WessleyAI/wessley-mvp/internal/domain"
)

// DoclingParser is the docling-serve-backed Parser.
type DoclingParser struct {
	url    string
	client *http.Client
}

var _ backend.Parser = (*DoclingParser)(nil)

// NewDoclingParser constructs a DoclingParser. An empty url makes
// IsAvailable report false.
func NewDoclingParser(url string, timeoutSeconds int) *DoclingParser {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}
	return &DoclingParser{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (p *DoclingParser) Name() string { return "docling_serve" }

func (p *DoclingParser) SupportedExtensions() []string {
	return []string{".pdf", ".html", ".htm", ".doc", ".docx"}
}

func (p *DoclingParser) IsAvailable(ctx context.Context) bool {
	if p.url == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

type convertResponse struct {
	Document struct {
		MDContent string         `json:"md_content"`
		Metadata  map[string]any `json:"metadata"`
		PageCount *int           `json:"page_count"`
	} `json:"document"`
}

// Parse converts path to markdown via the configured docling-serve
// instance, writing the result alongside path with a ".converted.md"
// suffix.
func (p *DoclingParser) Parse(ctx context.Context, path string, contextMetadata map[string]any) (domain.ParserResult, error) {
	if p.url == "" {
		return domain.NewParserFailure("docling_serve URL is not configured", p.Name())
	}

	file, err := os.Open(path)
	if err != nil {
		return domain.NewParserFailure(fmt.Sprintf("failed to open file: %s", err), p.Name())
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", filepath.Base(path))
	if err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}
	if _, err := io.Copy(part, file); err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}
	if err := mw.Close(); err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/v1/convert/file?to_formats=md", &body)
	if err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.NewParserFailure(fmt.Sprintf("docling_serve returned status %d", resp.StatusCode), p.Name())
	}

	var parsed convertResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.NewParserFailure(fmt.Sprintf("malformed docling_serve response: %s", err), p.Name())
	}
	if strings.TrimSpace(parsed.Document.MDContent) == "" {
		return domain.NewParserFailure("docling_serve returned empty content", p.Name())
	}

	outPath := path + ".converted.md"
	if err := os.WriteFile(outPath, []byte(parsed.Document.MDContent), 0o644); err != nil {
		return domain.NewParserFailure(err.Error(), p.Name())
	}

	meta := parsed.Document.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	if parsed.Document.PageCount != nil {
		meta["page_count"] = *parsed.Document.PageCount
	}

	return domain.NewParserSuccess(outPath, p.Name(), meta)
}
