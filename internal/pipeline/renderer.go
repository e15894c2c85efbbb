package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// RendererClient invokes the external markdown/HTML/office -> PDF renderer
// (spec.md §6, §4.9 "prepare archive file"). Any non-2xx response is
// treated as a renderer failure; callers fall back to the original file.
type RendererClient struct {
	url    string
	client *http.Client
}

// NewRendererClient constructs a RendererClient. An empty url makes
// IsConfigured report false.
func NewRendererClient(url string, timeoutSeconds int) *RendererClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	return &RendererClient{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (c *RendererClient) IsConfigured() bool { return c.url != "" }

// RenderToPDF reads sourcePath, posts it to the renderer under the given
// content type hint ("markdown", "html", "office"), and writes the
// resulting PDF bytes alongside sourcePath with an ".archive.pdf" suffix.
// It returns the path to that generated file.
func (c *RendererClient) RenderToPDF(ctx context.Context, sourcePath, docType string) (string, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/v1/render/"+docType, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errStatus("renderer", resp.StatusCode)
	}

	pdfBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	outPath := sourcePath + ".archive.pdf"
	if err := os.WriteFile(outPath, pdfBytes, 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func errStatus(what string, status int) error {
	return fmt.Errorf("%s returned status %d", what, status)
}
