package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// TikaClient talks to a Tika-style text-extraction server (spec.md §6):
// PUT {url}/meta (Accept: application/json) for metadata, normalizing its
// Tika-native keys to the canonical metadata vocabulary.
type TikaClient struct {
	url    string
	client *http.Client
}

// NewTikaClient constructs a TikaClient. An empty url makes IsConfigured
// report false.
func NewTikaClient(url string, timeoutSeconds int) *TikaClient {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 60
	}
	return &TikaClient{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (c *TikaClient) IsConfigured() bool { return c.url != "" }

// FetchMetadata reads path and returns its normalized Tika metadata map.
func (c *TikaClient) FetchMetadata(ctx context.Context, path string) (map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url+"/meta", f)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errStatus("tika meta", resp.StatusCode)
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, err
	}
	return normalizeTikaMetadata(raw), nil
}

// normalizeTikaMetadata maps Tika's native field names onto the pipeline's
// canonical metadata vocabulary (spec.md §6). dc:title -> title,
// dc:creator -> author (meta:author is used only when dc:creator is
// absent), dcterms:created
// -> creation_date, meta:page-count / xmpTPg:NPages -> page_count (dropped
// if not an integer), Content-Type -> content_type.
func normalizeTikaMetadata(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))

	setIfAbsent := func(key string, val any) {
		if _, ok := out[key]; !ok {
			out[key] = val
		}
	}

	for k, v := range raw {
		switch k {
		case "dc:title":
			setIfAbsent("title", v)
		case "dc:creator":
			setIfAbsent("author", v)
		case "meta:author":
			if _, hasCreator := raw["dc:creator"]; !hasCreator {
				setIfAbsent("author", v)
			}
		case "dcterms:created":
			setIfAbsent("creation_date", v)
		case "meta:page-count", "xmpTPg:NPages":
			if n, ok := asInt(v); ok {
				out["page_count"] = n
			}
		case "Content-Type":
			setIfAbsent("content_type", v)
		default:
			out[k] = v
		}
	}
	return out
}

// extractTikaText PUTs file contents to {url}/tika and returns the plain
// text Tika extracted (spec.md §6: "PUT {url}/tika with file bytes").
func extractTikaText(ctx context.Context, c *TikaClient, file *os.File) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.url+"/tika", file)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errStatus("tika text", resp.StatusCode)
	}

	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(text), nil
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
