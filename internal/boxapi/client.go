// Package boxapi fetches per-box file status from the upstream web app.
package boxapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	appLog "boxdisplay/internal/log"
	"boxdisplay/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultTimeout bounds one status request when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrNoBase is returned by New when no base url is configured.
var ErrNoBase = errors.New("boxapi: base url not configured")

// maxBody caps the response size read from upstream.
const maxBody = 1 << 20

// Client talks to GET {base}/boxes/{n}/files.
type Client struct {
	base   string
	client *http.Client
}

// New returns a client for base (e.g. "https://example.com/api").
func New(base string, timeout time.Duration) (*Client, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, ErrNoBase
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("boxapi: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("boxapi: base url %q must be http or https", base)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:   strings.TrimRight(u.String(), "/"),
		client: &http.Client{Timeout: timeout},
	}, nil
}

// statusBody is the upstream payload. Every field is optional; size may be
// null or fractional.
type statusBody struct {
	Empty *bool    `json:"empty"`
	Name  string   `json:"name"`
	Size  *float64 `json:"size"`
	Type  string   `json:"type"`
	Error string   `json:"error"`
}

func (c *Client) statusURL(id model.SlotID) string {
	return c.base + "/" + path.Join("boxes", id.String(), "files")
}

// FetchStatus performs a single request. Transport failures, non-2xx
// responses and undecodable bodies are returned as errors; the caller turns
// them into an errored record.
func (c *Client) FetchStatus(ctx context.Context, id model.SlotID) (model.Record, error) {
	if !id.Valid() {
		return model.Record{}, fmt.Errorf("boxapi: unknown box %d", int(id))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL(id), nil)
	if err != nil {
		return model.Record{}, fmt.Errorf("boxapi: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return model.Record{}, fmt.Errorf("boxapi: box %d: %w", int(id), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Record{}, fmt.Errorf("boxapi: box %d: %s", int(id), resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return model.Record{}, fmt.Errorf("boxapi: box %d: read body: %w", int(id), err)
	}
	var body statusBody
	if err := json.Unmarshal(data, &body); err != nil {
		return model.Record{}, fmt.Errorf("boxapi: box %d: decode: %w", int(id), err)
	}

	rec := body.record()
	appLog.Debug("box status fetched", "box", id, "kind", rec.Kind(), "took", time.Since(start).Round(time.Millisecond))
	return rec, nil
}

// record normalizes the payload into a clean variant. A missing "empty"
// field counts as empty.
func (b statusBody) record() model.Record {
	if b.Error != "" {
		return model.Errored(b.Error)
	}
	if b.Empty == nil || *b.Empty {
		return model.Empty()
	}
	label := b.Type
	if label == "" {
		label = TypeLabel(b.Name)
	}
	var size uint64
	if b.Size != nil && *b.Size > 0 {
		size = uint64(*b.Size)
	}
	name := b.Name
	if name == "" {
		name = "Unknown"
	}
	return model.Occupied(name, label, size)
}

// TypeLabel derives a display label from the file extension: "report.pdf"
// gives ".PDF", a name without extension gives "Unknown".
func TypeLabel(name string) string {
	i := strings.LastIndexByte(name, '.')
	if name == "" || i < 0 || i == len(name)-1 {
		return "Unknown"
	}
	return "." + strings.ToUpper(name[i+1:])
}
