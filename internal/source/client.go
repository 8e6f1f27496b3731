package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	appLog "showfilter/internal/log"
	"showfilter/internal/model"
)

// ErrFetch is matched by every *FetchError.
var ErrFetch = errors.New("event fetch failed")

// FetchError reports a request to the theatre API that produced no usable
// body, neither fresh nor cached.
type FetchError struct {
	Theatre string
	Type    model.EventType
	Status  int
	Err     error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s for %s", e.Type, e.Theatre)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Request identifies one API stream.
type Request struct {
	Theatre     string
	Type        model.EventType
	Category    string
	Development bool
	// View changes record expansion; see ProcessOptions.
	View string
	// Start and End narrow the listing to a calendar range, e.g. the
	// visible month grid. Zero values are left out of the request.
	Start model.Date
	End   model.Date
}

// FetchResult is the raw outcome of one request.
type FetchResult struct {
	Request   Request
	Body      []byte
	FromCache bool
}

// cacheEntry holds HTTP cache metadata for one stream.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Client fetches event listings with HTTP caching (ETag / Last-Modified)
// backed by a disk cache, so a flaky API still leaves the last good body.
type Client struct {
	client   *http.Client
	cacheDir string
	baseURL  string
	loc      *time.Location
	now      func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default 15s-timeout client; its Timeout
// bounds each API request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithBaseURL pins every request to base instead of the per-theatre host.
func WithBaseURL(base string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithLocation sets the zone for dates the API sends without an offset.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) { c.loc = loc }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a Client. cacheDir holds one subdirectory per stream,
// e.g. "/var/lib/showfilter/cache".
func NewClient(cacheDir string, opts ...Option) *Client {
	if cacheDir == "" {
		cacheDir = "./var/cache"
	}
	c := &Client{
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
		cacheDir: cacheDir,
		loc:      time.Local,
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the API root for theatre.
func BaseURL(theatre string, development bool) string {
	if development {
		return fmt.Sprintf("http://%s.lvh.me:3000/api/v1", theatre)
	}
	return fmt.Sprintf("https://%s.crowdwork.com/api/v1", theatre)
}

// assetBase is where relative image paths live in development.
func assetBase(development bool) string {
	if development {
		return "http://lvh.me:3000"
	}
	return ""
}

// StreamURL builds the request URL without the cache-busting parameter.
func (c *Client) StreamURL(req Request) string {
	base := c.baseURL
	if base == "" {
		base = BaseURL(req.Theatre, req.Development)
	}
	u := base + "/" + string(req.Type)

	q := url.Values{}
	if req.Category != "" {
		q.Set("category", req.Category)
	}
	if !req.Start.IsZero() {
		q.Set("start", req.Start.String())
	}
	if !req.End.IsZero() {
		q.Set("end", req.End.String())
	}
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// FetchEvents fetches one stream and expands it into events.
func (c *Client) FetchEvents(ctx context.Context, req Request) ([]model.Event, error) {
	res, err := c.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}

	batch, err := Process(res.Body, req.Type, ProcessOptions{
		View:      req.View,
		AssetBase: assetBase(req.Development),
		Location:  c.loc,
		Now:       c.now(),
	})
	if err != nil {
		return nil, &FetchError{Theatre: req.Theatre, Type: req.Type, Err: err}
	}
	if batch.Malformed > 0 {
		appLog.Info("skipped malformed records", "theatre", req.Theatre, "type", req.Type, "count", batch.Malformed)
	}
	appLog.Debug("events processed", "theatre", req.Theatre, "type", req.Type, "events", len(batch.Events), "expired", batch.Expired, "from_cache", res.FromCache)

	return batch.Events, nil
}

// Fetch requests one stream, honoring ETag and Last-Modified. On network
// errors or non-OK responses it falls back to the cached body when one
// exists.
func (c *Client) Fetch(ctx context.Context, req Request) (FetchResult, error) {
	fail := func(status int, err error) (FetchResult, error) {
		return FetchResult{}, &FetchError{Theatre: req.Theatre, Type: req.Type, Status: status, Err: err}
	}

	if req.Theatre == "" {
		return fail(0, errors.New("theatre is empty"))
	}
	if !req.Type.Valid() {
		return fail(0, fmt.Errorf("unknown event type %q", req.Type))
	}

	streamURL := c.StreamURL(req)
	cachePath := c.cachePathForURL(streamURL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return fail(0, err)
	}

	meta, _ := c.loadCacheMeta(cachePath)
	cachedBody, _ := c.loadCacheBody(cachePath)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, bust(streamURL, c.now()), nil)
	if err != nil {
		return fail(0, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if meta.ETag != "" {
		httpReq.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("api fetch start", "theatre", req.Theatre, "type", req.Type, "url", redactURL(streamURL))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("api fetch network error, using cached body", err, "theatre", req.Theatre, "type", req.Type)
			return FetchResult{Request: req, Body: cachedBody, FromCache: true}, nil
		}
		return fail(0, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fail(resp.StatusCode, readErr)
		}

		newMeta := cacheEntry{
			URL:          streamURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := c.saveCache(cachePath, newMeta, body); err != nil {
			appLog.Error("api cache save failed", err, "theatre", req.Theatre, "type", req.Type)
		}

		appLog.Info("api fetch success", "theatre", req.Theatre, "type", req.Type, "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Request: req, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return fail(resp.StatusCode, errors.New("not modified but no cached body available"))
		}
		appLog.Info("api fetch not modified; using cache", "theatre", req.Theatre, "type", req.Type)
		return FetchResult{Request: req, Body: cachedBody, FromCache: true}, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("api fetch non-OK, using cached body", errors.New(resp.Status), "theatre", req.Theatre, "type", req.Type, "status", resp.StatusCode)
			return FetchResult{Request: req, Body: cachedBody, FromCache: true}, nil
		}
		return fail(resp.StatusCode, errors.New(resp.Status))
	}
}

// bust appends the cache=<unix ms> parameter the API expects.
func bust(u string, now time.Time) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "cache=" + strconv.FormatInt(now.UnixMilli(), 10)
}

func (c *Client) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func (c *Client) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (c *Client) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func (c *Client) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = c.now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host and drops the rest for logging.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "api://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
