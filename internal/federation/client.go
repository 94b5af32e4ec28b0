package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

// defaultClientTimeout and defaultRetryAttempts are the Peer Client's
// defaults (spec §4.2).
const (
	defaultClientTimeout  = 30 * time.Second
	defaultRetryAttempts  = 3
	maxResponseBodyBytes  = 16 << 20
)

// exportEnvelopeSchema constrains a peer's export response to either the
// wrapped shape {items, sync_generation, total_count} or a bare array; the
// client rejects anything else before decoding it into Records.
var exportEnvelopeSchema = gojsonschema.NewStringLoader(`{
	"oneOf": [
		{"type": "array"},
		{
			"type": "object",
			"required": ["items"],
			"properties": {
				"items": {"type": "array"},
				"sync_generation": {"type": "integer"},
				"total_count": {"type": "integer"}
			}
		}
	]
}`)

var compiledExportEnvelopeSchema *gojsonschema.Schema

func init() {
	s, err := gojsonschema.NewSchema(exportEnvelopeSchema)
	if err != nil {
		panic(fmt.Sprintf("federation: invalid export envelope schema: %v", err))
	}
	compiledExportEnvelopeSchema = s
}

// Client talks to one remote peer's export endpoints (spec §4.2).
type Client struct {
	cfg          *PeerConfig
	httpClient   *http.Client
	tokenSource  TokenSource
	retryAttempts int
	logger       *slog.Logger
}

// NewClient builds a Client for cfg. timeout and retryAttempts fall back to
// the spec defaults when zero.
func NewClient(cfg *PeerConfig, tokenSource TokenSource, timeout time.Duration, retryAttempts int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultClientTimeout
	}
	if retryAttempts <= 0 {
		retryAttempts = defaultRetryAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: timeout},
		tokenSource:   tokenSource,
		retryAttempts: retryAttempts,
		logger:        logger,
	}
}

// wrappedExport mirrors the wrapped response shape a peer may return.
type wrappedExport struct {
	Items          []Record `json:"items"`
	SyncGeneration int64    `json:"sync_generation"`
	TotalCount     int      `json:"total_count"`
}

// bearerToken resolves the auth header value per the precedence in spec
// §4.2.1: a per-peer federation_token wins over the shared token source.
func (c *Client) bearerToken(ctx context.Context) (string, error) {
	if c.cfg.FederationToken != "" {
		return c.cfg.FederationToken, nil
	}
	if c.tokenSource == nil || !c.tokenSource.IsConfigured() {
		return "", fmt.Errorf("no federation_token for peer %q and no token source configured", c.cfg.PeerID)
	}
	tok, ok := c.tokenSource.GetToken(ctx)
	if !ok {
		return "", fmt.Errorf("token source failed to produce a token for peer %q", c.cfg.PeerID)
	}
	return tok, nil
}

// FetchServers fetches the peer's /api/federation/servers endpoint. A nil
// result with a nil error means the peer returned nothing usable after
// retries; callers coerce this to empty per spec §4.1.2 step 4.
func (c *Client) FetchServers(ctx context.Context, sinceGeneration int64) ([]Record, error) {
	return c.fetchList(ctx, "/api/federation/servers", sinceGeneration, true)
}

// FetchAgents fetches the peer's /api/federation/agents endpoint.
func (c *Client) FetchAgents(ctx context.Context, sinceGeneration int64) ([]Record, error) {
	return c.fetchList(ctx, "/api/federation/agents", sinceGeneration, true)
}

// FetchScans fetches the peer's /api/federation/security-scans endpoint.
func (c *Client) FetchScans(ctx context.Context) ([]Record, error) {
	return c.fetchList(ctx, "/api/federation/security-scans", 0, false)
}

// FetchServer fetches all servers from the peer and returns the one whose
// path matches name, client-side (spec §4.2.2). Returns (nil, nil) if not
// found.
func (c *Client) FetchServer(ctx context.Context, name string) (*Record, error) {
	records, err := c.FetchServers(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Path == name {
			return &records[i], nil
		}
	}
	return nil, nil
}

// CheckHealth calls the peer's /health endpoint unauthenticated and reports
// whether it responded 200.
func (c *Client) CheckHealth(ctx context.Context) bool {
	endpoint := NormalizeEndpoint(c.cfg.Endpoint) + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBodyBytes))
	return resp.StatusCode == http.StatusOK
}

// fetchList performs the authenticated GET, retry loop, and envelope
// decoding shared by FetchServers/FetchAgents/FetchScans.
func (c *Client) fetchList(ctx context.Context, path string, sinceGeneration int64, withGeneration bool) ([]Record, error) {
	endpoint := NormalizeEndpoint(c.cfg.Endpoint) + path
	if withGeneration && sinceGeneration > 0 {
		u, err := url.Parse(endpoint)
		if err == nil {
			q := u.Query()
			q.Set("since_generation", strconv.FormatInt(sinceGeneration, 10))
			u.RawQuery = q.Encode()
			endpoint = u.String()
		}
	}

	body, err := c.doWithRetry(ctx, endpoint)
	if err != nil {
		c.logger.Warn("peer fetch failed after retries",
			slog.String("peer_id", c.cfg.PeerID),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	if body == nil {
		return nil, nil
	}
	records, err := decodeExportEnvelope(body)
	if err != nil {
		c.logger.Warn("peer returned a malformed export envelope",
			slog.String("peer_id", c.cfg.PeerID),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return nil, nil
	}
	return records, nil
}

// doWithRetry issues the GET with bearer auth, retrying only on transport
// errors and 5xx per spec §4.2.4. Returns (nil, nil) for a non-retried 4xx.
func (c *Client) doWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return nil, err
	}

	var lastErr error
	delay := 200 * time.Millisecond
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("building request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		status := resp.StatusCode
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			resp.Body.Close()
			if c.tokenSource != nil {
				c.tokenSource.ClearToken()
			}
			return nil, nil
		}
		if status >= 400 && status < 500 {
			resp.Body.Close()
			return nil, nil
		}
		if status >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("peer %q returned status %d", c.cfg.PeerID, status)
			continue
		}

		b, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			lastErr = fmt.Errorf("reading response body: %w", readErr)
			continue
		}
		return b, nil
	}
	return nil, lastErr
}

// decodeExportEnvelope validates the raw body against exportEnvelopeSchema
// and extracts the item list, accepting both the wrapped and the raw-list
// shapes (spec §4.2.2).
func decodeExportEnvelope(body []byte) ([]Record, error) {
	result, err := compiledExportEnvelopeSchema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("validating export envelope: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("export envelope does not match expected shape")
	}

	trimmed := bytesTrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []Record
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decoding raw-list export: %w", err)
		}
		return items, nil
	}

	var wrapped wrappedExport
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding wrapped export: %w", err)
	}
	return wrapped.Items, nil
}

func bytesTrimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && isJSONSpace(b[start]) {
		start++
	}
	end := len(b)
	for end > start && isJSONSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
