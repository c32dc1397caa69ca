// Package blob fetches bid documents from the document store over HTTP.
package blob

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/takeoff-worker/internal/config"
	"github.com/sells-group/takeoff-worker/internal/resilience"
)

// Fetcher downloads document bytes by storage path.
type Fetcher interface {
	DownloadToFile(ctx context.Context, storagePath, destPath string) (int64, error)
}

// Client implements Fetcher against the document store's HTTP API.
type Client struct {
	baseURL    string
	key        string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a document store client.
func NewClient(cfg config.BlobConfig) *Client {
	timeout := 60 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 10
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.Key,
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		limiter:    rate.NewLimiter(rate.Limit(perSec), int(math.Ceil(perSec))),
		maxRetries: 3,
	}
}

// objectURL resolves a storage path against the store's base URL.
// Absolute URLs (signed links) pass through untouched.
func (c *Client) objectURL(storagePath string) string {
	if strings.HasPrefix(storagePath, "http://") || strings.HasPrefix(storagePath, "https://") {
		return storagePath
	}
	parts := strings.Split(strings.TrimLeft(storagePath, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return c.baseURL + "/" + strings.Join(parts, "/")
}

func (c *Client) download(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	rawURL := c.objectURL(storagePath)

	var lastErr error
	for attempt := range c.maxRetries {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "blob: rate limiter wait")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, eris.Wrap(err, "blob: create request")
		}
		if c.key != "" {
			req.Header.Set("Authorization", "Bearer "+c.key)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
			zap.L().Warn("blob download failed, retrying",
				zap.String("path", storagePath),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			backoff(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return resp.Body, nil
		}

		_ = resp.Body.Close()
		if !resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, eris.Errorf("blob: status %d for %s", resp.StatusCode, storagePath)
		}
		lastErr = eris.Errorf("blob: status %d for %s", resp.StatusCode, storagePath)
		zap.L().Warn("blob store transient error, retrying",
			zap.String("path", storagePath),
			zap.Int("status", resp.StatusCode),
			zap.Int("attempt", attempt+1),
		)
		backoff(ctx, attempt)
	}

	return nil, eris.Wrap(lastErr, "blob: retries exhausted")
}

// DownloadToFile fetches the object and writes it to destPath. A partial
// file from a failed copy is removed so the stager never sees truncated
// PDFs.
func (c *Client) DownloadToFile(ctx context.Context, storagePath, destPath string) (int64, error) {
	body, err := c.download(ctx, storagePath)
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(destPath)
	if err != nil {
		return 0, eris.Wrap(err, "blob: create file")
	}

	n, err := io.Copy(file, body)
	if cerr := file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(destPath)
		return 0, eris.Wrapf(err, "blob: write %s", destPath)
	}
	return n, nil
}

func backoff(ctx context.Context, attempt int) {
	base := time.Second
	maxBackoff := 30 * time.Second
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if d > maxBackoff {
		d = maxBackoff
	}
	d += time.Duration(rand.Int64N(int64(d) / 2))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
