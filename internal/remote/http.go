package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sugawarayuuta/sonnet"

	"github.com/graaaaa/worldlog-companion/internal/appinfo"
	"github.com/graaaaa/worldlog-companion/internal/event"
	"github.com/graaaaa/worldlog-companion/internal/version"
)

const (
	// maxBodyBytes bounds a single response body.
	maxBodyBytes = 32 << 20
	// maxErrorBody bounds how much of an error body is kept.
	maxErrorBody = 512
)

// HTTPSource reads snapshots from a JSON HTTP endpoint:
//
//	GET {base}/v1/snapshot?owner=<owner>&start_block=<n>
//	GET {base}/v1/block/latest -> {"block_number": n}
type HTTPSource struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPSource) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHTTPSource creates an HTTPSource rooted at baseURL.
func NewHTTPSource(baseURL string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 15 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchSnapshot implements Source.
func (s *HTTPSource) FetchSnapshot(ctx context.Context, owner string, startBlock uint64) (*event.RawSnapshot, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("start_block", strconv.FormatUint(startBlock, 10))

	var snap event.RawSnapshot
	if err := s.getJSON(ctx, "/v1/snapshot?"+q.Encode(), &snap); err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}
	return &snap, nil
}

type latestBlockResponse struct {
	BlockNumber uint64 `json:"block_number"`
}

// FetchLatestBlock implements Source.
func (s *HTTPSource) FetchLatestBlock(ctx context.Context) (uint64, error) {
	var resp latestBlockResponse
	if err := s.getJSON(ctx, "/v1/block/latest", &resp); err != nil {
		return 0, fmt.Errorf("fetch latest block: %w", err)
	}
	return resp.BlockNumber, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", appinfo.AppName+"/"+version.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(body))
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		return &StatusError{Code: resp.StatusCode, Body: msg}
	}

	if err := sonnet.Unmarshal(body, v); err != nil {
		s.logger.Debug("undecodable response", "path", path, "bytes", len(body))
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
