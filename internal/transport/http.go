package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/bbopen/tywrap-sub003/internal/bridgeerr"
	"github.com/bbopen/tywrap-sub003/internal/protocol"
)

// HttpConfig configures an HttpTransport.
type HttpConfig struct {
	// URL is the worker's single RPC endpoint; every frame is POSTed here.
	URL string
	// Header is sent with every request. Values are validated with
	// httpguts before first use; an invalid one fails Init rather than
	// surfacing as a confusing per-call error.
	Header http.Header
	// Client overrides the default *http.Client.
	Client *http.Client
}

// HttpTransport sends each frame as a single stateless HTTP POST (spec §6
// "http transport"). It holds no long-lived connection of its own and
// cannot surface a stderr tail or an unsolicited process exit, so it does
// not implement StderrSource or ProcessWatcher.
type HttpTransport struct {
	cfg    HttpConfig
	client *http.Client
}

var _ Transport = (*HttpTransport)(nil)

// NewHttpTransport returns an HttpTransport for cfg.
func NewHttpTransport(cfg HttpConfig) *HttpTransport {
	return &HttpTransport{cfg: cfg}
}

func (t *HttpTransport) Init(ctx context.Context) error {
	for k, vs := range t.cfg.Header {
		if !httpguts.ValidHeaderFieldName(k) {
			return bridgeerr.NewProtocolError(fmt.Sprintf("invalid header field name %q", k), nil)
		}
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldValue(v) {
				return bridgeerr.NewProtocolError(fmt.Sprintf("invalid value for header %q", k), nil)
			}
		}
	}
	t.client = t.cfg.Client
	if t.client == nil {
		t.client = &http.Client{Timeout: 0}
	}
	return nil
}

func (t *HttpTransport) Dispose(ctx context.Context) error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HttpTransport) IsReady() bool { return t.client != nil }

func (t *HttpTransport) Send(ctx context.Context, frame *protocol.RequestFrame, timeoutMs int64) (*protocol.ResponseFrame, error) {
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, bridgeerr.NewCodecError(bridgeerr.PhaseEncode, "RequestFrame", err.Error(), err)
	}

	if timeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, bridgeerr.NewProtocolError("failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range t.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// An external abort (request cancellation, caller-supplied
			// deadline, or the timeout above) is observationally
			// equivalent to a locally-fired timeout (spec §5, §4.3).
			return nil, &bridgeerr.TimeoutError{ID: frame.ID, TimeoutMs: timeoutMs}
		}
		return nil, bridgeerr.NewProtocolError("HTTP request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLineBytes))
	if err != nil {
		return nil, bridgeerr.NewProtocolError("failed to read HTTP response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &bridgeerr.ExecutionError{
			Type:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: string(respBody),
		}
	}

	var rf protocol.ResponseFrame
	if err := json.Unmarshal(respBody, &rf); err != nil {
		return nil, bridgeerr.NewProtocolError("malformed HTTP response body", err).WithSnippet(string(respBody))
	}
	return &rf, nil
}
