package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/m4xw311/codoc/errors"
	"github.com/m4xw311/codoc/logging"
)

// HTTPClient talks to a remote planning service that accepts
// {"input": Request} and answers {"output": Response}.
type HTTPClient struct {
	url    string
	client *http.Client
	logger *log.Logger
}

// NewHTTPClient returns a client posting to url. A zero timeout disables the
// client-side deadline.
func NewHTTPClient(url string, timeout time.Duration, logger *log.Logger) *HTTPClient {
	if logger == nil {
		logger = logging.Nop()
	}
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type envelopeIn struct {
	Input Request `json:"input"`
}

type envelopeOut struct {
	Output *Response `json:"output"`
}

// Invoke posts req and decodes the single turn in the reply. Every failure,
// including a malformed body, is reported as ErrOracleTransport.
func (c *HTTPClient) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(envelopeIn{Input: req})
	if err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "encode request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "%v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "read response: %v", err)
	}
	c.logger.Debug("oracle call", "mode", req.Mode, "messages", len(req.Messages), "status", resp.StatusCode, "elapsed", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "HTTP error! status: %d", resp.StatusCode)
	}

	var out envelopeOut
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "decode response: %v", err)
	}
	if out.Output == nil {
		return nil, errors.Wrapf(errors.ErrOracleTransport, "response has no output")
	}
	return out.Output, nil
}
