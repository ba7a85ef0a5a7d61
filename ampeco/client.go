package ampeco

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultHost    string = "https://app.ampeco.global"
	DefaultTimeout        = 10 * time.Second

	apiPrefix = "/api/v1/"
)

var errEmptyBody = errors.New("empty body")

// Options configure a Client. Token is the bearer token extracted from the
// AMPECO app; it is never refreshed by this package.
type Options struct {
	Host    string
	Token   string
	Timeout time.Duration
}

type Client struct {
	httpClient *http.Client
	host       string
}

var log = logrus.StandardLogger()

func New(opts Options) (*Client, error) {
	if opts.Token == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	host := strings.TrimRight(opts.Host, "/")
	if host == "" {
		host = DefaultHost
	}
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid api host %q: %w", opts.Host, err)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log.Debugf("ampeco New host=%s timeout=%s", host, timeout)
	return &Client{
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: ampecoRoundTripper{token: opts.Token},
		},
		host: host,
	}, nil
}

// Host returns the API host without trailing slash.
func (c *Client) Host() string {
	return c.host
}

// do sends a request to endpoint (relative to /api/v1/) and decodes the
// JSON response into out, when out is not nil. The returned error is always
// an *Error.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		r, err := toJson(body)
		if err != nil {
			return newError(ErrValidation, op, 0, err)
		}
		reqBody = r
	}

	u := c.host + apiPrefix + endpoint
	log.Debugf("%s %s", method, u)
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return newError(ErrValidation, op, 0, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			log.Warnf("timeout during %s %s", method, u)
		}
		return newError(ErrTransient, op, 0, err)
	}
	defer res.Body.Close()
	log.Debugf("%s %s: %s", method, u, res.Status)

	if err := statusError(op, res); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return newError(ErrTransient, op, res.StatusCode, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return newError(ErrProtocol, op, res.StatusCode, errEmptyBody)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return newError(ErrProtocol, op, res.StatusCode, err)
	}
	return nil
}

func statusError(op string, res *http.Response) error {
	code := res.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}
	var kind error
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		kind = ErrAuth
	case code == http.StatusNotFound:
		kind = ErrNotFound
	case code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500:
		kind = ErrTransient
	default:
		kind = ErrProtocol
	}
	return newError(kind, op, code, getError(res))
}

// getError extracts the backend message, if any.
func getError(res *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	var errorResponse ErrorResponse
	if err := json.Unmarshal(data, &errorResponse); err != nil || errorResponse.Message == "" {
		return nil
	}
	return errors.New(errorResponse.Message)
}

// isTimeout reports whether err was caused by a deadline.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func toJson[T any](request T) (io.Reader, error) {
	buffer := bytes.NewBuffer(nil)
	err := json.NewEncoder(buffer).Encode(request)
	return buffer, err
}
