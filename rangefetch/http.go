package rangefetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/copc/mirror"
)

// StatusError is returned by HTTPTransport for any response other than 206 Partial Content.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// HTTPTransport reads ranges over plain HTTP(S), e.g. from public or pre-signed object URLs.
type HTTPTransport struct {
	client  *http.Client
	baseURL string
}

// NewHTTPTransport returns a transport resolving objects against baseURL as baseURL/bucket/key.
// With an empty baseURL the key must itself be an absolute URL and bucket is ignored.
func NewHTTPTransport(baseURL string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = cleanhttp.DefaultPooledClient()
	}
	return &HTTPTransport{client: client, baseURL: baseURL}
}

func (t *HTTPTransport) objectURL(bucket, key string) (string, error) {
	if t.baseURL == "" {
		return key, nil
	}
	if bucket == "" {
		return url.JoinPath(t.baseURL, key)
	}
	return url.JoinPath(t.baseURL, bucket, key)
}

// GetRange sends a GET with a Range header. A server that ignores the header and answers 200 would
// stream the whole object, so anything but 206 is an error.
func (t *HTTPTransport) GetRange(ctx context.Context, bucket, key string, r mirror.ByteRange) (io.ReadCloser, error) {
	target, err := t.objectURL(bucket, key)
	if err != nil {
		return nil, errors.Wrap(err, "building object url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", r.HTTPHeader())

	//nolint:bodyclose
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent {
		goutils.UncheckedError(resp.Body.Close())
		return nil, &StatusError{URL: target, Code: resp.StatusCode}
	}
	return resp.Body, nil
}
