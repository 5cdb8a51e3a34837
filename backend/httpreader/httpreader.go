// Package httpreader implements backend.Reader over HTTP range requests.
//
// It is a reference backend driver: the spec places concrete backend
// drivers out of scope, but a working one can exercise the cache entry
// end-to-end without a registry or OSS dependency. No test in this module
// uses it.
package httpreader

import (
	"context"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"strconv"
	"strings"
)

// Reader performs positional reads of a remote object via HTTP Range
// requests, adapted from the teacher's ByteSource (core/http/source.go)
// to the backend.Reader contract: Read(ctx, buf, offset) instead of
// ReadAt, and BlobSize() instead of Size()+SourceID().
type Reader struct {
	url     string
	client  *nethttp.Client
	headers nethttp.Header
	size    int64
}

// Option configures a Reader.
type Option func(*Reader)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(r *Reader) { r.client = client }
}

// WithHeader sets a single header sent on every request.
func WithHeader(key, value string) Option {
	return func(r *Reader) {
		if r.headers == nil {
			r.headers = make(nethttp.Header)
		}
		r.headers.Set(key, value)
	}
}

// New creates a Reader backed by HTTP range requests against url. It probes
// the remote once via a 1-byte range request to learn the total size.
func New(ctx context.Context, url string, opts ...Option) (*Reader, error) {
	r := &Reader{url: url, client: nethttp.DefaultClient}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = nethttp.DefaultClient
	}
	size, err := r.probeSize(ctx)
	if err != nil {
		return nil, err
	}
	r.size = size
	return r, nil
}

// BlobSize returns the total size of the remote object, learned at
// construction time.
func (r *Reader) BlobSize() uint64 {
	if r.size < 0 {
		return 0
	}
	return uint64(r.size)
}

// Read performs one HTTP range read of len(buf) bytes at offset.
func (r *Reader) Read(ctx context.Context, buf []byte, offset uint64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	off := int64(offset)
	if off >= r.size {
		return 0, io.EOF
	}

	end := off + int64(len(buf)) - 1
	expected := len(buf)
	if end >= r.size {
		end = r.size - 1
		expected = int(end - off + 1)
	}

	resp, err := r.rangeRequest(ctx, off, end)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
		// ok
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusOK:
		return 0, errors.New("httpreader: range requests not supported by remote")
	default:
		return 0, fmt.Errorf("httpreader: range request failed: %s", resp.Status)
	}

	n, err := io.ReadFull(resp.Body, buf[:expected])
	if err != nil {
		return n, err
	}
	if expected < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (r *Reader) probeSize(ctx context.Context) (int64, error) {
	req, err := r.newRequest(ctx)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != nethttp.StatusPartialContent {
		if resp.StatusCode == nethttp.StatusOK {
			return 0, errors.New("httpreader: range requests not supported by remote")
		}
		return 0, fmt.Errorf("httpreader: size probe failed: %s", resp.Status)
	}

	crange := resp.Header.Get("Content-Range")
	if crange == "" {
		return 0, errors.New("httpreader: size probe missing Content-Range")
	}
	return parseContentRangeSize(crange)
}

func (r *Reader) newRequest(ctx context.Context) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet, r.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range r.headers {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	return req, nil
}

func (r *Reader) rangeRequest(ctx context.Context, off, end int64) (*nethttp.Response, error) {
	req, err := r.newRequest(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, end))
	return r.client.Do(req)
}

func parseContentRangeSize(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if !strings.HasPrefix(value, "bytes ") {
		return 0, fmt.Errorf("httpreader: invalid Content-Range %q", value)
	}
	parts := strings.SplitN(strings.TrimPrefix(value, "bytes "), "/", 2)
	if len(parts) != 2 || parts[1] == "*" {
		return 0, fmt.Errorf("httpreader: invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("httpreader: invalid Content-Range %q", value)
	}
	return size, nil
}
