package negotiate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mark3labs/docshift/internal/format"
)

// DefaultMaxBodyBytes caps a fetched alternate representation.
const DefaultMaxBodyBytes int64 = 10 << 20

// Fetched is the origin's answer for an alternate representation.
type Fetched struct {
	Status int
	Header http.Header
	Body   []byte
	// Location is the absolute URL the content was served from.
	Location string
}

// Fetcher retrieves the alternate representation at path on behalf of r.
// Implementations must mark the request with GuardHeader set to requested.
type Fetcher interface {
	Fetch(ctx context.Context, r *http.Request, path string, requested format.Format) (*Fetched, error)
}

// conditional and encoding headers would change what the origin answers.
var droppedHeaders = []string{
	"Range", "If-Range", "If-Match", "If-None-Match", "If-Modified-Since", "If-Unmodified-Since",
	"Accept-Encoding",
}

// InternalHost names the in-process origin in the Location of alternates
// served by a HandlerFetcher without a BaseURL. Requests to it never leave
// the process when they go through a HandlerTransport.
const InternalHost = "origin.internal"

// InternalBaseURL returns http://origin.internal.
func InternalBaseURL() *url.URL {
	return &url.URL{Scheme: "http", Host: InternalHost}
}

// HandlerFetcher serves the alternate through an in-process handler.
// BaseURL is the trusted origin reported as the fetched Location; the
// request's Host header is never used for it.
type HandlerFetcher struct {
	Handler      http.Handler
	BaseURL      *url.URL
	MaxBodyBytes int64
}

func (f HandlerFetcher) Fetch(ctx context.Context, r *http.Request, path string, requested format.Format) (*Fetched, error) {
	if f.Handler == nil {
		return nil, errors.New("negotiate: HandlerFetcher has no handler")
	}
	req := r.Clone(WithInternal(ctx))
	req.Method = http.MethodGet
	req.URL.Path = path
	req.URL.RawPath = ""
	req.URL.RawQuery = ""
	req.RequestURI = path
	req.Body = http.NoBody
	req.ContentLength = 0
	for _, h := range droppedHeaders {
		req.Header.Del(h)
	}
	req.Header.Set(GuardHeader, requested.String())

	rec := serveBuffered(f.Handler, req, limitOrDefault(f.MaxBodyBytes))
	if rec.overflow {
		return nil, fmt.Errorf("alternate %s exceeds %d bytes", path, rec.limit)
	}
	base := f.BaseURL
	if base == nil {
		base = InternalBaseURL()
	}
	return &Fetched{Status: rec.status, Header: rec.header, Body: rec.buf.Bytes(), Location: base.JoinPath(path).String()}, nil
}

// HTTPFetcher GETs the alternate over HTTP from BaseURL, path appended to
// any base path. BaseURL is required.
type HTTPFetcher struct {
	Client       *http.Client
	BaseURL      *url.URL
	MaxBodyBytes int64
}

func (f HTTPFetcher) Fetch(ctx context.Context, r *http.Request, path string, requested format.Format) (*Fetched, error) {
	if f.BaseURL == nil {
		return nil, errors.New("negotiate: HTTPFetcher has no base URL")
	}
	target := f.BaseURL.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	for _, h := range []string{"Authorization", "Cookie", "Accept-Language"} {
		if v := r.Header.Values(h); len(v) > 0 {
			req.Header[h] = append([]string(nil), v...)
		}
	}
	req.Header.Set(GuardHeader, requested.String())

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	limit := limitOrDefault(f.MaxBodyBytes)
	var body []byte
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err = io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return nil, err
		}
		if int64(len(body)) > limit {
			return nil, fmt.Errorf("alternate %s exceeds %d bytes", target, limit)
		}
	}
	return &Fetched{Status: resp.StatusCode, Header: resp.Header, Body: body, Location: target}, nil
}

// HandlerTransport answers requests for Host from Handler in process and
// sends everything else to Next (http.DefaultTransport when nil). Schema
// $refs relative to a HandlerFetcher Location resolve through it.
type HandlerTransport struct {
	Handler      http.Handler
	Host         string
	Next         http.RoundTripper
	MaxBodyBytes int64
}

func (t HandlerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Host != t.Host {
		next := t.Next
		if next == nil {
			next = http.DefaultTransport
		}
		return next.RoundTrip(req)
	}
	if req.Body != nil {
		_ = req.Body.Close()
	}
	in := req.Clone(WithInternal(req.Context()))
	in.RequestURI = req.URL.RequestURI()
	in.Body = http.NoBody
	in.ContentLength = 0

	rec := serveBuffered(t.Handler, in, limitOrDefault(t.MaxBodyBytes))
	if rec.overflow {
		return nil, fmt.Errorf("%s exceeds %d bytes", req.URL, rec.limit)
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", rec.status, http.StatusText(rec.status)),
		StatusCode:    rec.status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        rec.header,
		Body:          io.NopCloser(bytes.NewReader(rec.buf.Bytes())),
		ContentLength: int64(rec.buf.Len()),
		Request:       req,
	}, nil
}

func serveBuffered(h http.Handler, r *http.Request, limit int64) *bufferRecorder {
	rec := &bufferRecorder{header: http.Header{}, status: http.StatusOK, limit: limit}
	h.ServeHTTP(rec, r)
	return rec
}

func limitOrDefault(n int64) int64 {
	if n <= 0 {
		return DefaultMaxBodyBytes
	}
	return n
}

// bufferRecorder captures a handler's response in memory.
type bufferRecorder struct {
	header      http.Header
	buf         bytes.Buffer
	status      int
	wroteHeader bool
	limit       int64
	overflow    bool
}

func (b *bufferRecorder) Header() http.Header { return b.header }

func (b *bufferRecorder) WriteHeader(code int) {
	if b.wroteHeader {
		return
	}
	b.wroteHeader = true
	b.status = code
}

func (b *bufferRecorder) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	if b.overflow {
		return len(p), nil
	}
	if int64(b.buf.Len()+len(p)) > b.limit {
		b.overflow = true
		return len(p), nil
	}
	return b.buf.Write(p)
}
