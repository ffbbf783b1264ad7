package webclient

import (
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"
)

// hostLimitedTransport bounds in-flight requests per host. The slot is held
// until the response body is closed.
type hostLimitedTransport struct {
	base    http.RoundTripper
	perHost int64

	mu    sync.Mutex
	hosts map[string]*semaphore.Weighted
}

func newHostLimitedTransport(base http.RoundTripper, perHost int64) *hostLimitedTransport {
	return &hostLimitedTransport{
		base:    base,
		perHost: perHost,
		hosts:   make(map[string]*semaphore.Weighted),
	}
}

func (t *hostLimitedTransport) semaphore(host string) *semaphore.Weighted {
	t.mu.Lock()
	defer t.mu.Unlock()
	sem, ok := t.hosts[host]
	if !ok {
		sem = semaphore.NewWeighted(t.perHost)
		t.hosts[host] = sem
	}
	return sem
}

func (t *hostLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	sem := t.semaphore(req.URL.Host)
	if err := sem.Acquire(req.Context(), 1); err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		sem.Release(1)
		return nil, err
	}

	resp.Body = &releasingBody{ReadCloser: resp.Body, release: func() { sem.Release(1) }}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}
