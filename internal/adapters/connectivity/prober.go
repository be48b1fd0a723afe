// Package connectivity probes reachability of the remote tile source.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Prober implements the Connectivity port with an HTTP HEAD probe. The
// result is cached for a TTL so Online stays cheap on the download hot
// path; a background loop keeps probing so subscribers see transitions
// even when nobody polls.
type Prober struct {
	client *http.Client
	url    string
	ttl    time.Duration
	logger *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu          sync.Mutex
	online      bool
	checkedAt   time.Time
	subscribers map[int]func(bool)
	nextSub     int
}

// New creates a prober against url. The first Online call probes
// immediately; the cached result stays valid for ttl.
func New(url string, ttl time.Duration, logger *slog.Logger) *Prober {
	if ttl == 0 {
		ttl = 10 * time.Second
	}
	return &Prober{
		client:      &http.Client{Timeout: 5 * time.Second},
		url:         url,
		ttl:         ttl,
		logger:      logger,
		stopCh:      make(chan struct{}),
		subscribers: make(map[int]func(bool)),
	}
}

// Start begins the background probe loop.
func (p *Prober) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop terminates the background loop.
func (p *Prober) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

func (p *Prober) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()

	p.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

// Online returns the cached probe result, refreshing it when stale.
func (p *Prober) Online() bool {
	p.mu.Lock()
	fresh := time.Since(p.checkedAt) < p.ttl
	online := p.online
	p.mu.Unlock()

	if fresh {
		return online
	}
	return p.refresh(context.Background())
}

// Subscribe registers a transition listener.
func (p *Prober) Subscribe(fn func(online bool)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subscribers[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

// refresh performs one probe and pushes the result to subscribers when
// the state flipped.
func (p *Prober) refresh(ctx context.Context) bool {
	online := p.probe(ctx)

	p.mu.Lock()
	changed := online != p.online && !p.checkedAt.IsZero()
	p.online = online
	p.checkedAt = time.Now()
	var fns []func(bool)
	if changed {
		for _, fn := range p.subscribers {
			fns = append(fns, fn)
		}
	}
	p.mu.Unlock()

	if changed {
		p.logger.Info("connectivity changed", "online", online)
		for _, fn := range fns {
			fn(online)
		}
	}
	return online
}

// probe issues a HEAD request; any response at all counts as reachable.
func (p *Prober) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("connectivity probe failed", "error", err)
		return false
	}
	_ = resp.Body.Close()
	return true
}
