package pool

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config defines upstream HTTP client configuration
type Config struct {
	ConnectionTimeout   time.Duration `json:"connection_timeout"`
	RequestTimeout      time.Duration `json:"request_timeout"`
	IdleTimeout         time.Duration `json:"idle_timeout"`
	MaxIdleConns        int           `json:"max_idle_conns"`
	MaxIdleConnsPerHost int           `json:"max_idle_conns_per_host"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		ConnectionTimeout:   5 * time.Second,
		RequestTimeout:      30 * time.Second,
		IdleTimeout:         90 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
}

// ClientPool hands out shared *http.Client instances for upstream calls.
// Regular calls get a client with a request timeout; streaming calls get one
// without, since a model generation holds its connection open for as long as
// the model keeps talking.
type ClientPool struct {
	mu        sync.RWMutex
	regular   *http.Client
	streaming *http.Client
	config    Config
	logger    *zap.Logger
}

// NewClientPool creates a new client pool
func NewClientPool(config Config, logger *zap.Logger) *ClientPool {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ClientPool{
		config: config,
		logger: logger,
	}
}

func (p *ClientPool) transport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   p.config.ConnectionTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          p.config.MaxIdleConns,
		MaxIdleConnsPerHost:   p.config.MaxIdleConnsPerHost,
		IdleConnTimeout:       p.config.IdleTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Client returns the shared client for ordinary request/response calls
func (p *ClientPool) Client() *http.Client {
	p.mu.RLock()
	c := p.regular
	p.mu.RUnlock()
	if c != nil {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.regular == nil {
		p.regular = &http.Client{
			Transport: p.transport(),
			Timeout:   p.config.RequestTimeout,
		}
		p.logger.Debug("created upstream HTTP client",
			zap.Duration("timeout", p.config.RequestTimeout),
		)
	}
	return p.regular
}

// StreamingClient returns the shared client for long-lived streaming calls.
// It carries no overall timeout; cancellation comes from the request context.
func (p *ClientPool) StreamingClient() *http.Client {
	p.mu.RLock()
	c := p.streaming
	p.mu.RUnlock()
	if c != nil {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.streaming == nil {
		p.streaming = &http.Client{
			Transport: p.transport(),
		}
		p.logger.Debug("created upstream streaming HTTP client")
	}
	return p.streaming
}

// CloseIdleConnections drops idle connections on both clients
func (p *ClientPool) CloseIdleConnections() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.regular != nil {
		p.regular.CloseIdleConnections()
	}
	if p.streaming != nil {
		p.streaming.CloseIdleConnections()
	}
}

// ForEachLimit runs fn for every index in [0, n) with at most limit
// goroutines in flight, stopping early when ctx is cancelled. Used for the
// per-model capability fan-out when listing upstream models.
func ForEachLimit(ctx context.Context, n, limit int, fn func(i int)) {
	if limit < 1 {
		limit = 1
	}

	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			fn(i)
		}(i)
	}

	wg.Wait()
}
