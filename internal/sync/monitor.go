package sync

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/logger"
)

// Prober answers the synchronous reachability question: can we talk to the
// backend right now?
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber probes reachability with a GET against the backend health URL.
// Any response counts as reachable except a transport failure or a 5xx.
type HTTPProber struct {
	client *http.Client
	url    string
}

func NewHTTPProber(probeURL string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{
		client: &http.Client{Timeout: timeout},
		url:    probeURL,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Monitor is the single source of truth for reachability transitions. It
// seeds the coordinator with the current signal at start and reports every
// transition; the coordinator decides what a transition means (drain on
// reconnect, notify on loss).
type Monitor struct {
	coord    *Coordinator
	prober   Prober
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewMonitor(coord *Coordinator, prober Prober, interval time.Duration) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		coord:    coord,
		prober:   prober,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	initial := m.prober.Probe(m.ctx)
	m.coord.InitOnline(initial)
	logger.Log.Info("Connectivity monitor started",
		zap.Bool("online", initial),
		zap.Duration("interval", m.interval),
	)

	go m.run()
}

func (m *Monitor) Stop() {
	m.cancel()
	<-m.done
	logger.Log.Info("Stopped connectivity monitor")
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.coord.SetOnline(m.prober.Probe(m.ctx))
		}
	}
}
