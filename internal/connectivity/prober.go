package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aloisiojr/sacrament-meeting-planner-sub001/internal/logger"
)

// Pinger reports whether the backend answers a round trip. *database.Database
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Prober feeds the monitor with reachability samples by pinging the
// backend on a fixed schedule. A headless agent has no platform push
// source for network state, so the probe stands in for it; an embedding
// application that does have one can skip the prober and call
// Monitor.Update directly.
type Prober struct {
	monitor  *Monitor
	pinger   Pinger
	timeout  time.Duration
	interval time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewProber pings the backend every interval, bounding each round trip
// by timeout.
func NewProber(monitor *Monitor, pinger Pinger, interval, timeout time.Duration) *Prober {
	return &Prober{
		monitor:  monitor,
		pinger:   pinger,
		timeout:  timeout,
		interval: interval,
	}
}

// Start schedules the probe and runs one immediately.
func (p *Prober) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+p.interval.String(), p.probe); err != nil {
		return err
	}
	p.cron = c
	c.Start()

	logger.Log.Info("Started connectivity prober",
		zap.Duration("interval", p.interval))

	go p.probe()
	return nil
}

// Stop cancels the probe schedule. Idempotent.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron == nil {
		return
	}
	p.cron.Stop()
	p.cron = nil
	logger.Log.Info("Stopped connectivity prober")
}

func (p *Prober) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	reachable := p.pinger.Ping(ctx) == nil

	connected := true
	p.monitor.Update(Sample{
		Connected:         &connected,
		InternetReachable: &reachable,
	})
}
