// Package poller is the trigger invoker: a periodic loop that asks the
// registry for due schedule records and hands them to the orchestrator. The
// poll interval, not a push mechanism, bounds scheduling precision.
package poller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "crosspost/pkg/logx"
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	Timezone string // IANA TZ, e.g. "Europe/Berlin"
}

// RunFunc processes everything due at now. It must tolerate being invoked
// again while a slow previous run is still visible in storage: claims are
// atomic downstream, so overlap is safe but skipped here anyway.
type RunFunc func(ctx context.Context, now time.Time) error

type Poller struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	run RunFunc

	c       *cron.Cron
	running atomic.Bool
	ctx     context.Context
}

func New(cfg Config, run RunFunc, log logx.Logger) (*Poller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if run == nil {
		return nil, errors.New("poller needs a run func")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Poller{cfg: cfg, log: log, run: run}, nil
}

func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.cfg.Enabled || p.c != nil {
		return nil
	}

	loc := p.loadLocation()
	p.ctx = ctx
	p.c = cron.New(cron.WithLocation(loc))
	spec := fmt.Sprintf("@every %s", p.cfg.Interval)
	if _, err := p.c.AddFunc(spec, p.tick); err != nil {
		p.c = nil
		return err
	}
	p.c.Start()
	p.log.Info("trigger poller started",
		logx.Duration("interval", p.cfg.Interval),
		logx.String("tz", loc.String()))
	return nil
}

func (p *Poller) Stop(_ context.Context) {
	p.mu.Lock()
	c := p.c
	p.c = nil
	p.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	p.log.Info("trigger poller stopped")
}

// tick skips if a previous run is still in flight: claims make overlap
// harmless, but stacking runs on a slow store helps nobody.
func (p *Poller) tick() {
	if !p.running.CompareAndSwap(false, true) {
		p.log.Debug("poll still running, skipping tick")
		return
	}
	defer p.running.Store(false)

	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	now := time.Now()
	if err := p.run(ctx, now); err != nil && !errors.Is(err, context.Canceled) {
		p.log.Warn("poll run failed", logx.Err(err))
	}
}

func (p *Poller) loadLocation() *time.Location {
	tz := strings.TrimSpace(p.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		p.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
