// Package compare runs the two-vehicle comparison page: one cascade
// controller per vehicle, and a comparison event once both are fully
// selected.
package compare

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
	"github.com/WessleyAI/wessley-compare/engine/domain"
	"github.com/WessleyAI/wessley-compare/pkg/metrics"
)

// Vehicles is the number of chains on the page.
const Vehicles = 2

// Publisher receives completed comparisons.
type Publisher interface {
	Publish(ctx context.Context, c domain.Comparison) error
}

// Config holds the optional collaborators of a Page.
type Config struct {
	Logger    *slog.Logger
	Metrics   *metrics.Registry
	Publisher Publisher
	// Notifier overrides the surface for user-facing messages.
	Notifier cascade.Notifier
	Now      func() time.Time
}

// Page is an open comparison page.
type Page struct {
	def      cascade.ChainDef
	ctrls    [Vehicles]*cascade.Controller
	log      *slog.Logger
	reg      *metrics.Registry
	pub      Publisher
	notifier cascade.Notifier
	now      func() time.Time
	ctx      context.Context

	mu   sync.Mutex
	last *domain.Comparison
}

// IDs lists the element ids of both vehicles, vehicle 1 first.
func IDs(def cascade.ChainDef) []string {
	var ids []string
	for i := 1; i <= Vehicles; i++ {
		ids = append(ids, def.IDs(i)...)
	}
	return ids
}

// Open initializes one controller per vehicle on surface.
func Open(ctx context.Context, def cascade.ChainDef, surface cascade.Surface, fetcher cascade.Fetcher, cfg Config) (*Page, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier, _ = surface.(cascade.Notifier)
	}
	p := &Page{
		def:      def,
		log:      log,
		reg:      cfg.Metrics,
		pub:      cfg.Publisher,
		notifier: notifier,
		now:      now,
		ctx:      ctx,
	}

	var met *cascade.Metrics
	if cfg.Metrics != nil {
		met = cascade.NewMetrics(cfg.Metrics)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.ctrls {
		ctrl, err := cascade.Initialize(ctx, def, cascade.Deps{
			Surface:    surface,
			Fetcher:    fetcher,
			Notifier:   notifier,
			Instance:   i + 1,
			Logger:     log,
			Metrics:    met,
			OnComplete: func(cascade.Selection) { p.completed() },
		})
		if err != nil {
			for _, c := range p.ctrls[:i] {
				c.Close()
			}
			return nil, fmt.Errorf("open vehicle %d: %w", i+1, err)
		}
		p.ctrls[i] = ctrl
	}
	log.Info("comparison page opened", "variant", def.Name, "fields", len(def.Fields))
	return p, nil
}

// Controller returns the controller of vehicle n (1-based).
func (p *Page) Controller(n int) *cascade.Controller {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n > Vehicles {
		return nil
	}
	return p.ctrls[n-1]
}

// Comparison returns the comparison built when both chains last became
// complete. It reports false, and forgets that comparison, as soon as either
// chain is incomplete again.
func (p *Page) Comparison() (domain.Comparison, bool) {
	p.mu.Lock()
	last, ctrls := p.last, p.ctrls
	p.mu.Unlock()
	if last == nil {
		return domain.Comparison{}, false
	}
	for _, c := range ctrls {
		if c == nil || !c.Complete() {
			p.mu.Lock()
			if p.last == last {
				p.last = nil
			}
			p.mu.Unlock()
			return domain.Comparison{}, false
		}
	}
	return *last, true
}

// completed runs whenever one chain reaches a full selection. Nothing happens
// until the other chain is complete too.
func (p *Page) completed() {
	p.mu.Lock()
	ctrls := p.ctrls
	p.mu.Unlock()

	var cmp domain.Comparison
	for i, c := range ctrls {
		if c == nil || !c.Complete() {
			return
		}
		v, err := domain.VehicleFromSelection(c.Selection())
		if err != nil {
			p.log.Warn("incomplete vehicle selection", "vehicle", i+1, "err", err)
			return
		}
		cmp.Vehicles[i] = v
	}
	cmp.Variant = p.def.Name
	cmp.SelectedAt = p.now().UTC()

	p.mu.Lock()
	p.last = &cmp
	p.mu.Unlock()

	p.log.Info("comparison selected",
		"vehicle1", describe(cmp.Vehicles[0]),
		"vehicle2", describe(cmp.Vehicles[1]),
	)
	if p.reg != nil {
		p.reg.Counter("compare_comparisons_total", "Comparisons with both vehicles selected").Inc()
	}
	if p.pub == nil {
		return
	}
	if err := p.pub.Publish(p.ctx, cmp); err != nil {
		p.log.Error("publish comparison", "err", err)
		if p.reg != nil {
			p.reg.Counter("compare_publish_failures_total", "Comparisons that could not be published").Inc()
		}
		if p.notifier != nil {
			p.notifier.Notify("Failed to save comparison")
		}
	}
}

func describe(v domain.Vehicle) string {
	s := fmt.Sprintf("%d %s %s", v.Year, v.Make, v.Model)
	if v.Type != "" {
		s += " (" + v.Type + ")"
	}
	return s
}

// Wait blocks until both controllers have no fetch in flight.
func (p *Page) Wait() {
	for _, c := range p.ctrls {
		c.Wait()
	}
}

// Reload reloads the root field of every vehicle.
func (p *Page) Reload() {
	for _, c := range p.ctrls {
		c.Reload()
	}
}

// Close closes both controllers.
func (p *Page) Close() {
	for _, c := range p.ctrls {
		c.Close()
	}
	p.log.Info("comparison page closed")
}
