package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/WessleyAI/wessley-compare/pkg/fn"
	"go.opentelemetry.io/otel/attribute"
)

// Selection maps lower-cased field names to their selected values.
type Selection map[string]string

// Deps are the collaborators of a Controller.
type Deps struct {
	Surface Surface
	Fetcher Fetcher
	// Notifier receives user-facing error messages. When nil, Surface is used
	// if it implements Notifier.
	Notifier Notifier
	// Instance numbers the chain on the page (1 for "vehicle1Make"). Zero means 1.
	Instance int
	Logger   *slog.Logger
	Metrics  *Metrics
	// OnComplete is called, outside the controller lock, whenever the last
	// field is set while every upstream field is set.
	OnComplete func(Selection)
}

type field struct {
	def   FieldDef
	id    string
	el    Element
	gen   uint64
	fetch fn.Stage[Request, []Option]
}

// Controller owns one chain of fields.
type Controller struct {
	mu         sync.Mutex
	def        ChainDef
	name       string
	fields     []*field
	notifier   Notifier
	log        *slog.Logger
	met        *Metrics
	onComplete func(Selection)

	ctx       context.Context
	cancel    context.CancelFunc
	disposers []Disposer
	closed    bool
	pending   []string // notifications raised under mu
	wg        sync.WaitGroup
}

// Initialize binds def to the surface, registers change listeners on every
// field except the last and starts loading the root field's options.
func Initialize(ctx context.Context, def ChainDef, deps Deps) (*Controller, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if deps.Surface == nil || deps.Fetcher == nil {
		return nil, errors.New("cascade: surface and fetcher are required")
	}
	instance := deps.Instance
	if instance == 0 {
		instance = 1
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier, _ = deps.Surface.(Notifier)
	}

	c := &Controller{
		def:        def,
		name:       fmt.Sprintf("%s %d", def.Role, instance),
		notifier:   notifier,
		met:        deps.Metrics,
		onComplete: deps.OnComplete,
	}
	c.log = log.With("chain", c.name, "variant", def.Name)

	for _, fd := range def.Fields {
		id := ElementID(def.Role, instance, fd.Name)
		el, err := deps.Surface.Element(id)
		if err != nil {
			return nil, fmt.Errorf("cascade: element %s: %w", id, err)
		}
		c.fields = append(c.fields, &field{
			def: fd,
			id:  id,
			el:  el,
			fetch: fn.TracedStage("cascade.fetch", fn.StageOf(deps.Fetcher.FetchOptions),
				attribute.String("cascade.chain", c.name),
				attribute.String("cascade.field", fd.Name),
			),
		})
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	last := len(c.fields) - 1
	for i := 0; i < last; i++ {
		d, err := deps.Surface.Listen(c.fields[i].id, func(v string) { c.changed(i, v) })
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("cascade: listen %s: %w", c.fields[i].id, err)
		}
		c.disposers = append(c.disposers, d)
	}
	if c.onComplete != nil {
		d, err := deps.Surface.Listen(c.fields[last].id, func(v string) { c.lastChanged(v) })
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("cascade: listen %s: %w", c.fields[last].id, err)
		}
		c.disposers = append(c.disposers, d)
	}

	c.Reload()
	return c, nil
}

// Name returns the chain's display name, e.g. "vehicle 1".
func (c *Controller) Name() string { return c.name }

// Reload resets the whole chain and loads the root field again. It is how a
// user retries after the root fetch failed.
func (c *Controller) Reload() {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return
	}
	for _, f := range c.fields {
		c.reset(f)
	}
	c.load(0)
}

// changed handles a user change of field i.
func (c *Controller) changed(i int, value string) {
	c.mu.Lock()
	defer c.unlock()
	if c.closed {
		return
	}
	for _, f := range c.fields[i+1:] {
		c.reset(f)
	}
	if value == "" {
		return
	}
	c.load(i + 1)
}

func (c *Controller) lastChanged(value string) {
	if value == "" {
		return
	}
	c.mu.Lock()
	if c.closed || !c.complete() {
		c.mu.Unlock()
		return
	}
	sel := c.selection()
	c.mu.Unlock()
	c.onComplete(sel)
}

// reset puts a field back to the sentinel-only disabled state and supersedes
// any request in flight for it. Must hold mu.
func (c *Controller) reset(f *field) {
	f.gen++
	f.el.SetOptions([]Option{f.def.SentinelOption()})
	f.el.SetSelection("")
	f.el.SetEnabled(false)
}

// load starts filling field i from its static options or a fetch keyed by the
// upstream selections. Must hold mu.
func (c *Controller) load(i int) {
	f := c.fields[i]
	f.gen++
	gen := f.gen

	if len(f.def.Static) > 0 {
		c.populate(f, f.def.Static)
		return
	}

	sel := c.selection()
	about := c.describe(i, sel)
	path, err := renderPath(f.def.Path, sel)
	if err != nil {
		c.fail(f, about, err)
		return
	}
	req := Request{Path: path, Keys: f.def.Keys}

	if c.def.ShowLoading {
		f.el.SetOptions([]Option{{Label: "Loading " + f.def.resource() + "..."}})
	}

	c.wg.Add(1)
	c.met.inflight(1)
	go func() {
		defer c.wg.Done()
		defer c.met.inflight(-1)

		start := time.Now()
		opts, err := f.fetch(c.ctx, req).Unwrap()

		c.mu.Lock()
		defer c.unlock()
		if c.closed {
			return
		}
		if f.gen != gen {
			c.met.stale(f.def.Name)
			c.log.Debug("discarding stale response", "field", f.def.Name, "path", req.Path, "gen", gen, "current", f.gen)
			return
		}
		if err != nil {
			c.fail(f, about, err)
			return
		}
		c.met.fetched(f.def.Name, start)
		c.populate(f, opts)
	}()
}

// populate replaces the field's options with the sentinel followed by opts in
// order, dropping duplicate values, and enables it. Must hold mu.
func (c *Controller) populate(f *field, opts []Option) {
	all := make([]Option, 0, len(opts)+1)
	all = append(all, f.def.SentinelOption())
	all = append(all, opts...)
	f.el.SetOptions(fn.UniqueBy(all, func(o Option) string { return o.Value }))
	f.el.SetSelection("")
	f.el.SetEnabled(true)
}

// fail leaves the field disabled with an error placeholder and raises one
// notification. Must hold mu.
func (c *Controller) fail(f *field, about string, err error) {
	f.el.SetOptions([]Option{{Label: "Error loading " + f.def.resource()}})
	f.el.SetSelection("")
	f.el.SetEnabled(false)

	msg := fmt.Sprintf("Failed to load %s for %s", f.def.resource(), about)
	c.log.Error("option fetch failed", "field", f.def.Name, "kind", kindLabel(err), "err", err)
	c.met.failed(f.def.Name, err)
	c.pending = append(c.pending, msg)
}

// unlock releases mu and then delivers the notifications raised while it was
// held, so a Notifier may safely call back into the controller.
func (c *Controller) unlock() {
	msgs := c.pending
	c.pending = nil
	c.mu.Unlock()
	if c.notifier == nil {
		return
	}
	for _, m := range msgs {
		c.notifier.Notify(m)
	}
}

// describe names the upstream context of field i for messages: the field's
// About template, the upstream selections joined by spaces, or the chain name
// for the root.
func (c *Controller) describe(i int, sel Selection) string {
	if i == 0 {
		return c.name
	}
	if about := c.fields[i].def.About; about != "" {
		return renderText(about, sel)
	}
	parts := make([]string, 0, i)
	for _, f := range c.fields[:i] {
		parts = append(parts, sel[f.def.Key()])
	}
	return strings.Join(parts, " ")
}

// selection reads the current selections. Must hold mu.
func (c *Controller) selection() Selection {
	sel := make(Selection, len(c.fields))
	for _, f := range c.fields {
		sel[f.def.Key()] = f.el.Selection()
	}
	return sel
}

func (c *Controller) complete() bool {
	for _, f := range c.fields {
		if f.el.Selection() == "" {
			return false
		}
	}
	return true
}

// Selection returns a copy of the current selections.
func (c *Controller) Selection() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection()
}

// Complete reports whether every field has a selection.
func (c *Controller) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete()
}

// Wait blocks until every fetch started so far has finished.
func (c *Controller) Wait() { c.wg.Wait() }

// Close disposes the listeners and cancels fetches in flight. Responses that
// arrive afterwards are dropped.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	disposers := c.disposers
	c.disposers = nil
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	for _, d := range disposers {
		d()
	}
}
