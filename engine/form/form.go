// Package form is an in-memory surface of named select elements. It backs
// the terminal UI and the tests of the cascading controller.
package form

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/WessleyAI/wessley-compare/engine/cascade"
)

var (
	ErrNoElement     = errors.New("no such element")
	ErrDisabled      = errors.New("element is disabled")
	ErrUnknownOption = errors.New("value is not an option")
)

// State is a snapshot of one element.
type State struct {
	ID        string
	Options   []cascade.Option
	Selection string
	Enabled   bool
}

// Labels returns the option labels in order.
func (s State) Labels() []string {
	labels := make([]string, len(s.Options))
	for i, o := range s.Options {
		labels[i] = o.Label
	}
	return labels
}

type listener struct {
	handler func(string)
}

// Form holds elements in creation order. It is safe for concurrent use;
// listeners and update hooks run without the form lock held.
type Form struct {
	mu        sync.Mutex
	elements  map[string]*element
	order     []string
	listeners map[string][]*listener
	notices   []string
	updates   []func()
}

// New creates a form with one enabled, empty element per id.
func New(ids ...string) *Form {
	f := &Form{
		elements:  make(map[string]*element, len(ids)),
		listeners: make(map[string][]*listener),
	}
	for _, id := range ids {
		f.Add(id)
	}
	return f
}

// Add creates an element if it does not exist yet.
func (f *Form) Add(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.elements[id]; ok {
		return
	}
	f.elements[id] = &element{form: f, id: id, enabled: true}
	f.order = append(f.order, id)
}

// IDs lists element ids in creation order.
func (f *Form) IDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.order)
}

// Element implements cascade.Surface.
func (f *Form) Element(id string) (cascade.Element, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, id)
	}
	return el, nil
}

// Listen implements cascade.Surface. Handlers run in registration order.
func (f *Form) Listen(id string, handler func(string)) (cascade.Disposer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.elements[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, id)
	}
	l := &listener{handler: handler}
	f.listeners[id] = append(f.listeners[id], l)
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.listeners[id] = slices.DeleteFunc(f.listeners[id], func(x *listener) bool { return x == l })
	}, nil
}

// Notify implements cascade.Notifier by queueing the message.
func (f *Form) Notify(msg string) {
	f.mu.Lock()
	f.notices = append(f.notices, msg)
	f.mu.Unlock()
	f.changed()
}

// Notifications returns every message raised so far.
func (f *Form) Notifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.notices)
}

// OnUpdate registers a hook run after any element or notification change.
// Hooks must not block.
func (f *Form) OnUpdate(hook func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, hook)
}

// Select is the user choosing value on element id. The value must be one of
// the element's options and the element must be enabled. Change listeners
// fire even when the value is unchanged.
func (f *Form) Select(id, value string) error {
	f.mu.Lock()
	el, ok := f.elements[id]
	if !ok {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoElement, id)
	}
	if !el.enabled {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDisabled, id)
	}
	if !slices.ContainsFunc(el.opts, func(o cascade.Option) bool { return o.Value == value }) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s has no %q", ErrUnknownOption, id, value)
	}
	el.sel = value
	handlers := slices.Clone(f.listeners[id])
	f.mu.Unlock()

	for _, l := range handlers {
		l.handler(value)
	}
	f.changed()
	return nil
}

// State returns a snapshot of element id.
func (f *Form) State(id string) (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	el, ok := f.elements[id]
	if !ok {
		return State{}, false
	}
	return State{ID: id, Options: slices.Clone(el.opts), Selection: el.sel, Enabled: el.enabled}, true
}

func (f *Form) changed() {
	f.mu.Lock()
	hooks := slices.Clone(f.updates)
	f.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

type element struct {
	form    *Form
	id      string
	opts    []cascade.Option
	sel     string
	enabled bool
}

func (e *element) Selection() string {
	e.form.mu.Lock()
	defer e.form.mu.Unlock()
	return e.sel
}

func (e *element) SetSelection(value string) {
	e.form.mu.Lock()
	e.sel = value
	e.form.mu.Unlock()
	e.form.changed()
}

func (e *element) SetEnabled(enabled bool) {
	e.form.mu.Lock()
	e.enabled = enabled
	e.form.mu.Unlock()
	e.form.changed()
}

func (e *element) SetOptions(opts []cascade.Option) {
	e.form.mu.Lock()
	e.opts = slices.Clone(opts)
	e.form.mu.Unlock()
	e.form.changed()
}
