package cascade

import "context"

// Element is the part of a UI control the controller drives.
type Element interface {
	Selection() string
	SetSelection(value string)
	SetEnabled(enabled bool)
	SetOptions(opts []Option)
}

// Disposer removes a registration. Calling it more than once is harmless.
type Disposer func()

// Surface resolves elements by id and delivers their change events.
type Surface interface {
	Element(id string) (Element, error)
	Listen(id string, handler func(value string)) (Disposer, error)
}

// Notifier shows a user-visible message.
type Notifier interface {
	Notify(msg string)
}

// Request is one option fetch.
type Request struct {
	// Path is the rendered, percent-encoded request path.
	Path string
	// Keys lists the JSON object members that may carry an option label.
	Keys []string
}

// Fetcher loads the options for a request. Implementations normalise the
// response envelope; the returned slice is in backend order.
type Fetcher interface {
	FetchOptions(ctx context.Context, req Request) ([]Option, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req Request) ([]Option, error)

func (f FetcherFunc) FetchOptions(ctx context.Context, req Request) ([]Option, error) {
	return f(ctx, req)
}
