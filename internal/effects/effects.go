// Package effects holds the ambient side-effect collaborators shared by the
// navigation guard and the transport pipeline: the progress indicator, user
// notifications, the display title and the hard redirect.
package effects

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Progress is a busy indicator. Done without a matching Start is a no-op.
type Progress interface {
	Start()
	Done()
}

// Notifier shows short human-readable error messages to the user
type Notifier interface {
	Error(message string)
}

// Titler sets the display title of the current page
type Titler interface {
	SetTitle(title string)
}

// Redirector performs a hard redirect that bypasses in-app state
type Redirector interface {
	Redirect(path string)
}

// ProgressCounter is a reference-counted Progress. Overlapping requests and
// superseded navigations share one indicator; extra Done calls are ignored.
type ProgressCounter struct {
	active atomic.Int64
}

func (p *ProgressCounter) Start() {
	p.active.Add(1)
}

func (p *ProgressCounter) Done() {
	for {
		n := p.active.Load()
		if n <= 0 {
			return
		}
		if p.active.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Active reports whether any operation is still in flight
func (p *ProgressCounter) Active() bool {
	return p.active.Load() > 0
}

// WriterNotifier prints messages to a writer, typically stderr
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterNotifier creates a notifier writing to w
func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Error(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = fmt.Fprintf(n.w, "error: %s\n", message)
}

// LogNotifier forwards user messages to a zap logger, for structured output
// where a bare "error:" line would break log parsing
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Error(message string) {
	n.Logger.Warn("user_notification", zap.String("message", message))
}

// Title stores the current display title
type Title struct {
	mu    sync.RWMutex
	value string
}

func (t *Title) SetTitle(title string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.value = title
}

// Get returns the last title set
func (t *Title) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

// RedirectFunc adapts a function to Redirector
type RedirectFunc func(path string)

func (f RedirectFunc) Redirect(path string) { f(path) }

// Nop collaborators for callers that do not care
type (
	NopProgress   struct{}
	NopNotifier   struct{}
	NopTitler     struct{}
	NopRedirector struct{}
)

func (NopProgress) Start()            {}
func (NopProgress) Done()             {}
func (NopNotifier) Error(string)      {}
func (NopTitler) SetTitle(string)     {}
func (NopRedirector) Redirect(string) {}
