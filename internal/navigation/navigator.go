package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/benvon/hospital-portal/internal/logger"
	"go.uber.org/zap"
)

const defaultMaxHops = 10

// benignRace is the message fragment of the known DOM-readiness race that
// can surface while a redirect is still rendering.
const benignRace = "parentNode"

var (
	// ErrNavigationSuperseded is returned when a newer navigation started first
	ErrNavigationSuperseded = errors.New("navigation superseded by a newer one")
	// ErrTooManyRedirects is returned when redirects do not settle
	ErrTooManyRedirects = errors.New("too many redirects")
)

// Location is a settled navigation
type Location struct {
	Route    Route
	Params   map[string]string
	FullPath string
}

// Hook runs after a navigation settles, e.g. to render the page
type Hook func(ctx context.Context, to Location) error

// NavigatorOptions configures a Navigator
type NavigatorOptions struct {
	MaxHops   int
	AfterEach Hook
	Logger    *zap.Logger
}

// Navigator resolves, guards and commits navigations
type Navigator struct {
	table     *Table
	guard     *Guard
	maxHops   int
	afterEach Hook
	logger    *zap.Logger

	seq     atomic.Uint64
	mu      sync.Mutex
	current Location
}

// NewNavigator creates a Navigator starting at an empty location
func NewNavigator(table *Table, guard *Guard, opts NavigatorOptions) *Navigator {
	n := &Navigator{
		table:     table,
		guard:     guard,
		maxHops:   opts.MaxHops,
		afterEach: opts.AfterEach,
		logger:    opts.Logger,
	}
	if n.maxHops <= 0 {
		n.maxHops = defaultMaxHops
	}
	if n.logger == nil {
		n.logger = zap.NewNop()
	}
	return n
}

// Current returns the last committed location
func (n *Navigator) Current() Location {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Navigate moves to fullPath, following static and guard redirects. If a
// newer navigation starts before this one settles, its result is discarded
// and ErrNavigationSuperseded is returned. The progress indicator started by
// the guard stays on until Navigate returns, AfterEach included.
func (n *Navigator) Navigate(ctx context.Context, fullPath string) (Location, error) {
	id := n.seq.Add(1)
	from := n.Current().FullPath

	var evaluated int
	defer func() {
		for range evaluated {
			n.guard.Settle()
		}
	}()

	loc, err := n.resolve(ctx, id, fullPath, from, &evaluated)
	if err != nil {
		n.logFailure(fullPath, err)
		return Location{}, err
	}

	if !n.commit(id, loc) {
		return Location{}, ErrNavigationSuperseded
	}
	n.logger.Debug("navigation_settled", zap.String("route", loc.Route.Name), zap.String("path", logger.SanitizePath(loc.FullPath)))

	if n.afterEach != nil {
		if err := n.afterEach(ctx, loc); err != nil && !n.benign(loc.FullPath, err) {
			n.logFailure(loc.FullPath, err)
			return loc, err
		}
	}
	return loc, nil
}

// resolve counts every guard evaluation in evaluated so the caller can settle
// them once the navigation is over
func (n *Navigator) resolve(ctx context.Context, id uint64, fullPath, from string, evaluated *int) (Location, error) {
	target := fullPath
	for hop := 0; hop <= n.maxHops; hop++ {
		if err := ctx.Err(); err != nil {
			return Location{}, err
		}
		if n.seq.Load() != id {
			return Location{}, ErrNavigationSuperseded
		}

		m, err := n.table.Resolve(target)
		if err != nil {
			return Location{}, err
		}
		if m.Route.Redirect != "" {
			target = m.Route.Redirect
			continue
		}

		*evaluated++
		d := n.guard.Evaluate(ctx, IntentFor(m, from))
		if d.Action == Allow {
			return Location{Route: m.Route, Params: m.Params, FullPath: m.FullPath}, nil
		}
		next, err := n.table.URL(d.Target, d.Query)
		if err != nil {
			return Location{}, err
		}
		target = next
	}
	return Location{}, fmt.Errorf("%w: %s", ErrTooManyRedirects, fullPath)
}

func (n *Navigator) commit(id uint64, loc Location) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.seq.Load() != id {
		return false
	}
	n.current = loc
	return true
}

// benign reports (and logs) the known DOM-readiness race
func (n *Navigator) benign(path string, err error) bool {
	if !strings.Contains(err.Error(), benignRace) {
		return false
	}
	n.logger.Debug("navigation_race_ignored", zap.String("path", logger.SanitizePath(path)))
	return true
}

func (n *Navigator) logFailure(path string, err error) {
	if errors.Is(err, ErrNavigationSuperseded) {
		return
	}
	n.logger.Error("navigation_error",
		zap.String("path", logger.SanitizePath(path)),
		zap.String("error", logger.SanitizeError(err)),
	)
}

// HardRedirect replaces the current location without consulting the guard
// and supersedes any navigation in flight. The transport's forced logout
// reaches it through an effects.RedirectFunc.
func (n *Navigator) HardRedirect(path string) {
	id := n.seq.Add(1)
	var (
		m   Match
		err error
	)
	for hop := 0; hop <= n.maxHops; hop++ {
		if m, err = n.table.Resolve(path); err != nil || m.Route.Redirect == "" {
			break
		}
		path = m.Route.Redirect
	}
	if err == nil && m.Route.Redirect != "" {
		err = ErrTooManyRedirects
	}
	if err != nil {
		n.logger.Error("hard_redirect_failed", zap.String("path", logger.SanitizePath(path)), zap.String("error", logger.SanitizeError(err)))
		return
	}
	n.commit(id, Location{Route: m.Route, Params: m.Params, FullPath: m.FullPath})
	n.logger.Info("hard_redirect", zap.String("path", logger.SanitizePath(m.FullPath)))
}
