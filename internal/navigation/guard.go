package navigation

import (
	"context"
	"fmt"
	"net/url"

	"github.com/benvon/hospital-portal/internal/effects"
	"github.com/benvon/hospital-portal/internal/logger"
	"github.com/benvon/hospital-portal/internal/metrics"
	"go.uber.org/zap"
)

// Action is what the guard tells the navigator to do
type Action int

const (
	// Allow lets the navigation proceed to its target
	Allow Action = iota
	// Redirect sends the navigation to Decision.Target instead
	Redirect
)

func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "allow"
}

// Intent is one navigation attempt
type Intent struct {
	Target        string // route name
	FullPath      string
	Title         string
	RequiresAuth  bool
	RequiresAdmin bool
	From          string // full path of the current location
}

// IntentFor builds the intent of navigating from `from` to m
func IntentFor(m Match, from string) Intent {
	return Intent{
		Target:        m.Route.Name,
		FullPath:      m.FullPath,
		Title:         m.Route.Title,
		RequiresAuth:  m.Route.RequiresAuth,
		RequiresAdmin: m.Route.RequiresAdmin,
		From:          from,
	}
}

// Decision is the guard's verdict. For Redirect, Target names the route to
// go to and Query carries its parameters.
type Decision struct {
	Action Action
	Target string
	Query  url.Values
	Reason string
}

// Decide evaluates the navigation rules in order; the first match wins.
func Decide(in Intent, loggedIn, admin bool) Decision {
	toLogin := Decision{
		Action: Redirect,
		Target: RouteLogin,
		Query:  url.Values{RedirectParam: {in.FullPath}},
		Reason: "login_required",
	}

	switch {
	case in.RequiresAdmin && !loggedIn:
		return toLogin
	case in.RequiresAdmin && !admin:
		return Decision{Action: Redirect, Target: RouteHome, Reason: "admin_required"}
	case in.RequiresAdmin:
		return Decision{Action: Allow}
	case in.RequiresAuth && !loggedIn:
		return toLogin
	case in.RequiresAuth:
		return Decision{Action: Allow}
	case (in.Target == RouteLogin || in.Target == RouteRegister) && loggedIn:
		return Decision{Action: Redirect, Target: RouteHome, Reason: "already_logged_in"}
	default:
		return Decision{Action: Allow}
	}
}

// SessionView is the read side of the session manager
type SessionView interface {
	IsLoggedIn(ctx context.Context) bool
	IsAdmin(ctx context.Context) bool
}

// GuardOptions configures a Guard
type GuardOptions struct {
	AppTitle string
	Progress effects.Progress
	Titler   effects.Titler
	Metrics  *metrics.Recorder
	Logger   *zap.Logger
}

// Guard runs before every navigation. It never blocks navigation on its own
// failure: a panic while deciding is logged and the navigation is allowed.
type Guard struct {
	session  SessionView
	appTitle string
	progress effects.Progress
	titler   effects.Titler
	metrics  *metrics.Recorder
	logger   *zap.Logger
}

// NewGuard creates a Guard
func NewGuard(session SessionView, opts GuardOptions) *Guard {
	g := &Guard{
		session:  session,
		appTitle: opts.AppTitle,
		progress: opts.Progress,
		titler:   opts.Titler,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if g.progress == nil {
		g.progress = effects.NopProgress{}
	}
	if g.titler == nil {
		g.titler = effects.NopTitler{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}
	return g
}

// Evaluate starts the progress indicator and decides the intent. Every call
// must be paired with one Settle once the navigation settles.
func (g *Guard) Evaluate(ctx context.Context, in Intent) (d Decision) {
	g.progress.Start()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("navigation_guard_internal_error",
				zap.String("target", in.Target),
				zap.String("path", logger.SanitizePath(in.FullPath)),
				zap.String("panic", logger.SanitizeString(fmt.Sprint(r), 256)),
			)
			d = Decision{Action: Allow, Reason: "guard_error"}
		}
		g.metrics.Decision(d.Action.String(), in.Target)
	}()

	if in.Title != "" {
		g.titler.SetTitle(g.title(in.Title))
	}

	loggedIn := g.session.IsLoggedIn(ctx)
	admin := false
	if in.RequiresAdmin && loggedIn {
		admin = g.session.IsAdmin(ctx)
	}

	d = Decide(in, loggedIn, admin)
	if d.Action == Redirect {
		g.logger.Debug("navigation_redirected",
			zap.String("target", in.Target),
			zap.String("redirect_to", d.Target),
			zap.String("reason", d.Reason),
		)
	}
	return d
}

// Settle stops the progress indicator started by Evaluate
func (g *Guard) Settle() {
	g.progress.Done()
}

func (g *Guard) title(page string) string {
	if g.appTitle == "" {
		return page
	}
	return page + " - " + g.appTitle
}
