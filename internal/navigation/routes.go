// Package navigation gates in-app navigation. A route table resolves paths,
// the guard decides whether a transition may proceed, and the navigator
// follows redirects until a navigation settles.
package navigation

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

// Well-known route names
const (
	RouteHome     = "Home"
	RouteLogin    = "Login"
	RouteRegister = "Register"
	RouteNotFound = "NotFound"
)

// RedirectParam carries the intended target through the login page
const RedirectParam = "redirect"

// ErrNoRoute is returned when no route matches a path
var ErrNoRoute = errors.New("no route matches path")

// Route is one entry of the route table
type Route struct {
	Name          string
	Path          string // gorilla/mux template, e.g. "/hospital/{id}"
	Title         string
	RequiresAuth  bool
	RequiresAdmin bool
	Redirect      string // static redirect applied before the guard runs
}

// DefaultRoutes is the portal's route map
func DefaultRoutes() []Route {
	return []Route{
		{Name: "Root", Path: "/", Redirect: "/home"},
		{Name: RouteHome, Path: "/home", Title: "Home"},
		{Name: "HospitalList", Path: "/hospital", Title: "Hospitals"},
		{Name: "HospitalDetail", Path: "/hospital/{id}", Title: "Hospital Details", RequiresAuth: true},
		{Name: "DoctorDetail", Path: "/doctor/{id}", Title: "Doctor Details", RequiresAuth: true},
		{Name: "SearchResult", Path: "/search", Title: "Search Results"},
		{Name: "Community", Path: "/community", Title: "Community"},
		{Name: "TopicList", Path: "/community/topics", Title: "Topics"},
		{Name: "TopicDetail", Path: "/community/topic/{id}", Title: "Topic"},
		{Name: "PublishTopic", Path: "/community/publish", Title: "New Topic", RequiresAuth: true},
		{Name: "BoardList", Path: "/community/boards", Title: "Boards"},
		{Name: "AdminHospitalList", Path: "/admin/hospitals", Title: "Hospital Management", RequiresAuth: true, RequiresAdmin: true},
		{Name: "AdminDepartmentManage", Path: "/admin/hospital/{hospitalId}/departments", Title: "Department Management", RequiresAuth: true, RequiresAdmin: true},
		{Name: "AdminDoctorManage", Path: "/admin/hospital/{hospitalId}/doctors", Title: "Doctor Management", RequiresAuth: true, RequiresAdmin: true},
		{Name: "User", Path: "/user", Redirect: "/user/center", RequiresAuth: true},
		{Name: "UserCenter", Path: "/user/center", Title: "My Account", RequiresAuth: true},
		{Name: "UserProfile", Path: "/user/profile", Title: "Profile", RequiresAuth: true},
		{Name: "MyCollection", Path: "/user/collection", Title: "Saved Items", RequiresAuth: true},
		{Name: "MyTopics", Path: "/user/topics", Title: "My Topics", RequiresAuth: true},
		{Name: "MedicalHistory", Path: "/user/medical-history", Title: "Medical History", RequiresAuth: true},
		{Name: "MedicalHistoryNew", Path: "/user/medical-history/edit", Title: "Edit Medical History", RequiresAuth: true},
		{Name: "MedicalHistoryEdit", Path: "/user/medical-history/edit/{id}", Title: "Edit Medical History", RequiresAuth: true},
		{Name: "QueryHistory", Path: "/user/query-history", Title: "Search History", RequiresAuth: true},
		{Name: "MyComments", Path: "/user/comments", Title: "My Comments", RequiresAuth: true},
		{Name: "Notifications", Path: "/user/notifications", Title: "Notifications", RequiresAuth: true},
		{Name: "Message", Path: "/message", Redirect: "/message/conversations", RequiresAuth: true},
		{Name: "ConversationList", Path: "/message/conversations", Title: "Messages", RequiresAuth: true},
		{Name: "ChatList", Path: "/message/chat", Title: "Chat", RequiresAuth: true},
		{Name: "Chat", Path: "/message/chat/{userId}", Title: "Chat", RequiresAuth: true},
		{Name: RouteLogin, Path: "/login", Title: "Log In"},
		{Name: RouteRegister, Path: "/register", Title: "Register"},
		{Name: RouteNotFound, Path: "/404", Title: "Page Not Found"},
		{Name: "ServerError", Path: "/500", Title: "Server Error"},
		{Name: "CatchAll", Path: "/{pathMatch:.*}", Redirect: "/404"},
	}
}

// Match is a resolved path
type Match struct {
	Route    Route
	Params   map[string]string
	Path     string
	Query    url.Values
	FullPath string // path plus encoded query
}

// Table resolves paths against an ordered route list; the first match wins
type Table struct {
	router *mux.Router
	routes map[string]Route
}

// NewTable builds a table. Route names must be unique.
func NewTable(routes []Route) (*Table, error) {
	t := &Table{
		router: mux.NewRouter(),
		routes: make(map[string]Route, len(routes)),
	}
	for _, r := range routes {
		if r.Name == "" || r.Path == "" {
			return nil, fmt.Errorf("route %q: name and path are required", r.Name)
		}
		if _, dup := t.routes[r.Name]; dup {
			return nil, fmt.Errorf("duplicate route name %q", r.Name)
		}
		mr := t.router.NewRoute().Path(r.Path).Name(r.Name)
		if err := mr.GetError(); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		t.routes[r.Name] = r
	}
	return t, nil
}

// Resolve matches fullPath (path with optional query) to a route
func (t *Table) Resolve(fullPath string) (Match, error) {
	u, err := url.Parse(fullPath)
	if err != nil {
		return Match{}, fmt.Errorf("invalid path %q: %w", fullPath, err)
	}
	if u.Path == "" {
		u.Path = "/"
	}

	var rm mux.RouteMatch
	if !t.router.Match(&http.Request{Method: http.MethodGet, URL: u}, &rm) || rm.Route == nil {
		return Match{}, fmt.Errorf("%w: %s", ErrNoRoute, u.Path)
	}

	m := Match{
		Route:    t.routes[rm.Route.GetName()],
		Params:   rm.Vars,
		Path:     u.Path,
		Query:    u.Query(),
		FullPath: u.Path,
	}
	if u.RawQuery != "" {
		m.FullPath += "?" + u.RawQuery
	}
	return m, nil
}

// Route returns the named route
func (t *Table) Route(name string) (Route, bool) {
	r, ok := t.routes[name]
	return r, ok
}

// URL builds the path of a named route. pairs are key/value route params.
func (t *Table) URL(name string, query url.Values, pairs ...string) (string, error) {
	mr := t.router.Get(name)
	if mr == nil {
		return "", fmt.Errorf("unknown route %q", name)
	}
	u, err := mr.URLPath(pairs...)
	if err != nil {
		return "", fmt.Errorf("route %q: %w", name, err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}
