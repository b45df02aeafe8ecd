package navigation

import (
	"errors"
	"net/url"
	"testing"
)

func TestNewTable_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		routes []Route
	}{
		{name: "duplicate name", routes: []Route{{Name: "A", Path: "/a"}, {Name: "A", Path: "/b"}}},
		{name: "missing path", routes: []Route{{Name: "A"}}},
		{name: "missing name", routes: []Route{{Path: "/a"}}},
		{name: "unbalanced template", routes: []Route{{Name: "A", Path: "/a/{id"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewTable(tt.routes); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestTable_Resolve(t *testing.T) {
	t.Parallel()

	table, err := NewTable(DefaultRoutes())
	if err != nil {
		t.Fatalf("Failed to build default table: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		wantRoute string
		wantParam map[string]string
		wantFull  string
	}{
		{name: "root", path: "/", wantRoute: "Root", wantFull: "/"},
		{name: "empty path is root", path: "", wantRoute: "Root", wantFull: "/"},
		{name: "hospital detail", path: "/hospital/42", wantRoute: "HospitalDetail", wantParam: map[string]string{"id": "42"}, wantFull: "/hospital/42"},
		{name: "admin departments", path: "/admin/hospital/7/departments", wantRoute: "AdminDepartmentManage", wantParam: map[string]string{"hospitalId": "7"}, wantFull: "/admin/hospital/7/departments"},
		{name: "optional id absent", path: "/user/medical-history/edit", wantRoute: "MedicalHistoryNew", wantFull: "/user/medical-history/edit"},
		{name: "query preserved", path: "/search?keyword=heart", wantRoute: "SearchResult", wantFull: "/search?keyword=heart"},
		{name: "unknown path hits catch-all", path: "/no/such/page", wantRoute: "CatchAll", wantFull: "/no/such/page"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m, err := table.Resolve(tt.path)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if m.Route.Name != tt.wantRoute {
				t.Errorf("Expected route %s, got %s", tt.wantRoute, m.Route.Name)
			}
			if m.FullPath != tt.wantFull {
				t.Errorf("Expected full path %q, got %q", tt.wantFull, m.FullPath)
			}
			for k, v := range tt.wantParam {
				if m.Params[k] != v {
					t.Errorf("Expected param %s=%s, got %q", k, v, m.Params[k])
				}
			}
		})
	}
}

func TestTable_ResolveWithoutCatchAll(t *testing.T) {
	t.Parallel()

	table, err := NewTable([]Route{{Name: "A", Path: "/a"}})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := table.Resolve("/b"); !errors.Is(err, ErrNoRoute) {
		t.Errorf("Expected ErrNoRoute, got %v", err)
	}
}

func TestTable_URL(t *testing.T) {
	t.Parallel()

	table, err := NewTable(DefaultRoutes())
	if err != nil {
		t.Fatalf("Failed to build default table: %v", err)
	}

	tests := []struct {
		name    string
		route   string
		query   url.Values
		pairs   []string
		want    string
		wantErr bool
	}{
		{name: "static", route: RouteHome, want: "/home"},
		{name: "with params", route: "HospitalDetail", pairs: []string{"id", "5"}, want: "/hospital/5"},
		{name: "login with redirect", route: RouteLogin, query: url.Values{RedirectParam: {"/hospital/5"}}, want: "/login?redirect=%2Fhospital%2F5"},
		{name: "unknown route", route: "Nope", wantErr: true},
		{name: "missing param", route: "HospitalDetail", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := table.URL(tt.route, tt.query, tt.pairs...)
			if tt.wantErr {
				if err == nil {
					t.Error("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
