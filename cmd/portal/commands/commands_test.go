package commands

import (
	"bytes"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/benvon/hospital-portal/internal/apitest"
	"github.com/benvon/hospital-portal/internal/config"
	"github.com/benvon/hospital-portal/internal/logger"
	"github.com/benvon/hospital-portal/internal/session"
	"github.com/benvon/hospital-portal/internal/transport"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type cli struct {
	server *apitest.Server
	cfg    config.Config
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	srv := apitest.NewServer(t)
	return &cli{
		server: srv,
		cfg: config.Config{
			APIBaseURL:        srv.BaseURL(),
			RequestTimeout:    2 * time.Second,
			CredentialBackend: config.BackendFile,
			CredentialFile:    filepath.Join(t.TempDir(), "credentials.yaml"),
			AppTitle:          "Hospital Finder",
			LoginPath:         "/login",
			LogFormat:         "console",
		},
	}
}

func (c *cli) run(args ...string) (string, string, error) {
	cfg := c.cfg
	cmd := NewRootCmd(func() (*config.Config, error) { return &cfg, nil })
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func (c *cli) loginAdmin(t *testing.T) {
	t.Helper()
	if _, _, err := c.run("login", "--phone", apitest.AdminPhone, "--password", apitest.AdminPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, _, err := c.run("login", "--phone", apitest.AdminPhone, "--password", apitest.AdminPassword)
	if err != nil {
		t.Fatalf("Unexpected login error: %v", err)
	}
	for _, want := range []string{"Logged in as Administrator", "Now at /home (Home - Hospital Finder)"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected login output to contain %q, got:\n%s", want, out)
		}
	}

	out, _, err = c.run("whoami")
	if err != nil {
		t.Fatalf("Unexpected whoami error: %v", err)
	}
	for _, want := range []string{"State:    logged_in", "User ID:  1", "Admin:    true", "Roles:    admin, user"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected whoami output to contain %q, got:\n%s", want, out)
		}
	}

	out, _, err = c.run("logout")
	if err != nil || !strings.Contains(out, "Logged out.") {
		t.Fatalf("Unexpected logout result: %v\n%s", err, out)
	}
	out, _, _ = c.run("whoami")
	if !strings.Contains(out, "State:    logged_out") {
		t.Errorf("Expected logged out state, got:\n%s", out)
	}
}

func TestLogin_Rejected(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	_, stderr, err := c.run("login", "--phone", apitest.UserPhone, "--password", "not-it-at-all")
	if !errors.Is(err, session.ErrAuthenticationFailed) {
		t.Fatalf("Expected ErrAuthenticationFailed, got %v", err)
	}
	if !strings.Contains(stderr, "Incorrect phone number or password") {
		t.Errorf("Expected server message on stderr, got %q", stderr)
	}
}

func TestLogin_RedirectsToRequestedPage(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, _, err := c.run("login", "--phone", apitest.AdminPhone, "--password", apitest.AdminPassword, "--redirect", "/admin/hospitals")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "Now at /admin/hospitals (Hospital Management - Hospital Finder)") {
		t.Errorf("Expected admin page, got:\n%s", out)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		loginAs bool
		path    string
		want    string
	}{
		{name: "protected page logged out", path: "/hospital/1", want: "Now at /login?redirect=%2Fhospital%2F1 (Log In - Hospital Finder)"},
		{name: "protected page logged in", loginAs: true, path: "/hospital/1", want: "Now at /hospital/1 (Hospital Details - Hospital Finder)"},
		{name: "login page logged in", loginAs: true, path: "/login", want: "Now at /home"},
		{name: "unknown page", path: "/nope", want: "Now at /404 (Page Not Found - Hospital Finder)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newCLI(t)
			if tt.loginAs {
				c.loginAdmin(t)
			}
			out, _, err := c.run("open", tt.path)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("Expected %q, got:\n%s", tt.want, out)
			}
		})
	}
}

func TestHospitals(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, _, err := c.run("hospitals", "--keyword", "west")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !strings.Contains(out, "West China Hospital") || strings.Contains(out, "Ruijin") {
		t.Errorf("Expected filtered list, got:\n%s", out)
	}
	if !strings.Contains(out, "1 total") {
		t.Errorf("Expected page summary, got:\n%s", out)
	}
}

func TestHospitals_AdminViewRequiresAdmin(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	if _, _, err := c.run("login", "--phone", apitest.UserPhone, "--password", apitest.UserPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	out, _, err := c.run("hospitals", "--admin")
	if err == nil {
		t.Fatal("Expected error for non-admin user")
	}
	if !strings.Contains(out, "Now at /home") {
		t.Errorf("Expected guard to send the user home, got:\n%s", out)
	}
	if n := c.server.Calls("/admin/hospitals"); n != 0 {
		t.Errorf("Expected no admin API call, got %d", n)
	}
}

func TestForcedLogoutOnUnauthorized(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	c.loginAdmin(t)
	c.server.Override("/hospital/list", apitest.Override{Status: http.StatusUnauthorized})

	_, stderr, err := c.run("hospitals")
	if !errors.Is(err, transport.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, got %v", err)
	}
	if !strings.Contains(stderr, transport.MsgSessionExpired) {
		t.Errorf("Expected session expired message, got %q", stderr)
	}

	out, _, _ := c.run("whoami")
	if !strings.Contains(out, "State:    logged_out") {
		t.Errorf("Expected credentials wiped, got:\n%s", out)
	}
}

func TestRefreshAndAvatar(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, _, err := c.run("refresh")
	if err != nil || !strings.Contains(out, "Not logged in.") {
		t.Fatalf("Expected not-logged-in notice, got %v\n%s", err, out)
	}
	if _, _, err := c.run("avatar", "missing.png"); !errors.Is(err, session.ErrNotLoggedIn) {
		t.Errorf("Expected ErrNotLoggedIn, got %v", err)
	}

	c.loginAdmin(t)
	out, _, err = c.run("refresh")
	if err != nil || !strings.Contains(out, "Profile refreshed for Administrator") {
		t.Fatalf("Unexpected refresh result: %v\n%s", err, out)
	}

	img := filepath.Join(t.TempDir(), "me.png")
	if err := os.WriteFile(img, []byte("png"), 0o600); err != nil {
		t.Fatalf("Failed to write image: %v", err)
	}
	out, _, err = c.run("avatar", img)
	if err != nil {
		t.Fatalf("Unexpected avatar error: %v", err)
	}
	if !strings.Contains(out, "Avatar updated: /uploads/avatar/1/me.png") {
		t.Errorf("Unexpected avatar output:\n%s", out)
	}
}

func TestRegisterAndPasswd(t *testing.T) {
	t.Parallel()
	c := newCLI(t)

	out, _, err := c.run("register", "--phone", "13500000000", "--password", "first-pass", "--nickname", "Newbie")
	if err != nil || !strings.Contains(out, "Account created.") {
		t.Fatalf("Unexpected register result: %v\n%s", err, out)
	}
	if _, _, err := c.run("login", "--phone", "13500000000", "--password", "first-pass"); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	out, _, err = c.run("passwd", "--old", "first-pass", "--new", "second-pass")
	if err != nil || !strings.Contains(out, "Password changed.") {
		t.Fatalf("Unexpected passwd result: %v\n%s", err, out)
	}
}

func TestMetricsDump(t *testing.T) {
	t.Parallel()
	c := newCLI(t)
	c.cfg.MetricsEnabled = true

	_, stderr, err := c.run("login", "--phone", apitest.AdminPhone, "--password", apitest.AdminPassword)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for _, want := range []string{
		"portal_session_transitions_total{event=login} 1",
		"portal_transport_outcomes_total{kind=success,reason=none} 1",
		"portal_navigation_decisions_total{action=allow,route=Home} 1",
	} {
		if !strings.Contains(stderr, want) {
			t.Errorf("Expected %q in metrics dump, got:\n%s", want, stderr)
		}
	}
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		format     string
		wantStderr string
		wantLogged int
	}{
		{name: "console prints plain lines", format: logger.FormatConsole, wantStderr: "error: Network error\n"},
		{name: "json keeps messages in the log", format: logger.FormatJSON, wantLogged: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			core, logs := observer.New(zapcore.InfoLevel)
			var buf bytes.Buffer

			newNotifier(tt.format, &buf, zap.New(core)).Error("Network error")

			if buf.String() != tt.wantStderr {
				t.Errorf("Expected stderr %q, got %q", tt.wantStderr, buf.String())
			}
			entries := logs.FilterMessage("user_notification").All()
			if len(entries) != tt.wantLogged {
				t.Fatalf("Expected %d user_notification entries, got %d", tt.wantLogged, len(entries))
			}
			if tt.wantLogged > 0 && entries[0].ContextMap()["message"] != "Network error" {
				t.Errorf("Expected message field, got %v", entries[0].ContextMap())
			}
		})
	}
}
