// Package apitest runs an in-process stand-in for the hospital directory
// backend so client packages can be exercised end to end in tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benvon/hospital-portal/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

// DefaultSecret signs tokens issued by the fake backend
var DefaultSecret = []byte("apitest-secret-please-do-not-use")

const (
	// AdminPhone / AdminPassword log in as an administrator
	AdminPhone    = "13800000000"
	AdminPassword = "admin123"
	// UserPhone / UserPassword log in as a regular user
	UserPhone    = "13900000000"
	UserPassword = "user1234"
)

// Override forces the response of one route
type Override struct {
	Status int           // HTTP status, defaults to 200
	Body   string        // raw response body
	Delay  time.Duration // sleep before answering
}

type account struct {
	password string
	profile  models.UserProfile
}

// Server is a fake backend listening on a loopback port
type Server struct {
	*httptest.Server

	secret    []byte
	ttl       time.Duration
	loginRate string

	mu        sync.Mutex
	accounts  map[string]*account
	overrides map[string]Override
	calls     map[string]int
	lastAuth  map[string]string
	nextID    int64
}

// Option configures a Server
type Option func(*Server)

// WithTokenTTL sets the lifetime of issued tokens
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) { s.ttl = ttl }
}

// WithLoginRate sets the login throttle in limiter notation, e.g. "2-M"
func WithLoginRate(rate string) Option {
	return func(s *Server) { s.loginRate = rate }
}

// NewServer starts a fake backend that is closed when the test ends
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		secret:    DefaultSecret,
		ttl:       time.Hour,
		loginRate: "1000-S",
		accounts:  make(map[string]*account),
		overrides: make(map[string]Override),
		calls:     make(map[string]int),
		lastAuth:  make(map[string]string),
		nextID:    100,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.AddAccount(AdminPhone, AdminPassword, models.UserProfile{ID: 1, Nickname: "Administrator", Roles: models.NewRoles("ADMIN", "user")})
	s.AddAccount(UserPhone, UserPassword, models.UserProfile{ID: 2, Nickname: "Patient", Roles: models.NewRoles("user")})

	handler, err := s.routes()
	if err != nil {
		t.Fatalf("apitest: build routes: %v", err)
	}
	s.Server = httptest.NewServer(handler)
	t.Cleanup(s.Close)
	return s
}

// BaseURL is the API root clients should be configured with
func (s *Server) BaseURL() string {
	return s.URL + "/api"
}

// AddAccount registers an account that can log in
func (s *Server) AddAccount(phone, password string, profile models.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile.Phone = phone
	if profile.Roles == nil {
		profile.Roles = models.NewRoles("user")
	}
	s.accounts[phone] = &account{password: password, profile: profile}
}

// Override forces the response of the route at path (relative to BaseURL)
func (s *Server) Override(path string, o Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[path] = o
}

// ClearOverride removes a forced response
func (s *Server) ClearOverride(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, path)
}

// Calls returns how many times path was requested
func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// LastAuthorization returns the Authorization header of the latest request to path
func (s *Server) LastAuthorization(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth[path]
}

// IssueToken signs a token for userID expiring at exp
func (s *Server) IssueToken(userID int64, phone string, exp time.Time) string {
	tok, err := IssueToken(s.secret, userID, phone, exp)
	if err != nil {
		panic(err)
	}
	return tok
}

// IssueToken signs an HS256 token shaped like the production backend's
func IssueToken(secret []byte, userID int64, phone string, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"userId": userID,
		"phone":  phone,
		"sub":    phone,
		"iat":    time.Now().Unix(),
		"exp":    exp.Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (s *Server) routes() (http.Handler, error) {
	r := mux.NewRouter()
	r.Use(otelmux.Middleware("hospital-api-stub"))

	rate, err := limiter.NewRateFromFormatted(s.loginRate)
	if err != nil {
		return nil, fmt.Errorf("invalid login rate: %w", err)
	}
	throttle := stdlibmw.NewMiddleware(limiter.New(memorystore.NewStore(), rate))

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/user/login", throttle.Handler(http.HandlerFunc(s.login))).Methods(http.MethodPost)
	api.HandleFunc("/user/register", s.register).Methods(http.MethodPost)
	api.HandleFunc("/user/logout", s.logout).Methods(http.MethodPost)
	api.HandleFunc("/user/info", s.authed(s.userInfo)).Methods(http.MethodGet)
	api.HandleFunc("/user/info", s.authed(s.updateUserInfo)).Methods(http.MethodPut)
	api.HandleFunc("/user/password", s.authed(s.changePassword)).Methods(http.MethodPut)
	api.HandleFunc("/user/avatar", s.authed(s.uploadAvatar)).Methods(http.MethodPost)
	api.HandleFunc("/hospital/list", s.hospitalList).Methods(http.MethodGet)
	api.HandleFunc("/admin/hospitals", s.authed(s.adminHospitals)).Methods(http.MethodGet)

	// wrapped outside the router so overrides also apply to unknown paths
	return s.record(r), nil
}

// record counts calls and applies overrides before routing
func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/api")

		s.mu.Lock()
		s.calls[path]++
		s.lastAuth[path] = r.Header.Get("Authorization")
		o, overridden := s.overrides[path]
		s.mu.Unlock()

		if !overridden {
			next.ServeHTTP(w, r)
			return
		}
		if o.Delay > 0 {
			select {
			case <-time.After(o.Delay):
			case <-r.Context().Done():
				return
			}
		}
		status := o.Status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, o.Body)
	})
}

type principal struct {
	phone   string
	account *account
}

func (s *Server) authed(h func(http.ResponseWriter, *http.Request, principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeResult(w, http.StatusUnauthorized, 401, "Not logged in", nil)
			return
		}
		claims := jwt.MapClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return s.secret, nil },
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeResult(w, http.StatusUnauthorized, 401, "Login expired", nil)
			return
		}
		phone, _ := claims.GetSubject()

		s.mu.Lock()
		acct := s.accounts[phone]
		s.mu.Unlock()
		if acct == nil {
			writeResult(w, http.StatusUnauthorized, 401, "Account not found", nil)
			return
		}
		h(w, r, principal{phone: phone, account: acct})
	}
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusOK, 400, "Invalid request body", nil)
		return
	}

	s.mu.Lock()
	acct := s.accounts[req.Phone]
	s.mu.Unlock()
	if acct == nil || acct.password != req.Password {
		writeResult(w, http.StatusOK, 400, "Incorrect phone number or password", nil)
		return
	}

	token, err := IssueToken(s.secret, acct.profile.ID, req.Phone, time.Now().Add(s.ttl))
	if err != nil {
		writeResult(w, http.StatusInternalServerError, 500, "Failed to issue token", nil)
		return
	}
	profile := acct.profile
	writeResult(w, http.StatusOK, 200, "success", models.LoginResult{Token: token, UserInfo: &profile})
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusOK, 400, "Invalid request body", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Phone]; exists {
		writeResult(w, http.StatusOK, 409, "Phone number already registered", nil)
		return
	}
	s.nextID++
	s.accounts[req.Phone] = &account{
		password: req.Password,
		profile:  models.UserProfile{ID: s.nextID, Phone: req.Phone, Nickname: req.Nickname, Roles: models.NewRoles("user")},
	}
	writeResult(w, http.StatusOK, 0, "registered", nil)
}

func (s *Server) logout(w http.ResponseWriter, _ *http.Request) {
	writeResult(w, http.StatusOK, 200, "success", nil)
}

func (s *Server) userInfo(w http.ResponseWriter, _ *http.Request, p principal) {
	s.mu.Lock()
	profile := p.account.profile
	s.mu.Unlock()
	writeResult(w, http.StatusOK, 200, "success", profile)
}

func (s *Server) updateUserInfo(w http.ResponseWriter, r *http.Request, p principal) {
	var req models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusOK, 400, "Invalid request body", nil)
		return
	}
	s.mu.Lock()
	if req.Nickname != nil {
		p.account.profile.Nickname = *req.Nickname
	}
	if req.Email != nil {
		p.account.profile.Email = req.Email
	}
	if req.Gender != nil {
		p.account.profile.Gender = req.Gender
	}
	s.mu.Unlock()
	writeResult(w, http.StatusOK, 200, "success", nil)
}

func (s *Server) changePassword(w http.ResponseWriter, r *http.Request, p principal) {
	var req models.PasswordChange
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusOK, 400, "Invalid request body", nil)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.account.password != req.OldPassword {
		writeResult(w, http.StatusOK, 400, "Old password is incorrect", nil)
		return
	}
	p.account.password = req.NewPassword
	writeResult(w, http.StatusOK, 200, "success", nil)
}

func (s *Server) uploadAvatar(w http.ResponseWriter, r *http.Request, p principal) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeResult(w, http.StatusOK, 400, "Missing file", nil)
		return
	}
	defer func() { _ = file.Close() }()
	if _, err := io.Copy(io.Discard, file); err != nil {
		writeResult(w, http.StatusOK, 400, "Failed to read file", nil)
		return
	}

	url := fmt.Sprintf("/uploads/avatar/%d/%s", p.account.profile.ID, header.Filename)
	s.mu.Lock()
	p.account.profile.Avatar = url
	s.mu.Unlock()
	writeResult(w, http.StatusOK, 200, "success", url)
}

func (s *Server) hospitalList(w http.ResponseWriter, r *http.Request) {
	pageNum, _ := strconv.Atoi(r.URL.Query().Get("pageNum"))
	if pageNum < 1 {
		pageNum = 1
	}
	all := []models.Hospital{
		{ID: 1, Name: "Peking Union Medical College Hospital", Level: "3A", City: "Beijing"},
		{ID: 2, Name: "West China Hospital", Level: "3A", City: "Chengdu"},
		{ID: 3, Name: "Ruijin Hospital", Level: "3A", City: "Shanghai"},
	}
	keyword := strings.ToLower(r.URL.Query().Get("keyword"))
	list := make([]models.Hospital, 0, len(all))
	for _, h := range all {
		if keyword == "" || strings.Contains(strings.ToLower(h.Name), keyword) {
			list = append(list, h)
		}
	}
	writeResult(w, http.StatusOK, 200, "success", models.PageResult[models.Hospital]{
		Total: int64(len(list)), PageNum: pageNum, PageSize: 10, Pages: 1, List: list,
	})
}

func (s *Server) adminHospitals(w http.ResponseWriter, r *http.Request, p principal) {
	if !p.account.profile.IsAdmin() {
		writeResult(w, http.StatusForbidden, 403, "Forbidden", nil)
		return
	}
	s.hospitalList(w, r)
}

func writeResult(w http.ResponseWriter, status, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"code":    code,
		"message": message,
		"data":    data,
	})
}
