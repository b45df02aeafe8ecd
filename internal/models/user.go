package models

import (
	"encoding/json"
	"sort"
	"strings"
)

// Role is a normalized (lower-case) role name
type Role string

const (
	// RoleAdmin grants access to the management pages
	RoleAdmin Role = "admin"
	// RoleUser is the default role assigned on registration
	RoleUser Role = "user"
)

// ParseRole normalizes a role name coming off the wire
func ParseRole(name string) Role {
	return Role(strings.ToLower(strings.TrimSpace(name)))
}

// Roles is a set of roles. It serializes as a JSON array of strings.
type Roles map[Role]struct{}

// NewRoles builds a role set from raw names, dropping blanks
func NewRoles(names ...string) Roles {
	roles := make(Roles, len(names))
	for _, name := range names {
		if r := ParseRole(name); r != "" {
			roles[r] = struct{}{}
		}
	}
	return roles
}

// Has reports membership, ignoring case
func (r Roles) Has(role Role) bool {
	_, ok := r[ParseRole(string(role))]
	return ok
}

// Names returns the sorted role names
func (r Roles) Names() []string {
	names := make([]string, 0, len(r))
	for role := range r {
		names = append(names, string(role))
	}
	sort.Strings(names)
	return names
}

// MarshalJSON implements json.Marshaler
func (r Roles) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Names())
}

// UnmarshalJSON implements json.Unmarshaler
func (r *Roles) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*r = NewRoles(names...)
	return nil
}

// UserProfile is the cached profile of the logged-in user
type UserProfile struct {
	ID       int64   `json:"id"`
	Phone    string  `json:"phone,omitempty"`
	Nickname string  `json:"nickname,omitempty"`
	Avatar   string  `json:"avatar,omitempty"`
	Email    *string `json:"email,omitempty"`
	Gender   *int    `json:"gender,omitempty"`
	Roles    Roles   `json:"roles"`
}

// DisplayName returns the nickname, falling back to a generic label
func (p *UserProfile) DisplayName() string {
	if p == nil || p.Nickname == "" {
		return "User"
	}
	return p.Nickname
}

// IsAdmin reports whether the profile carries the admin role
func (p *UserProfile) IsAdmin() bool {
	return p != nil && p.Roles.Has(RoleAdmin)
}
