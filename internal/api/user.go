// Package api wraps the backend endpoints the portal uses. Each call is a
// plain parameterized request through the transport pipeline.
package api

import (
	"context"
	"io"
	"net/http"

	"github.com/benvon/hospital-portal/internal/models"
	"github.com/benvon/hospital-portal/internal/transport"
)

// Doer is the transport surface the clients need
type Doer interface {
	Do(ctx context.Context, env transport.Envelope, out any) error
}

// UserClient calls the /user endpoints
type UserClient struct {
	doer Doer
}

// NewUserClient creates a UserClient
func NewUserClient(doer Doer) *UserClient {
	return &UserClient{doer: doer}
}

// Login exchanges phone and password for a token and the account profile
func (c *UserClient) Login(ctx context.Context, req models.LoginRequest) (*models.LoginResult, error) {
	var res models.LoginResult
	if err := c.doer.Do(ctx, transport.Envelope{Method: http.MethodPost, Path: "/user/login", Body: req}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Register creates an account without signing in
func (c *UserClient) Register(ctx context.Context, req models.RegisterRequest) error {
	return c.doer.Do(ctx, transport.Envelope{Method: http.MethodPost, Path: "/user/register", Body: req}, nil)
}

// Logout tells the backend to drop the current bearer
func (c *UserClient) Logout(ctx context.Context) error {
	return c.doer.Do(ctx, transport.Envelope{Method: http.MethodPost, Path: "/user/logout"}, nil)
}

// UserInfo fetches the profile of the current bearer
func (c *UserClient) UserInfo(ctx context.Context) (*models.UserProfile, error) {
	var p models.UserProfile
	if err := c.doer.Do(ctx, transport.Envelope{Method: http.MethodGet, Path: "/user/info"}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateUserInfo applies the non-nil fields of update to the profile
func (c *UserClient) UpdateUserInfo(ctx context.Context, update models.ProfileUpdate) error {
	return c.doer.Do(ctx, transport.Envelope{Method: http.MethodPut, Path: "/user/info", Body: update}, nil)
}

// ChangePassword replaces the password after checking the old one
func (c *UserClient) ChangePassword(ctx context.Context, req models.PasswordChange) error {
	return c.doer.Do(ctx, transport.Envelope{Method: http.MethodPut, Path: "/user/password", Body: req}, nil)
}

// UploadAvatar posts the image as multipart field "file" and returns its URL
func (c *UserClient) UploadAvatar(ctx context.Context, fileName string, content io.Reader) (string, error) {
	var url string
	err := c.doer.Do(ctx, transport.Envelope{
		Method:    http.MethodPost,
		Path:      "/user/avatar",
		Multipart: &transport.File{Field: "file", FileName: fileName, Content: content},
	}, &url)
	return url, err
}
