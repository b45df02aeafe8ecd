package models

// LoginRequest is the payload posted to the login endpoint
type LoginRequest struct {
	Phone    string `json:"phone" validate:"required,phone"`
	Password string `json:"password" validate:"required,min=6,max=64"`
}

// LoginResult is the data returned by a successful login
type LoginResult struct {
	Token    string       `json:"token"`
	UserInfo *UserProfile `json:"userInfo"`
}

// RegisterRequest is the payload posted to the register endpoint
type RegisterRequest struct {
	Phone            string `json:"phone" validate:"required,phone"`
	Password         string `json:"password" validate:"required,min=6,max=64"`
	Nickname         string `json:"nickname,omitempty" validate:"omitempty,max=32"`
	VerificationCode string `json:"verificationCode,omitempty"`
}

// ProfileUpdate is a partial profile update; nil fields are left untouched
type ProfileUpdate struct {
	Nickname *string `json:"nickname,omitempty" validate:"omitempty,min=1,max=32"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Gender   *int    `json:"gender,omitempty" validate:"omitempty,oneof=0 1 2"`
}

// PasswordChange is the payload for changing the current password
type PasswordChange struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=6,max=64,nefield=OldPassword"`
}
