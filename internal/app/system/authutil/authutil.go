// internal/app/system/authutil/authutil.go
// Package authutil provides centralized authentication field handling
// for user creation and editing.
package authutil

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - LoginID / loginID / login_id: The human-readable string users type to log in

import (
	"errors"
	"strings"
)

// EmailIsLoginMethods are auth methods where email IS the login identity
// (no separate Login ID field needed).
var EmailIsLoginMethods = map[string]bool{
	"google": true,
}

// EmailIsLogin returns true if the given auth method uses email as the login identity.
func EmailIsLogin(method string) bool {
	return EmailIsLoginMethods[method]
}

// AuthInput holds the raw input values for auth-related fields.
type AuthInput struct {
	Method   string
	LoginID  string
	Email    string
	Password string
	IsEdit   bool // If true, password is optional (leave blank to keep existing)
}

// AuthResult holds the validated and processed auth fields ready for storage.
type AuthResult struct {
	EffectiveLoginID string  // The login_id to store (either LoginID or Email depending on method)
	Email            *string // Optional email (set if provided)
	PasswordHash     *string // bcrypt hash (set if password provided)
}

// Common validation errors
var (
	ErrEmailRequired    = errors.New("email is required for this authentication method")
	ErrInvalidEmail     = errors.New("invalid email address")
	ErrLoginIDRequired  = errors.New("login ID is required")
	ErrPasswordRequired = errors.New("password is required for password authentication")
)

// isValidEmail performs a basic email format validation.
// It checks for the presence of @ and at least one character on each side.
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	if len(parts[0]) == 0 {
		return false
	}
	// Domain must contain at least one dot after @
	domain := parts[1]
	dotIdx := strings.LastIndex(domain, ".")
	if dotIdx < 1 || dotIdx >= len(domain)-1 {
		return false
	}
	return true
}

// ValidateAndResolve validates the auth input based on the selected method
// and returns the resolved fields ready for storage.
func ValidateAndResolve(input AuthInput) (*AuthResult, error) {
	result := &AuthResult{}

	// Determine effective login ID based on auth method
	if EmailIsLogin(input.Method) {
		// For google: email is required and becomes login_id
		if input.Email == "" {
			return nil, ErrEmailRequired
		}
		if !isValidEmail(input.Email) {
			return nil, ErrInvalidEmail
		}
		result.EffectiveLoginID = input.Email
	} else {
		if input.LoginID == "" {
			return nil, ErrLoginIDRequired
		}
		result.EffectiveLoginID = input.LoginID
	}

	if input.Method == "password" && input.Password == "" && !input.IsEdit {
		return nil, ErrPasswordRequired
	}

	// Set optional email if provided (for non-email-login methods)
	if input.Email != "" {
		if !isValidEmail(input.Email) {
			return nil, ErrInvalidEmail
		}
		result.Email = &input.Email
	}

	if input.Method == "password" && input.Password != "" {
		hash, err := HashPassword(input.Password)
		if err != nil {
			return nil, err
		}
		result.PasswordHash = &hash
	}

	return result, nil
}
