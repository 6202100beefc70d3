// internal/domain/models/authmethods.go
package models

// AuthMethod represents a supported authentication method.
type AuthMethod struct {
	Value string // The value stored in the database
	Label string // The display label
}

// AllAuthMethods contains all supported auth methods with their display labels.
var AllAuthMethods = []AuthMethod{
	{Value: "password", Label: "Password"},
	{Value: "google", Label: "Google"},
}

// IsValidAuthMethod checks if a value is a valid auth method.
func IsValidAuthMethod(value string) bool {
	for _, m := range AllAuthMethods {
		if m.Value == value {
			return true
		}
	}
	return false
}
