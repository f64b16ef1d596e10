package auth

// Scopes an operator token can carry
const (
	ScopeRead       = "engine:read"
	ScopeZonesWrite = "zones:write"
	ScopePolicies   = "policies:write"
)

// Scopes lists every scope a token may carry
func Scopes() []string {
	return []string{ScopeRead, ScopeZonesWrite, ScopePolicies}
}

// ValidScope reports whether scope is one of Scopes
func ValidScope(scope string) bool {
	for _, s := range Scopes() {
		if s == scope {
			return true
		}
	}
	return false
}

// OperatorClaims identifies the operator behind an API token
type OperatorClaims struct {
	Operator string   `json:"operator"`
	Scopes   []string `json:"scopes"`
}

// HasScope reports whether the claims grant scope
func (c OperatorClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// AuthError is returned to API clients as {"error": Code, "message": Message}
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidToken = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrForbidden    = AuthError{Code: "FORBIDDEN", Message: "access forbidden"}
)
