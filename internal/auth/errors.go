package auth

import "errors"

// Taxonomy of admission and authorization failures. Every *Error matches
// exactly one of these with errors.Is.
var (
	ErrAuthentication   = errors.New("authentication required")
	ErrAuthorization    = errors.New("access denied")
	ErrTenantRequired   = errors.New("security context required")
	ErrPaymentRequired  = errors.New("payment required")
	ErrAccountSuspended = errors.New("account suspended")
)

// Other sentinels used by stores and services.
var (
	ErrNotFound     = errors.New("auth: not found")
	ErrConflict     = errors.New("auth: already exists")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrTokenReused  = errors.New("auth: refresh token already used")
)

// Public error codes.
const (
	CodeAuthentication   = "AUTHENTICATION_REQUIRED"
	CodeAuthorization    = "FORBIDDEN"
	CodeTenantRequired   = "TENANT_REQUIRED"
	CodePaymentRequired  = "PAYMENT_REQUIRED"
	CodeAccountSuspended = "ACCOUNT_SUSPENDED"
)

// Error is a classified rejection. Message and Code are safe to show to
// clients; Reason is for logs only.
type Error struct {
	Kind    error
	Code    string
	Message string

	reason string
	cause  error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.Error()
}

// Is matches the taxonomy sentinel.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.cause }

// Reason returns the internal explanation, never sent to clients.
func (e *Error) Reason() string { return e.reason }

// Unauthenticated reports an unproven identity. The client always sees the
// same message regardless of reason.
func Unauthenticated(reason string, cause error) *Error {
	return &Error{Kind: ErrAuthentication, Code: CodeAuthentication, Message: "invalid or missing credentials", reason: reason, cause: cause}
}

// Forbidden reports insufficient rights or an unusable tenant claim.
func Forbidden(reason string) *Error {
	return &Error{Kind: ErrAuthorization, Code: CodeAuthorization, Message: "access denied", reason: reason}
}

// TenantRequired reports a check performed without a security context.
func TenantRequired(reason string) *Error {
	return &Error{Kind: ErrTenantRequired, Code: CodeTenantRequired, Message: "internal error", reason: reason}
}

// PaymentRequired reports a tenant whose subscription is suspended.
func PaymentRequired(reason string) *Error {
	return &Error{Kind: ErrPaymentRequired, Code: CodePaymentRequired, Message: "tenant subscription suspended, payment required", reason: reason}
}

// AccountSuspended reports a tenant blocked from access. message is public.
func AccountSuspended(message, reason string) *Error {
	return &Error{Kind: ErrAccountSuspended, Code: CodeAccountSuspended, Message: message, reason: reason}
}

// ReasonOf returns the internal reason of a classified error, or err.Error().
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.reason != "" {
			return e.reason
		}
		return e.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// CodeOf returns the public code of a classified error, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
