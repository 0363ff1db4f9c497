// Package security carries the request-scoped security context
// (user_id, app_id, domain) through a call chain and applies
// ownership-based read/write filtering (spec §4.2 "security context").
package security

import "context"

// Headers are the canonical header names identity is read from at the HTTP
// boundary, mirroring the teacher's X-User-ID / X-Service-ID convention.
const (
	HeaderUserID = "X-User-ID"
	HeaderAppID  = "X-App-ID"
	HeaderDomain = "X-Domain"

	// HeaderDisableOwnership, set to "true", grants Admin for the request
	// (spec §6 External Interfaces): owner-based filtering is suppressed.
	HeaderDisableOwnership = "X-Disable-Ownership"
	// HeaderAllowCustomIds, set to "true", permits creating records with a
	// caller-supplied id (spec §6, seeding).
	HeaderAllowCustomIds = "X-Allow-Custom-Ids"
)

// Context is the security identity stamped onto every record an engine
// operation creates or updates (spec §4.2, §4.4).
type Context struct {
	UserID string
	AppID  string
	Domain string
	// Admin bypasses ownership-based read/write filtering entirely.
	Admin bool
	// AllowCustomIDs permits set_object to create a record under a
	// caller-supplied id even for non-system classes (spec §4.4 step 3).
	AllowCustomIDs bool
}

type contextKey struct{}

// WithContext returns a child context carrying sec.
func WithContext(ctx context.Context, sec Context) context.Context {
	return context.WithValue(ctx, contextKey{}, sec)
}

// FromContext extracts the security context, returning the zero value and
// false when none was stamped (anonymous/internal call).
func FromContext(ctx context.Context) (Context, bool) {
	sec, ok := ctx.Value(contextKey{}).(Context)
	return sec, ok
}

// UserID is a convenience accessor returning "" when absent.
func UserID(ctx context.Context) string {
	sec, _ := FromContext(ctx)
	return sec.UserID
}
