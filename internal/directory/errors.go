package directory

import (
	"fmt"
	"strings"
)

// APIError reports a directory API failure after the client's retry policy is
// exhausted: transport errors, non-2xx responses, or GraphQL-level errors.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("directory api error: status=%d message=%q", e.Status, e.Message)
}

// IsUnique reports whether the error is a uniqueness violation surfaced by
// the directory (duplicate user id, email or discordid attribute). LLDAP does
// not expose a structured error kind for this, so the classification lives
// here rather than at call sites.
func (e *APIError) IsUnique() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "unique constraint failed") ||
		strings.Contains(msg, "already exists")
}

// IsUniqueViolation reports whether err is an APIError for a uniqueness
// violation.
func IsUniqueViolation(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.IsUnique()
}
