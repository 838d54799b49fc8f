package provision

import "fmt"

// ValidationError rejects bad input before any network call is issued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid request: " + e.Reason
}

// DuplicateError rejects provisioning when the email or Discord identity is
// already bound to a directory account. Field is "email" or "discordid".
type DuplicateError struct {
	Field string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate %s: already associated with an account", e.Field)
}

// PasswordSetError reports that the user record was created but its password
// could not be set. The account is left in place without a usable secret;
// there is deliberately no automatic rollback (see DESIGN.md).
type PasswordSetError struct {
	UserID string
	Err    error
}

func (e *PasswordSetError) Error() string {
	return fmt.Sprintf("account %q created but password could not be set: %v", e.UserID, e.Err)
}

func (e *PasswordSetError) Unwrap() error { return e.Err }
