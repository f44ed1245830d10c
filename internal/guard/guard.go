// Package guard identifies operations that must never be queued offline.
// Identity and credential changes have to be validated by the backend in a
// live round trip (e.g. "you cannot demote the last administrator"); a
// stale queued replay could violate that, so these operations fail fast
// while offline instead of entering the mutation queue.
package guard

import (
	"fmt"
)

// Operation names the write operations the application performs. The
// online-only set below is closed; anything outside it may be queued.
type Operation string

const (
	OpRegisterFirstUser   Operation = "register-first-user"
	OpRegisterInvitedUser Operation = "register-invited-user"
	OpCreateInvitation    Operation = "create-invitation"
	OpUpdateUserRole      Operation = "update-user-role"
	OpDeleteUser          Operation = "delete-user"
	OpUpdateUserName      Operation = "update-user-name"
)

// RequiresConnection reports whether the named operation needs a live
// connection. Unknown names, including the empty string, do not.
func RequiresConnection(name string) bool {
	switch Operation(name) {
	case OpRegisterFirstUser, OpRegisterInvitedUser, OpCreateInvitation,
		OpUpdateUserRole, OpDeleteUser, OpUpdateUserName:
		return true
	}
	return false
}

// RequiresConnectionError is returned when an online-only operation is
// attempted while offline. It is raised before any network or queue
// activity.
type RequiresConnectionError struct {
	Operation string
}

func (e *RequiresConnectionError) Error() string {
	return fmt.Sprintf("operation %q requires an active connection", e.Operation)
}

// AssertOnline returns a RequiresConnectionError iff the operation is
// online-only and the caller is offline.
func AssertOnline(name string, isOnline bool) error {
	if RequiresConnection(name) && !isOnline {
		return &RequiresConnectionError{Operation: name}
	}
	return nil
}
