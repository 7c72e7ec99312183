package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/parlorhq/parlor/internal/domain"
)

// ErrContentRequired rejects sends and edits with no content. The text
// is the websocket error surface for a message frame without content.
var ErrContentRequired = errors.New("Missing content field")

// PermissionError carries the caller-facing text for an operation the
// caller's role or ownership does not allow. Handlers map it to 403.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string { return e.Reason }

// ValidationError rejects a request whose referenced state makes it
// unprocessable. Handlers map it to 400.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnprocessableError rejects a request body that parses but violates a
// field constraint. Handlers map it to 422.
type UnprocessableError struct {
	Reason string
}

func (e *UnprocessableError) Error() string { return e.Reason }

// NotFoundError reports a missing entity referenced by a request.
// Handlers map it to 404.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ConflictError reports a uniqueness violation. Handlers map it to 409.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

func errRoomSendDenied(role domain.Role) error {
	return &PermissionError{Reason: fmt.Sprintf("Role '%s' does not have permission to send room messages", role)}
}

func errDirectSendDenied(role domain.Role) error {
	return &PermissionError{Reason: fmt.Sprintf("Role '%s' does not have permission to send direct messages", role)}
}

func errViewerRecipient(username string) error {
	return &ValidationError{Reason: fmt.Sprintf("Cannot send messages to viewer user %s", username)}
}

func errBotRecipient(username string) error {
	return &ValidationError{Reason: fmt.Sprintf("Cannot send messages to bot user %s", username)}
}

func errUsernameTaken(username string) error {
	return &ConflictError{Reason: fmt.Sprintf("Username %s already exists", username)}
}

func errInvalidLogo() error {
	return &UnprocessableError{Reason: fmt.Sprintf("Logo must be one of: %s", strings.Join(domain.AvailableLogos, ", "))}
}

func errInvalidRole(name string) error {
	roles := make([]string, 0, len(domain.ValidRoles()))
	for _, r := range domain.ValidRoles() {
		roles = append(roles, string(r))
	}
	return &UnprocessableError{Reason: fmt.Sprintf("Invalid role '%s'. Valid roles: %s", name, strings.Join(roles, ", "))}
}
