package audit

import (
	"context"

	"github.com/parlorhq/parlor/pkg/log"
)

// Audit actions.
const (
	ActionAuthFailed    = "chat.auth_failed"
	ActionConnect       = "chat.connect"
	ActionDisconnect    = "chat.disconnect"
	ActionSendMessage   = "chat.send_message"
	ActionRegister      = "chat.register"
	ActionCreateBot     = "chat.create_bot"
	ActionAssignRole    = "chat.assign_role"
	ActionAdminUpdate   = "chat.admin_update_user"
	ActionAdminDelete   = "chat.admin_delete_user"
	ActionUpdateMessage = "chat.admin_update_message"
	ActionDeleteMessage = "chat.delete_message"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, username string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Msg(msg)
}

// LogWithTarget emits an audit log naming the acted-on entity.
func LogWithTarget(ctx context.Context, action string, username string, targetID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(FieldTargetID, targetID).
		Msg(msg)
}

// LogWithDetail emits an audit log with an extra detail field.
func LogWithDetail(ctx context.Context, action string, username string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUsername, username).
		Str(FieldDetail, detail).
		Msg(msg)
}
