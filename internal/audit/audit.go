package audit

import (
	"context"

	"github.com/weiawesome/chat-sync/pkg/log"
)

// Audit actions for the gateway.
const (
	ActionConnect    = "chat.connect"
	ActionAuthFailed = "chat.auth_failed"
	ActionJoin       = "chat.join"
	ActionLeave      = "chat.leave"
	ActionSend       = "chat.send"
	ActionRead       = "chat.read"
	ActionDisconnect = "chat.disconnect"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
