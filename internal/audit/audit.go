package audit

import (
	"context"

	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// Audit actions for the chat session lifecycle.
const (
	ActionConnect      = "chat.connect"
	ActionRejected     = "chat.connect_rejected"
	ActionDisconnect   = "chat.disconnect"
	ActionSendMessage  = "chat.send_message"
	ActionRateLimited  = "chat.rate_limited"
	ActionTokenExpired = "chat.token_expired"
	ActionEvicted      = "chat.evicted"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
	FieldDetail   = "detail"
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

// LogMessage records a message sent from userID to targetID.
func LogMessage(ctx context.Context, userID, targetID string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, ActionSendMessage).
		Str(log.FieldUserID, userID).
		Str(FieldTargetID, targetID).
		Msg("message sent")
}
