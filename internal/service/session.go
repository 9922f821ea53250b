package service

import (
	"context"
	"errors"
	"time"

	"github.com/weiawesome/wes-match-chat/internal/audit"
	"github.com/weiawesome/wes-match-chat/internal/domain"
	"github.com/weiawesome/wes-match-chat/pkg/log"
)

// Result messages returned by Run.
const (
	ResultRejected = "Connection rejected."
	ResultClosed   = "Connection closed by server."
)

// Run supervises one connection of userID from registration to teardown and
// returns a short description of how the session ended. expiresAt bounds the
// session; the zero time means no deadline. It is checked when a frame
// arrives, not proactively.
func (m *Manager) Run(ctx context.Context, userID string, expiresAt time.Time, upgrade func() (Conn, error)) (string, error) {
	ctx = log.WithUserID(ctx, userID)
	l := log.Ctx(ctx)

	conn, err := m.Add(ctx, userID, upgrade)
	if err != nil {
		audit.LogWithDetail(ctx, audit.ActionRejected, userID, err.Error(), "connection rejected")
		return ResultRejected, err
	}
	audit.Log(ctx, audit.ActionConnect, userID, "user connected")

	for {
		raw, err := conn.Receive()
		if err != nil {
			if errors.Is(err, domain.ErrConnectionClosed) {
				l.Info().Err(err).Msg("client closed connection")
				return m.end(ctx, userID, conn, domain.CloseNormal, domain.ReasonNormalClosure), nil
			}
			if !m.RemoveConn(ctx, userID, conn, domain.CloseInternalError, domain.ReasonInternalError) {
				// already removed by the server, the read failed because of it
				return ResultClosed, nil
			}
			l.Error().Err(err).Msg("websocket read failed")
			audit.Log(ctx, audit.ActionDisconnect, userID, domain.ReasonInternalError)
			return domain.ReasonInternalError, err
		}

		if !m.limiter.Allow(userID) {
			audit.Log(ctx, audit.ActionRateLimited, userID, "rate limit exceeded")
			return m.end(ctx, userID, conn, domain.ClosePolicyViolation, domain.ReasonRateLimited), nil
		}
		m.Touch(ctx, userID)
		if !expiresAt.IsZero() && m.now().After(expiresAt) {
			audit.Log(ctx, audit.ActionTokenExpired, userID, "access token expired")
			return m.end(ctx, userID, conn, domain.ClosePolicyViolation, domain.ReasonTokenExpired), nil
		}

		p, err := domain.DecodePayload(raw)
		if err != nil {
			logInvalidPayload(ctx, err)
			continue
		}

		if err := m.Dispatch(ctx, userID, p); err != nil {
			l.Error().Err(err).Str(log.FieldPayloadType, string(p.Type)).Msg("dispatch failed")
			m.end(ctx, userID, conn, domain.CloseInternalError, domain.ReasonUnexpectedError)
			return domain.ReasonInternalError, err
		}
	}
}

// end removes conn with code and returns the session result.
func (m *Manager) end(ctx context.Context, userID string, conn Conn, code int, reason string) string {
	if !m.RemoveConn(ctx, userID, conn, code, reason) {
		return ResultClosed
	}
	audit.LogWithDetail(ctx, audit.ActionDisconnect, userID, reason, "user disconnected")
	return reason
}

func logInvalidPayload(ctx context.Context, err error) {
	l := log.Ctx(ctx)

	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		l.Warn().Err(err).Msg("invalid chat payload")
		return
	}
	for _, issue := range verr.Issues {
		l.Warn().Str(log.FieldField, issue.Field).Str(log.FieldReason, issue.Message).Msg("invalid chat payload")
	}
}
