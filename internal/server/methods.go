package server

import (
	"context"
	"errors"
	"fmt"

	"toolgate/internal/engine"
	"toolgate/internal/permission"
	"toolgate/internal/protocol"
	"toolgate/internal/sandbox"
	"toolgate/internal/schema"
	"toolgate/internal/token"
	"toolgate/internal/tools"
)

func (s *Server) registerMethods() {
	s.dispatcher.Register("auth/token", s.handleAuthToken)
	s.dispatcher.Register("auth/refresh", s.handleAuthRefresh)
	s.dispatcher.Register("auth/revoke", s.handleAuthRevoke)
	s.dispatcher.Register("tools/list", s.handleToolsList)
	s.dispatcher.Register("tools/call", s.handleToolsCall)
}

// handleAuthToken exchanges a username/password pair for a token pair
// and binds the session to the credential identity. Every failure is a
// uniform -32100 on the wire; the audit trail keeps the real reason.
func (s *Server) handleAuthToken(_ context.Context, sess *protocol.Session, params map[string]any) (any, error) {
	username, _ := params["username"].(string)
	password, _ := params["password"].(string)
	if username == "" || password == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "username and password are required")
	}

	rec, err := s.clients.Authenticate(username, password)
	if err != nil {
		return nil, s.authFailed(username, err)
	}

	pair, err := s.minter.MintPair(rec.ClientID, rec.Username, rec.Roles)
	if err != nil {
		s.logger.Errorw("token minting failed", "username", username, "error", err)
		return nil, protocol.NewError(protocol.CodeInternalError, "")
	}
	if _, err := s.tokens.Create(pair, rec.ClientID, rec.Username); err != nil {
		s.logger.Errorw("token registry write failed", "username", username, "error", err)
		return nil, protocol.NewError(protocol.CodeInternalError, "")
	}

	sess.Authenticate(rec.ClientID, rec.Username)
	s.perms.EnsureClient(rec.ClientID)

	if err := s.auditLog.AuthSuccess(rec.ClientID, rec.Username); err != nil {
		s.logger.Errorw("audit append failed", "event", "auth_success", "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt("success")
		s.metrics.RecordTokenIssued()
	}
	s.logger.Infow("client authenticated", "client_id", rec.ClientID, "username", rec.Username)

	return map[string]any{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(s.minter.AccessTTL().Seconds()),
		"jti":           pair.JTI,
	}, nil
}

// authFailed audits the failure and returns the uniform wire error.
func (s *Server) authFailed(username string, err error) *protocol.Error {
	if auditErr := s.auditLog.AuthFailed(username, err.Error()); auditErr != nil {
		s.logger.Errorw("audit append failed", "event", "auth_failed", "error", auditErr)
	}
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt("failure")
	}
	s.logger.Warnw("authentication failed", "username", username, "error", err)
	return protocol.NewError(protocol.CodeAuthenticationFailed, "")
}

// handleAuthRefresh trades a live refresh token for a new access token.
// The minter must verify the token and the registry must still hold its
// unrevoked digest; either failing is the same -32100 to the caller.
func (s *Server) handleAuthRefresh(_ context.Context, _ *protocol.Session, params map[string]any) (any, error) {
	raw, _ := params["refresh_token"].(string)
	if raw == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "refresh_token is required")
	}

	claims, err := s.minter.VerifyRefresh(raw)
	if err != nil {
		return nil, s.authFailed("", err)
	}
	rec, err := s.tokens.Validate(raw, token.KindRefresh)
	if err != nil {
		return nil, s.authFailed(claims.Username, err)
	}

	access, expires, err := s.minter.Refresh(raw)
	if err != nil {
		return nil, s.authFailed(claims.Username, err)
	}
	if err := s.tokens.ReplaceAccess(rec.JTI, access, expires); err != nil {
		s.logger.Errorw("token registry update failed", "jti", rec.JTI, "error", err)
		return nil, protocol.NewError(protocol.CodeInternalError, "")
	}

	if err := s.auditLog.TokenRefreshed(rec.ClientID, rec.Username); err != nil {
		s.logger.Errorw("audit append failed", "event", "auth_token_refresh", "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenIssued()
	}

	return map[string]any{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   int(s.minter.AccessTTL().Seconds()),
	}, nil
}

// handleAuthRevoke kills a token pair by jti. Callers must be
// authenticated and may only revoke their own pairs.
func (s *Server) handleAuthRevoke(_ context.Context, sess *protocol.Session, params map[string]any) (any, error) {
	if !sess.IsAuthenticated() {
		return nil, protocol.NewError(protocol.CodeAuthorizationFailed, "Authentication required")
	}
	jti, _ := params["jti"].(string)
	if jti == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "jti is required")
	}

	rec, err := s.tokens.GetByJTI(jti)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound, "Unknown token: %s", jti)
	}
	if rec.ClientID != sess.ClientID() {
		s.logger.Warnw("revocation of foreign token refused",
			"caller", sess.ClientID(), "owner", rec.ClientID, "jti", jti)
		return nil, protocol.NewError(protocol.CodeAuthorizationFailed, "Token belongs to another client")
	}

	if err := s.tokens.Revoke(jti); err != nil {
		s.logger.Errorw("token revocation failed", "jti", jti, "error", err)
		return nil, protocol.NewError(protocol.CodeInternalError, "")
	}
	if err := s.auditLog.TokenRevoked(sess.ClientID(), jti); err != nil {
		s.logger.Errorw("audit append failed", "event", "auth_token_revoked", "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTokenRevoked()
	}
	s.logger.Infow("token revoked", "client_id", sess.ClientID(), "jti", jti)

	return map[string]any{"status": "revoked"}, nil
}

func (s *Server) handleToolsList(_ context.Context, sess *protocol.Session, _ map[string]any) (any, error) {
	return map[string]any{"tools": s.registry.InfoForClient(sess.ClientID())}, nil
}

// handleToolsCall resolves the tool and hands it to the orchestrator,
// then translates whatever failure class comes back into its wire code.
func (s *Server) handleToolsCall(ctx context.Context, sess *protocol.Session, params map[string]any) (any, error) {
	name, _ := params["name"].(string)
	if name == "" {
		return nil, protocol.NewError(protocol.CodeInvalidParams, "Missing tool name")
	}
	args, _ := params["arguments"].(map[string]any)

	tool, err := s.registry.Get(name)
	if err != nil {
		return nil, protocol.Errorf(protocol.CodeResourceNotFound, "Tool not found: %s", name)
	}

	// Unauthenticated sessions execute under their connection id with
	// the default grant set.
	s.perms.EnsureClient(sess.ClientID())

	caller := tools.Caller{ClientID: sess.ClientID(), Username: sess.Username()}
	result, err := s.orch.Execute(ctx, tool, caller, args)
	if err != nil {
		return nil, toWireError(err)
	}
	return result, nil
}

// toWireError maps an orchestrator failure onto its protocol envelope.
func toWireError(err error) *protocol.Error {
	var verr *schema.ValidationError
	var denied *permission.DeniedError

	switch {
	case errors.As(err, &verr):
		return protocol.NewError(protocol.CodeInvalidParams, "Validation failed").
			WithData(map[string]any{"fields": verr.Fields})
	case errors.As(err, &denied):
		return protocol.Errorf(protocol.CodePermissionDenied, "Permission denied: %s", denied.Required.String())
	case errors.Is(err, permission.ErrDenied):
		return protocol.NewError(protocol.CodePermissionDenied, "")
	case errors.Is(err, engine.ErrTimeout):
		return protocol.ExecutionError(protocol.KindTimeout, err.Error())
	case errors.Is(err, sandbox.ErrQuota):
		return protocol.ExecutionError(protocol.KindQuota, err.Error())
	case errors.Is(err, engine.ErrCrashed):
		return protocol.ExecutionError(protocol.KindCrashed, err.Error())
	default:
		return protocol.ExecutionError(protocol.KindInternal, fmt.Sprintf("Execution failed: %v", err))
	}
}
