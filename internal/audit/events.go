package audit

import "fmt"

// Canonical event constructors. Keeping the message text in one place means
// operators can grep the journal by exact phrases.

// AuthSuccess records a completed authentication.
func (l *Log) AuthSuccess(clientID, username string) error {
	return l.Append(Entry{
		EventType: EventAuthSuccess,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Client %s authenticated", username),
	})
}

// AuthFailed records a failed authentication attempt with its reason.
func (l *Log) AuthFailed(username, reason string) error {
	return l.Append(Entry{
		EventType: EventAuthFailed,
		Username:  username,
		Status:    StatusFailure,
		Message:   fmt.Sprintf("Authentication failed for %s: %s", username, reason),
		Error:     reason,
	})
}

// TokenRefreshed records an access-token refresh.
func (l *Log) TokenRefreshed(clientID, username string) error {
	return l.Append(Entry{
		EventType: EventTokenRefresh,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Token refreshed for %s", username),
	})
}

// TokenRevoked records a revocation by jti.
func (l *Log) TokenRevoked(clientID, jti string) error {
	return l.Append(Entry{
		EventType: EventTokenRevoked,
		ClientID:  clientID,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Token revoked: %s", jti),
		Details:   map[string]any{"jti": jti},
	})
}

// ToolExecuted records one tool call outcome. Status is one of success,
// validation_error, timeout, or error. The caller's params are stored whole;
// result and errMsg are clipped before they reach the journal.
func (l *Log) ToolExecuted(clientID, username, tool, status string, durationMS int64, params map[string]any, result, errMsg string) error {
	details := map[string]any{
		"tool_name":   tool,
		"duration_ms": durationMS,
	}
	if params != nil {
		details["params"] = params
	}
	if result != "" {
		details["result"] = Clip(result, ResultClipLen)
	}
	return l.Append(Entry{
		EventType: EventToolExecuted,
		ClientID:  clientID,
		Username:  username,
		Status:    status,
		Message:   fmt.Sprintf("Tool executed: %s (%s)", tool, status),
		Error:     Clip(errMsg, ResultClipLen),
		Details:   details,
	})
}

// PermissionDenied records an authorization denial. The resource is the
// object the caller was after, usually the tool name.
func (l *Log) PermissionDenied(clientID, username, requiredPermission, resource string) error {
	return l.Append(Entry{
		EventType: EventPermissionDenied,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusDenied,
		Message:   fmt.Sprintf("Permission denied: %s", requiredPermission),
		Details: map[string]any{
			"resource":            resource,
			"required_permission": requiredPermission,
		},
	})
}

// ClientCreated records a credential registration.
func (l *Log) ClientCreated(clientID, username string) error {
	return l.Append(Entry{
		EventType: EventClientCreated,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Client created: %s", username),
	})
}

// ClientDeleted records a credential removal.
func (l *Log) ClientDeleted(clientID, username string) error {
	return l.Append(Entry{
		EventType: EventClientDeleted,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Client deleted: %s", username),
	})
}

// ClientDisabled records a credential being switched off.
func (l *Log) ClientDisabled(clientID, username string) error {
	return l.Append(Entry{
		EventType: EventClientDisabled,
		ClientID:  clientID,
		Username:  username,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Client disabled: %s", username),
	})
}

// CrossClientAccess records a permitted read or write outside the caller's
// own jail. The access succeeded; the event exists for traceability.
func (l *Log) CrossClientAccess(clientID, path string) error {
	return l.Append(Entry{
		EventType: EventCrossClientAccess,
		ClientID:  clientID,
		Status:    StatusSuccess,
		Message:   fmt.Sprintf("Cross-client access: %s", path),
		Details:   map[string]any{"path": path},
	})
}

// SystemError records a fault that has no better home.
func (l *Log) SystemError(clientID, message string, err error) error {
	entry := Entry{
		EventType: EventError,
		ClientID:  clientID,
		Status:    StatusFailure,
		Message:   message,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	return l.Append(entry)
}
