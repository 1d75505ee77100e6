// Package daemon implements the single-writer kernel process: the Unix
// socket server, op dispatch with permissions, startup/shutdown lifecycle,
// and the client wrapper.
package daemon

import "fmt"

// Stable error codes; clients and bridges match on these, never on message
// text.
const (
	CodeMissingGroupID  = "missing_group_id"
	CodeMissingActorID  = "missing_actor_id"
	CodeMissingEventID  = "missing_event_id"
	CodeMissingPath     = "missing_path"
	CodeMissingText     = "missing_text"
	CodeInvalidRequest  = "invalid_request"
	CodeInvalidTemplate = "invalid_template"
	CodeInvalidScope    = "invalid_scope"
	CodeInvalidCommand  = "invalid_command"

	CodeGroupNotFound    = "group_not_found"
	CodeActorNotFound    = "actor_not_found"
	CodeEventNotFound    = "event_not_found"
	CodeSessionNotFound  = "session_not_found"
	CodeScopeNotAttached = "scope_not_attached"

	CodeActorAlreadyRunning = "actor_already_running"
	CodeActorNotRunning     = "actor_not_running"
	CodeGroupStartFailed    = "group_start_failed"
	CodeGroupStopFailed     = "group_stop_failed"
	CodeActorAddFailed      = "actor_add_failed"
	CodeActorRemoveFailed   = "actor_remove_failed"
	CodeActorUpdateFailed   = "actor_update_failed"
	CodeActorStartFailed    = "actor_start_failed"
	CodeActorStopFailed     = "actor_stop_failed"

	CodePermissionDenied = "permission_denied"

	CodeDaemonUnavailable    = "daemon_unavailable"
	CodeInvalidProjectRoot   = "invalid_project_root"
	CodeLedgerCompactFailed  = "ledger_compact_failed"
	CodeLedgerSnapshotFailed = "ledger_snapshot_failed"
)

// Error is the wire error shape inside a response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// E builds a wire error.
func E(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}
