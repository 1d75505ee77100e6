package daemon

import "github.com/cccc-dev/cccc/internal/group"

// Caller roles derived from `by` at dispatch time.
const (
	callerUser    = "user"
	callerForeman = "foreman"
	callerPeer    = "peer"
	callerUnknown = "unknown"
)

// callerRole classifies `by` against the group's actor list. Any id that is
// not an actor counts as a human user.
func callerRole(g *group.Group, by string) string {
	if g == nil || g.ActorByID(by) == nil {
		return callerUser
	}
	if g.EffectiveRole(by) == group.RoleForeman {
		return callerForeman
	}
	return callerPeer
}

// foremanOps are the group-level ops the foreman may run in addition to
// actor management.
var foremanOps = map[string]bool{
	"group_start":        true,
	"group_stop":         true,
	"group_update":       true,
	"group_detach_scope": true,
	"group_delete":       true,
	"group_set_state":    true,
}

// readOnlyOps need no mutation rights.
var readOnlyOps = map[string]bool{
	"ping":            true,
	"groups":          true,
	"group_show":      true,
	"actor_list":      true,
	"ledger_snapshot": true,
	"context_get":     true,
}

// foremanActorOps are the lifecycle ops the foreman may run on any actor.
// Removal is deliberately absent: the foreman may only remove itself.
var foremanActorOps = map[string]bool{
	"actor_start":   true,
	"actor_stop":    true,
	"actor_restart": true,
}

// peerSelfOps are the ops a peer may run, and only on itself.
var peerSelfOps = map[string]bool{
	"actor_stop":    true,
	"actor_restart": true,
	"actor_remove":  true,
}

// checkPermission applies the caller matrix. targetActor is the actor id an
// op operates on, or "" when not applicable.
func checkPermission(g *group.Group, op, by, targetActor string) *Error {
	role := callerRole(g, by)
	if role == callerUser {
		return nil
	}
	if readOnlyOps[op] {
		return nil
	}
	// Config edits stay with humans regardless of role.
	if op == "actor_update" || op == "actor_set_role" {
		return E(CodePermissionDenied, "%s may not run %s", by, op)
	}
	// Any actor may read and advance its own inbox, nobody else's.
	if op == "inbox_list" || op == "inbox_mark_read" {
		if targetActor == by {
			return nil
		}
		return E(CodePermissionDenied, "%s may only read its own inbox", by)
	}
	switch role {
	case callerForeman:
		if foremanOps[op] || op == "actor_add" || foremanActorOps[op] {
			return nil
		}
		if op == "actor_remove" {
			if targetActor == by {
				return nil
			}
			return E(CodePermissionDenied, "%s may only remove itself", by)
		}
	case callerPeer:
		if peerSelfOps[op] && targetActor == by {
			return nil
		}
	}
	// Messaging ops are open to every group member.
	if op == "send" {
		return nil
	}
	return E(CodePermissionDenied, "%s may not run %s", by, op)
}
