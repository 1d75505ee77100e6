package daemon

import "net"

// commonArgs are the fields shared by most ops; used for permission checks
// before the handler runs.
type commonArgs struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
	By      string `json:"by"`
}

// opsWithoutGroupContext run before any group is resolved.
var opsWithoutGroupContext = map[string]bool{
	"ping":         true,
	"shutdown":     true,
	"attach":       true,
	"group_create": true,
	"groups":       true,
}

func (s *Server) handleConn(conn net.Conn) {
	hijacked := false
	defer func() {
		if !hijacked {
			conn.Close()
		}
	}()
	r := newFrameReader(conn)
	for {
		var req Request
		if err := readFrame(r, &req); err != nil {
			return
		}

		if req.Op == "term_attach" {
			sess, e := s.opTermAttach(req.Args)
			resp := Response{V: 1, OK: e == nil, Error: e}
			if writeErr := writeFrame(conn, resp); writeErr != nil {
				return
			}
			if e != nil {
				continue
			}
			// The session owns the connection from here: raw bytes both
			// ways, no more JSON frames.
			if err := sess.Attach(conn); err != nil {
				conn.Close()
			}
			hijacked = true
			return
		}

		result, e := s.dispatch(&req)
		resp := Response{V: 1, OK: e == nil, Error: e}
		if e == nil {
			resp.Result, e = okResult(result)
			if e != nil {
				resp.OK = false
				resp.Error = e
				resp.Result = nil
			}
		}
		if err := writeFrame(conn, resp); err != nil {
			return
		}
		if req.Op == "shutdown" && resp.OK {
			s.Shutdown()
			return
		}
	}
}

func (s *Server) dispatch(req *Request) (any, *Error) {
	var common commonArgs
	if e := decodeArgs(req.Args, &common); e != nil {
		return nil, e
	}

	if !opsWithoutGroupContext[req.Op] {
		if g, e := s.loadGroup(common.GroupID); e == nil {
			if pe := checkPermission(g, req.Op, common.By, common.ActorID); pe != nil {
				return nil, pe
			}
		} else if common.GroupID == "" {
			return nil, e
		}
	}

	switch req.Op {
	case "ping":
		return s.opPing()
	case "shutdown":
		s.logger.Printf("shutdown requested by %q", common.By)
		return map[string]any{"stopping": true}, nil
	case "attach":
		return s.opAttach(req.Args)
	case "group_create":
		return s.opGroupCreate(req.Args)
	case "group_update":
		return s.opGroupUpdate(req.Args)
	case "group_show":
		return s.opGroupShow(req.Args)
	case "group_delete":
		return s.opGroupDelete(req.Args)
	case "group_detach_scope":
		return s.opGroupDetachScope(req.Args)
	case "group_use":
		return s.opGroupUse(req.Args)
	case "groups":
		return s.opGroups()
	case "group_start":
		return s.opGroupStart(req.Args)
	case "group_stop":
		return s.opGroupStop(req.Args)
	case "group_set_state":
		return s.opGroupSetState(req.Args)
	case "actor_list":
		return s.opActorList(req.Args)
	case "actor_add":
		return s.opActorAdd(req.Args)
	case "actor_remove":
		return s.opActorRemove(req.Args)
	case "actor_update":
		return s.opActorUpdate(req.Args)
	case "actor_start":
		return s.opActorStart(req.Args)
	case "actor_stop":
		return s.opActorStop(req.Args)
	case "actor_restart":
		return s.opActorRestart(req.Args)
	case "actor_set_role":
		// Roles are positional; kept for old clients.
		return map[string]any{"ignored": true}, nil
	case "term_resize":
		return s.opTermResize(req.Args)
	case "inbox_list":
		return s.opInboxList(req.Args)
	case "inbox_mark_read":
		return s.opInboxMarkRead(req.Args)
	case "send":
		return s.opSend(req.Args)
	case "ledger_tail":
		return s.opLedgerTail(req.Args)
	case "ledger_snapshot":
		return s.opLedgerSnapshot(req.Args)
	case "ledger_compact":
		return s.opLedgerCompact(req.Args)
	case "context_get":
		return s.opContextGet(req.Args)
	default:
		return nil, E(CodeInvalidRequest, "unknown op %q", req.Op)
	}
}
