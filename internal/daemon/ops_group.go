package daemon

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/ledger"
)

func (s *Server) opPing() (any, *Error) {
	return map[string]any{
		"version": s.version,
		"pid":     os.Getpid(),
		"now":     time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

type attachArgs struct {
	Path    string `json:"path"`
	GroupID string `json:"group_id,omitempty"`
	Title   string `json:"title,omitempty"`
	By      string `json:"by"`
}

// opAttach derives a scope from a path and binds it to a group: an explicit
// one, the scope's registered default, or a freshly created one.
func (s *Server) opAttach(raw json.RawMessage) (any, *Error) {
	var args attachArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.Path == "" {
		return nil, E(CodeMissingPath, "path is required")
	}
	scope, err := group.DeriveScope(args.Path)
	if err != nil {
		return nil, E(CodeInvalidProjectRoot, "%v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var g *group.Group
	if args.GroupID != "" {
		var e *Error
		if g, e = s.loadGroup(args.GroupID); e != nil {
			return nil, e
		}
	} else if gid, ok, _ := s.registry.DefaultFor(scope.ScopeKey); ok {
		if loaded, e := s.loadGroup(gid); e == nil {
			g = loaded
		}
	}
	if g == nil {
		g = group.NewGroup(args.Title)
		if g.Title == "" {
			g.Title = scope.Label
		}
	}

	g.AttachScope(*scope)
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if err := group.SaveScope(s.layout.ScopeFile(g.GroupID, scope.ScopeKey), scope); err != nil {
		return nil, E(CodeInvalidRequest, "write scope doc: %v", err)
	}
	if err := s.registry.Put(s.registryEntry(g)); err != nil {
		return nil, E(CodeInvalidRequest, "update registry: %v", err)
	}
	if err := s.registry.SetDefault(scope.ScopeKey, g.GroupID); err != nil {
		s.logger.Printf("attach: set default: %v", err)
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupAttach, scope.ScopeKey, args.By, map[string]any{
		"url": scope.URL, "label": scope.Label,
	}); err != nil {
		return nil, E(CodeInvalidRequest, "append group.attach: %v", err)
	}
	return map[string]any{"group_id": g.GroupID, "scope_key": scope.ScopeKey}, nil
}

func (s *Server) registryEntry(g *group.Group) group.RegistryEntry {
	return group.RegistryEntry{
		GroupID:         g.GroupID,
		Title:           g.Title,
		Topic:           g.Topic,
		Path:            s.layout.GroupDir(g.GroupID),
		DefaultScopeKey: g.ActiveScopeKey,
	}
}

type groupCreateArgs struct {
	Title    string `json:"title,omitempty"`
	Topic    string `json:"topic,omitempty"`
	Template string `json:"template,omitempty"` // YAML template document
	By       string `json:"by"`
}

func (s *Server) opGroupCreate(raw json.RawMessage) (any, *Error) {
	var args groupCreateArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	g := group.NewGroup(args.Title)
	g.Topic = args.Topic
	if args.Template != "" {
		tpl, err := group.ParseTemplate([]byte(args.Template), s.settings.RuntimeCommand)
		if err != nil {
			return nil, E(CodeInvalidTemplate, "%v", err)
		}
		tpl.Apply(g)
	}
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if err := s.registry.Put(s.registryEntry(g)); err != nil {
		return nil, E(CodeInvalidRequest, "update registry: %v", err)
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupCreate, "", args.By, map[string]any{
		"title": g.Title,
	}); err != nil {
		return nil, E(CodeInvalidRequest, "append group.create: %v", err)
	}
	return map[string]any{"group_id": g.GroupID}, nil
}

type groupUpdateArgs struct {
	GroupID    string                  `json:"group_id"`
	By         string                  `json:"by"`
	Title      *string                 `json:"title,omitempty"`
	Topic      *string                 `json:"topic,omitempty"`
	Delivery   *group.DeliveryConfig   `json:"delivery,omitempty"`
	Automation *group.AutomationConfig `json:"automation,omitempty"`
	Messaging  *group.MessagingConfig  `json:"messaging,omitempty"`
	Ledger     *ledger.RetentionConfig `json:"ledger,omitempty"`
}

func (s *Server) opGroupUpdate(raw json.RawMessage) (any, *Error) {
	var args groupUpdateArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if args.Title != nil {
		g.Title = *args.Title
	}
	if args.Topic != nil {
		g.Topic = *args.Topic
	}
	if args.Delivery != nil {
		g.Delivery = *args.Delivery
	}
	if args.Automation != nil {
		g.Automation = *args.Automation
	}
	if args.Messaging != nil {
		g.Messaging = *args.Messaging
	}
	if args.Ledger != nil {
		g.Ledger = *args.Ledger
	}
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if err := s.registry.Put(s.registryEntry(g)); err != nil {
		return nil, E(CodeInvalidRequest, "update registry: %v", err)
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupUpdate, "", args.By, nil); err != nil {
		return nil, E(CodeInvalidRequest, "append group.update: %v", err)
	}
	return map[string]any{"group_id": g.GroupID}, nil
}

func (s *Server) opGroupShow(raw json.RawMessage) (any, *Error) {
	var args commonArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	running := []string{}
	for _, a := range g.Actors {
		if s.sup.Get(g.GroupID, a.ID) != nil {
			running = append(running, a.ID)
		}
	}
	return map[string]any{
		"group":   g,
		"running": running,
	}, nil
}

func (s *Server) opGroupDelete(raw json.RawMessage) (any, *Error) {
	var args commonArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	s.sup.StopGroup(g.GroupID)
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupDelete, "", args.By, nil); err != nil {
		s.logger.Printf("group_delete: append: %v", err)
	}
	if err := os.RemoveAll(s.layout.GroupDir(g.GroupID)); err != nil {
		return nil, E(CodeInvalidRequest, "remove group dir: %v", err)
	}
	if err := s.registry.Remove(g.GroupID); err != nil {
		return nil, E(CodeInvalidRequest, "update registry: %v", err)
	}
	return map[string]any{"deleted": g.GroupID}, nil
}

type scopeArgs struct {
	GroupID  string `json:"group_id"`
	ScopeKey string `json:"scope_key"`
	By       string `json:"by"`
}

func (s *Server) opGroupDetachScope(raw json.RawMessage) (any, *Error) {
	var args scopeArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.ScopeKey == "" {
		return nil, E(CodeInvalidScope, "scope_key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if !g.DetachScope(args.ScopeKey) {
		return nil, E(CodeScopeNotAttached, "scope %s is not attached to %s", args.ScopeKey, g.GroupID)
	}
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupDetach, args.ScopeKey, args.By, nil); err != nil {
		s.logger.Printf("group_detach_scope: append: %v", err)
	}
	return map[string]any{"active_scope_key": g.ActiveScopeKey}, nil
}

func (s *Server) opGroupUse(raw json.RawMessage) (any, *Error) {
	var args scopeArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.ScopeKey == "" {
		return nil, E(CodeInvalidScope, "scope_key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ScopeByKey(args.ScopeKey) == nil {
		return nil, E(CodeScopeNotAttached, "scope %s is not attached to %s", args.ScopeKey, g.GroupID)
	}
	g.ActiveScopeKey = args.ScopeKey
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	return map[string]any{"active_scope_key": g.ActiveScopeKey}, nil
}

func (s *Server) opGroups() (any, *Error) {
	all, err := s.registry.All()
	if err != nil {
		return nil, E(CodeInvalidRequest, "read registry: %v", err)
	}
	type row struct {
		group.RegistryEntry
		Running bool `json:"running"`
	}
	rows := make([]row, 0, len(all))
	for gid, entry := range all {
		rows = append(rows, row{RegistryEntry: entry, Running: s.sup.GroupRunning(gid)})
	}
	return map[string]any{"groups": rows}, nil
}

func (s *Server) opGroupStart(raw json.RawMessage) (any, *Error) {
	var args commonArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if err := s.startGroupActors(g); err != nil {
		if errors.Is(err, errBadProjectRoot) {
			return nil, E(CodeInvalidProjectRoot, "%v", err)
		}
		return nil, E(CodeGroupStartFailed, "%v", err)
	}
	g.Running = true
	g.Paused = false
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupStart, "", args.By, nil); err != nil {
		s.logger.Printf("group_start: append: %v", err)
	}
	return map[string]any{"running": true}, nil
}

func (s *Server) opGroupStop(raw json.RawMessage) (any, *Error) {
	var args commonArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	s.sup.StopGroup(g.GroupID)
	if err := os.RemoveAll(s.layout.RunnerStateDir(g.GroupID)); err != nil {
		s.logger.Printf("group_stop: clean runner state: %v", err)
	}
	g.Running = false
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupStop, "", args.By, nil); err != nil {
		s.logger.Printf("group_stop: append: %v", err)
	}
	return map[string]any{"running": false}, nil
}

type setStateArgs struct {
	GroupID string `json:"group_id"`
	By      string `json:"by"`
	Paused  bool   `json:"paused"`
}

// opGroupSetState flips the paused flag: automation goes quiet but PTYs keep
// running.
func (s *Server) opGroupSetState(raw json.RawMessage) (any, *Error) {
	var args setStateArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	g.Paused = args.Paused
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindGroupUpdate, "", args.By, map[string]any{
		"paused": args.Paused,
	}); err != nil {
		s.logger.Printf("group_set_state: append: %v", err)
	}
	return map[string]any{"paused": g.Paused}, nil
}
