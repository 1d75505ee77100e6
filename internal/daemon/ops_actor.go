package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cccc-dev/cccc/internal/group"
	"github.com/cccc-dev/cccc/internal/ledger"
)

// errBadProjectRoot marks a scope whose directory is gone; ops surface it
// as invalid_project_root.
var errBadProjectRoot = errors.New("project root does not exist")

type actorArgs struct {
	GroupID string `json:"group_id"`
	ActorID string `json:"actor_id"`
	By      string `json:"by"`
}

func (s *Server) opActorList(raw json.RawMessage) (any, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	type row struct {
		*group.Actor
		Role    string `json:"role"`
		Running bool   `json:"running"`
	}
	rows := make([]row, 0, len(g.Actors))
	for _, a := range g.Actors {
		rows = append(rows, row{
			Actor:   a,
			Role:    g.EffectiveRole(a.ID),
			Running: s.sup.Get(g.GroupID, a.ID) != nil,
		})
	}
	return map[string]any{"actors": rows}, nil
}

type actorAddArgs struct {
	GroupID string       `json:"group_id"`
	By      string       `json:"by"`
	Actor   *group.Actor `json:"actor"`
}

func (s *Server) opActorAdd(raw json.RawMessage) (any, *Error) {
	var args actorAddArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.Actor == nil || args.Actor.ID == "" {
		return nil, E(CodeMissingActorID, "actor with id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	a := args.Actor
	if err := a.Normalize(s.settings.RuntimeCommand); err != nil {
		return nil, E(CodeActorAddFailed, "%v", err)
	}
	if g.ActorByID(a.ID) != nil {
		return nil, E(CodeActorAddFailed, "actor %s already exists", a.ID)
	}
	a.CreatedAt = ledger.NowTS()
	a.UpdatedAt = a.CreatedAt
	g.Actors = append(g.Actors, a)
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindActorAdd, "", args.By, map[string]any{
		"actor_id": a.ID,
	}); err != nil {
		s.logger.Printf("actor_add: append: %v", err)
	}
	return map[string]any{"actor_id": a.ID, "role": g.EffectiveRole(a.ID)}, nil
}

func (s *Server) opActorRemove(raw json.RawMessage) (any, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ActorByID(args.ActorID) == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	s.sup.StopActor(g.GroupID, args.ActorID)
	kept := g.Actors[:0]
	for _, a := range g.Actors {
		if a.ID != args.ActorID {
			kept = append(kept, a)
		}
	}
	g.Actors = kept
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindActorRemove, "", args.By, map[string]any{
		"actor_id": args.ActorID,
	}); err != nil {
		s.logger.Printf("actor_remove: append: %v", err)
	}
	return map[string]any{"removed": args.ActorID}, nil
}

type actorUpdateArgs struct {
	GroupID string       `json:"group_id"`
	ActorID string       `json:"actor_id"`
	By      string       `json:"by"`
	Patch   *group.Actor `json:"patch"`
}

// opActorUpdate replaces mutable actor fields. A running session keeps its
// old command until restarted.
func (s *Server) opActorUpdate(raw json.RawMessage) (any, *Error) {
	var args actorUpdateArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	if args.Patch == nil {
		return nil, E(CodeInvalidRequest, "patch is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	a := g.ActorByID(args.ActorID)
	if a == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	p := args.Patch
	if p.Title != "" {
		a.Title = p.Title
	}
	if len(p.Command) > 0 {
		a.Command = p.Command
	}
	if p.Env != nil {
		a.Env = p.Env
	}
	if p.Submit != "" {
		a.Submit = p.Submit
	}
	if p.Runner != "" {
		a.Runner = p.Runner
	}
	if p.Runtime != "" {
		a.Runtime = p.Runtime
		a.Command = p.Command // runtime switch re-derives the command
	}
	if p.DefaultScopeKey != "" {
		a.DefaultScopeKey = p.DefaultScopeKey
	}
	a.Enabled = p.Enabled
	if err := a.Normalize(s.settings.RuntimeCommand); err != nil {
		return nil, E(CodeActorUpdateFailed, "%v", err)
	}
	a.UpdatedAt = ledger.NowTS()
	if e := s.saveGroup(g); e != nil {
		return nil, e
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindActorUpdate, "", args.By, map[string]any{
		"actor_id": a.ID,
	}); err != nil {
		s.logger.Printf("actor_update: append: %v", err)
	}
	return map[string]any{"actor_id": a.ID}, nil
}

func (s *Server) opActorStart(raw json.RawMessage) (any, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	a := g.ActorByID(args.ActorID)
	if a == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	if s.sup.Get(g.GroupID, a.ID) != nil {
		return nil, E(CodeActorAlreadyRunning, "actor %s is already running", a.ID)
	}
	effective, err := s.startActor(g, a, args.By)
	if err != nil {
		if errors.Is(err, errBadProjectRoot) {
			return nil, E(CodeInvalidProjectRoot, "%v", err)
		}
		return nil, E(CodeActorStartFailed, "%v", err)
	}
	return map[string]any{"actor_id": a.ID, "runner_effective": effective}, nil
}

func (s *Server) opActorStop(raw json.RawMessage) (any, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	if g.ActorByID(args.ActorID) == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	if !s.sup.StopActor(g.GroupID, args.ActorID) {
		return nil, E(CodeActorNotRunning, "actor %s is not running", args.ActorID)
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindActorStop, "", args.By, map[string]any{
		"actor_id": args.ActorID,
	}); err != nil {
		s.logger.Printf("actor_stop: append: %v", err)
	}
	return map[string]any{"stopped": args.ActorID}, nil
}

func (s *Server) opActorRestart(raw json.RawMessage) (any, *Error) {
	var args actorArgs
	if e := decodeArgs(raw, &args); e != nil {
		return nil, e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g, e := s.loadGroup(args.GroupID)
	if e != nil {
		return nil, e
	}
	a := g.ActorByID(args.ActorID)
	if a == nil {
		return nil, E(CodeActorNotFound, "no actor %s", args.ActorID)
	}
	s.sup.StopActor(g.GroupID, a.ID)
	effective, err := s.startActor(g, a, args.By)
	if err != nil {
		return nil, E(CodeActorStartFailed, "%v", err)
	}
	return map[string]any{"actor_id": a.ID, "runner_effective": effective}, nil
}

// actorWorkdir resolves the directory an actor runs in: its default scope,
// else the group's active scope.
func (s *Server) actorWorkdir(g *group.Group, a *group.Actor) (string, error) {
	key := a.DefaultScopeKey
	if key == "" {
		key = g.ActiveScopeKey
	}
	if key == "" {
		return "", fmt.Errorf("no scope attached")
	}
	scope := g.ScopeByKey(key)
	if scope == nil {
		return "", fmt.Errorf("scope %s is not attached", key)
	}
	info, err := os.Stat(scope.URL)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", errBadProjectRoot, scope.URL)
	}
	return scope.URL, nil
}

// startGroupActors validates every enabled actor's workdir first, then
// spawns them all; one bad project root means nothing starts.
func (s *Server) startGroupActors(g *group.Group) error {
	var toStart []*group.Actor
	for _, a := range g.Actors {
		if !a.Enabled {
			continue
		}
		if _, err := s.actorWorkdir(g, a); err != nil {
			return fmt.Errorf("actor %s: %w", a.ID, err)
		}
		toStart = append(toStart, a)
	}
	for _, a := range toStart {
		if s.sup.Get(g.GroupID, a.ID) != nil {
			continue
		}
		if _, err := s.startActor(g, a, "daemon"); err != nil {
			return fmt.Errorf("actor %s: %w", a.ID, err)
		}
	}
	return nil
}

// startActor spawns one actor session and injects the system prompt.
// Returns the effective runner kind.
func (s *Server) startActor(g *group.Group, a *group.Actor, by string) (string, error) {
	effective := a.Runner
	if effective == group.RunnerPTY && !s.sup.Supported() {
		effective = group.RunnerHeadless
	}
	if effective == group.RunnerHeadless {
		// Headless actors have no terminal; they participate via inbox only.
		if _, err := s.appendEvent(g.GroupID, ledger.KindActorStart, "", by, map[string]any{
			"actor_id": a.ID, "runner_effective": effective,
		}); err != nil {
			s.logger.Printf("actor_start: append: %v", err)
		}
		return effective, nil
	}

	workdir, err := s.actorWorkdir(g, a)
	if err != nil {
		return "", err
	}
	sess, err := s.sup.StartActor(g.GroupID, a.ID, a.Command, s.actorEnv(g, a), workdir)
	if err != nil {
		return "", err
	}
	if _, err := s.appendEvent(g.GroupID, ledger.KindActorStart, "", by, map[string]any{
		"actor_id": a.ID, "pid": sess.PID(), "runner_effective": effective,
	}); err != nil {
		s.logger.Printf("actor_start: append: %v", err)
	}
	if prompt := systemPrompt(g, a.ID); prompt != "" {
		if err := s.deliverer.DeliverSystem(g, a.ID, prompt); err != nil {
			s.logger.Printf("actor_start[%s]: system prompt: %v", a.ID, err)
		}
	}
	return effective, nil
}

// actorEnv builds the child environment: inherited, kernel identity vars,
// then the actor's own entries with ${VAR} expansion against the current
// environment.
func (s *Server) actorEnv(g *group.Group, a *group.Actor) []string {
	env := os.Environ()
	env = append(env,
		"CCCC_HOME="+s.layout.Root,
		"CCCC_GROUP="+g.GroupID,
		"CCCC_ACTOR="+a.ID,
	)
	for k, v := range a.Env {
		env = append(env, k+"="+os.Expand(v, os.Getenv))
	}
	return env
}
