// Package registry manages the set of live agents, one per name.
//
// GetOrCreate is the only way an agent comes into existence. Creation is
// serialized per name with singleflight so concurrent requests for the same
// agent share one Agent instance and one session bootstrap.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/agentchain-dev/agentchain/pkg/agent"
	"github.com/agentchain-dev/agentchain/pkg/event"
	"github.com/agentchain-dev/agentchain/pkg/state"
	"github.com/agentchain-dev/agentchain/pkg/store"
)

// ErrAgentNotFound is returned by Get for a name with no live agent.
var ErrAgentNotFound = errors.New("agent not found")

// Bootstrap is appended to an agent's log when it is created. SystemPrompt
// and LLMConfig only apply to agents with no prior history; a resumed log
// already carries its own.
type Bootstrap struct {
	SystemPrompt string
	LLMConfig    *event.LLMConfig
}

// Registry creates, indexes and shuts down agents.
type Registry struct {
	store     store.EventStore
	executor  agent.TurnExecutor
	agentCfg  agent.Config
	bootstrap Bootstrap
	log       *slog.Logger

	mu     sync.RWMutex
	agents map[string]*agent.Agent

	creating singleflight.Group
}

// New returns an empty registry. All agents it creates share the given store,
// executor, per-agent config and bootstrap.
func New(st store.EventStore, exec agent.TurnExecutor, cfg agent.Config, bootstrap Bootstrap, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:     st,
		executor:  exec,
		agentCfg:  cfg,
		bootstrap: bootstrap,
		log:       logger,
		agents:    make(map[string]*agent.Agent),
	}
}

// GetOrCreate returns the live agent for name, creating it on first use.
// Creation replays any persisted history and then appends the session
// bookkeeping events before the agent is published to other callers.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (*agent.Agent, error) {
	r.mu.RLock()
	a, ok := r.agents[name]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	v, err, _ := r.creating.Do(name, func() (any, error) {
		r.mu.RLock()
		a, ok := r.agents[name]
		r.mu.RUnlock()
		if ok {
			return a, nil
		}
		return r.create(ctx, name)
	})
	if err != nil {
		return nil, err
	}
	return v.(*agent.Agent), nil
}

func (r *Registry) create(ctx context.Context, name string) (*agent.Agent, error) {
	a, err := agent.New(ctx, name, r.store, r.executor, r.agentCfg, r.log)
	if err != nil {
		return nil, err
	}

	fresh := a.State().NextEventNumber == 0

	a.AddEventWait(ctx, event.NewSessionStarted())
	if fresh {
		if r.bootstrap.SystemPrompt != "" {
			a.AddEventWait(ctx, event.NewSystemPrompt(r.bootstrap.SystemPrompt))
		}
		if r.bootstrap.LLMConfig != nil {
			c := *r.bootstrap.LLMConfig
			a.AddEventWait(ctx, event.NewSetLLMConfig(c))
		}
	}

	r.mu.Lock()
	r.agents[name] = a
	r.mu.Unlock()

	r.log.Info("Agent registered", "agent", name, "fresh", fresh)
	return a, nil
}

// Get returns the live agent for name, or ErrAgentNotFound.
func (r *Registry) Get(name string) (*agent.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return a, nil
}

// List returns the names of all live agents, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns a name-keyed snapshot of every live agent's reduced state.
func (r *Registry) States() map[string]state.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]state.State, len(r.agents))
	for name, a := range r.agents {
		out[name] = a.State()
	}
	return out
}

// Shutdown ends one agent's session and removes it from the registry.
func (r *Registry) Shutdown(ctx context.Context, name string) error {
	r.mu.Lock()
	a, ok := r.agents[name]
	delete(r.agents, name)
	r.mu.Unlock()
	if !ok {
		return ErrAgentNotFound
	}
	a.EndSession(ctx)
	return nil
}

// ShutdownAll ends every live agent's session concurrently and empties the
// registry. Used on server shutdown.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	agents := r.agents
	r.agents = make(map[string]*agent.Agent)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for name, a := range agents {
		g.Go(func() error {
			a.EndSession(ctx)
			r.log.Debug("Agent shut down", "agent", name)
			return nil
		})
	}
	_ = g.Wait()
}
