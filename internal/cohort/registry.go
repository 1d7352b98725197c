package cohort

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"parleylab/internal/engine"
	"parleylab/internal/persistence/store"
	"parleylab/internal/stage"
)

// ErrUnknownStage is returned when no instance exists for a key.
var ErrUnknownStage = errors.New("cohort: unknown stage instance")

// Registry holds every live stage instance, keyed by experiment, cohort
// and stage. Provisioning resumes persisted state when the store has a
// snapshot for the key; otherwise it initializes a fresh one.
type Registry struct {
	mu        sync.RWMutex
	instances map[store.Key]*Instance

	sinks Sinks
	log   *log.Logger
}

func NewRegistry(sinks Sinks, logger *log.Logger) *Registry {
	return &Registry{
		instances: map[store.Key]*Instance{},
		sinks:     sinks,
		log:       logger,
	}
}

// Provision creates (or resumes) the instance for a key and starts its
// loop. Provisioning the same key twice returns the existing instance.
func (r *Registry) Provision(ctx context.Context, key store.Key, cfg stage.Config, participants []string) (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if in, ok := r.instances[key]; ok {
		return in, nil
	}

	state, err := r.loadOrInit(ctx, key, cfg, participants)
	if err != nil {
		return nil, err
	}
	in := NewInstance(key, cfg, state, r.sinks, r.log)
	r.instances[key] = in
	go func() {
		if err := in.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Printf("stage %s: loop exited: %v", key, err)
		}
	}()
	r.log.Printf("stage %s: provisioned kind=%s version=%d participants=%d",
		key, state.Kind, state.Version, len(state.Participants))
	return in, nil
}

func (r *Registry) loadOrInit(ctx context.Context, key store.Key, cfg stage.Config, participants []string) (*engine.State, error) {
	if r.sinks.Store != nil {
		rec, err := r.sinks.Store.LoadState(ctx, key)
		switch {
		case err == nil:
			var state engine.State
			if err := json.Unmarshal(rec.Payload, &state); err != nil {
				return nil, fmt.Errorf("stage %s: decode persisted state: %w", key, err)
			}
			return &state, nil
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, err
		}
	}
	state, err := cfg.NewState(participants)
	if err != nil {
		return nil, err
	}
	return state, nil
}

// Get returns the live instance for a key.
func (r *Registry) Get(key store.Key) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	in, ok := r.instances[key]
	if !ok {
		return nil, ErrUnknownStage
	}
	return in, nil
}

// Keys lists provisioned instance keys in stable order.
func (r *Registry) Keys() []store.Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]store.Key, 0, len(r.instances))
	for k := range r.instances {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// StopAll shuts every instance loop down.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range r.instances {
		in.Stop()
	}
}
