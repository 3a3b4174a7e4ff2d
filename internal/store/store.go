/* Copyright (c) 2026 M. Shams
 * SPDX-License-Identifier: BSD-3-Clause */

// Package store is the namespaced key/value persistence used for user
// configuration and history. Values are JSON; keys are scoped by the active
// context with pod > project > global precedence.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
)

// Store is the persistence contract. Implementations must make each call
// atomic with respect to concurrent callers on the same namespace.
type Store interface {
	Get(ctx context.Context, key string, out any) (bool, error)
	Set(ctx context.Context, key string, val any) error
	Remove(ctx context.Context, key string) error
	ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// Logical keys persisted by the engine.
const (
	KeyConfig            = "config"
	KeyProjects          = "projects"
	KeyGroups            = "groups"
	KeyProjectGroups     = "projectGroups"
	KeyActiveProjectID   = "activeProjectId"
	KeyActiveGroupID     = "activeGroupId"
	KeyTeamConfig        = "teamConfig"
	KeySprintCapacity    = "sprintCapacity"
	KeyCapacitySettings  = "capacitySettings"
	KeyForecasts         = "forecasts"
	KeyStakeholders      = "stakeholders"
	KeyCommHistory       = "communicationHistory"
	KeyCommTemplates     = "communicationTemplates"
	KeyDecisions         = "decisions"
	KeyDocuments         = "documents"
	KeyHealthScoreConfig = "healthScoreConfig"
	KeyRisks             = "risks"
	KeyAbsences          = "absences"
	KeyLastRun           = "lastRun"
)

// ScopeKind selects the context a write or read is bound to.
type ScopeKind string

const (
	ScopeGlobal  ScopeKind = "global"
	ScopeProject ScopeKind = "project"
	ScopePod     ScopeKind = "pod"
)

// Scope is the active context. Writes always go to the effective key of the
// active scope; there is no cross-context merge.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func GlobalScope() Scope           { return Scope{Kind: ScopeGlobal} }
func ProjectScope(id string) Scope { return Scope{Kind: ScopeProject, ID: id} }
func PodScope(id string) Scope     { return Scope{Kind: ScopePod, ID: id} }

// ScopeFor resolves a configured kind/id pair to the active scope. Narrow
// scopes need an id; anything else resolves to global.
func ScopeFor(kind, id string) Scope {
	switch ScopeKind(kind) {
	case ScopePod:
		if id != "" { return PodScope(id) }
	case ScopeProject:
		if id != "" { return ProjectScope(id) }
	}
	return GlobalScope()
}

// Key derives the effective storage key for a base key under this scope.
func (s Scope) Key(base string) string {
	switch s.Kind {
	case ScopePod:
		return base + "_pod_" + s.ID
	case ScopeProject:
		return base + "_" + s.ID
	default:
		return base
	}
}

// Scoped wraps a Store so that reads fall back pod > project > global while
// writes target the active scope only.
type Scoped struct {
	Store Store
	Scope Scope
}

// Get tries the active scope's key first, then the wider scopes in
// precedence order.
func (s Scoped) Get(ctx context.Context, base string, out any) (bool, error) {
	chain := []Scope{s.Scope}
	if s.Scope.Kind == ScopePod {
		chain = append(chain, ProjectScope(s.Scope.ID), GlobalScope())
	} else if s.Scope.Kind == ScopeProject {
		chain = append(chain, GlobalScope())
	}
	for _, sc := range chain {
		ok, err := s.Store.Get(ctx, sc.Key(base), out)
		if err != nil { return false, err }
		if ok { return true, nil }
	}
	return false, nil
}

func (s Scoped) Set(ctx context.Context, base string, val any) error {
	return s.Store.Set(ctx, s.Scope.Key(base), val)
}

func (s Scoped) Remove(ctx context.Context, base string) error {
	return s.Store.Remove(ctx, s.Scope.Key(base))
}

func (s Scoped) ListKeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	return s.Store.ListKeysWithPrefix(ctx, prefix)
}

func (s Scoped) Clear(ctx context.Context) error { return s.Store.Clear(ctx) }

// Memory is the in-process Store used by tests and by one-shot CLI runs
// without a database.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory { return &Memory{data: map[string][]byte{}} }

func (m *Memory) Get(_ context.Context, key string, out any) (bool, error) {
	m.mu.RLock()
	b, ok := m.data[key]
	m.mu.RUnlock()
	if !ok { return false, nil }
	if out == nil { return true, nil }
	return true, json.Unmarshal(b, out)
}

func (m *Memory) Set(_ context.Context, key string, val any) error {
	b, err := json.Marshal(val)
	if err != nil { return err }
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListKeysWithPrefix(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) { keys = append(keys, k) }
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = map[string][]byte{}
	m.mu.Unlock()
	return nil
}
