// Package policystore holds the versioned governance configuration: the
// org-wide agent policy, per-hat agent rules, the vouching matrix and the
// agent capability flags. Mutations are admin-gated and fail closed; reads
// hand out snapshot copies only.
package policystore

import (
	"sync"
	"time"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
)

// Authorizer answers whether an identity holds the org admin capability.
type Authorizer interface {
	IsAdmin(actor domain.Identity) bool
}

// AllowList is a fixed-set Authorizer.
type AllowList map[domain.Identity]struct{}

func NewAllowList(ids ...domain.Identity) AllowList {
	al := make(AllowList, len(ids))
	for _, id := range ids {
		al[id] = struct{}{}
	}
	return al
}

func (a AllowList) IsAdmin(actor domain.Identity) bool {
	_, ok := a[actor]
	return ok
}

// Change groups, one notification per mutated group.
const (
	GroupAgentPolicy       = "AGENT_POLICY"
	GroupHatAgentRules     = "HAT_AGENT_RULES"
	GroupVouchingMatrix    = "VOUCHING_MATRIX"
	GroupAgentCapabilities = "AGENT_CAPABILITIES"
)

type ChangeEvent struct {
	Group   string          `json:"group"`
	Hat     domain.HatID    `json:"hat_id,omitempty"`
	Version int             `json:"version"`
	Actor   domain.Identity `json:"actor"`
	At      time.Time       `json:"at"`
}

type Listener func(ChangeEvent)

type Store struct {
	mu        sync.Mutex
	auth      Authorizer
	snap      domain.PolicySnapshot
	listeners []Listener
	clock     func() time.Time
}

func New(auth Authorizer) *Store {
	return &Store{
		auth:  auth,
		snap:  domain.DefaultPolicySnapshot(),
		clock: time.Now,
	}
}

// Subscribe registers a change listener. Listeners run synchronously after
// the mutation commits, outside the store lock.
func (s *Store) Subscribe(fn Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() domain.PolicySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snap)
}

func (s *Store) SetAgentPolicy(actor domain.Identity, p domain.AgentPolicy) error {
	return s.mutate(actor, GroupAgentPolicy, "", func(snap *domain.PolicySnapshot) {
		p.TrustedReputationSources = append([]string(nil), p.TrustedReputationSources...)
		snap.Org = p
	})
}

func (s *Store) SetHatAgentRules(actor domain.Identity, hat domain.HatID, r domain.HatAgentRules) error {
	return s.mutate(actor, GroupHatAgentRules, hat, func(snap *domain.PolicySnapshot) {
		snap.HatRules[hat] = r
	})
}

func (s *Store) SetVouchingMatrix(actor domain.Identity, m domain.VouchingMatrix) error {
	return s.mutate(actor, GroupVouchingMatrix, "", func(snap *domain.PolicySnapshot) {
		snap.Matrix = m
	})
}

func (s *Store) SetAgentCapabilities(actor domain.Identity, c domain.AgentCapabilities) error {
	return s.mutate(actor, GroupAgentCapabilities, "", func(snap *domain.PolicySnapshot) {
		snap.Capabilities = c
	})
}

// Restore replaces the whole snapshot, bypassing the admin gate and the
// listeners. Boot-time rehydration only.
func (s *Store) Restore(snap domain.PolicySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = cloneSnapshot(snap)
}

// mutate checks the admin gate first and atomically with the write: a
// failed check leaves the snapshot and version untouched.
func (s *Store) mutate(actor domain.Identity, group string, hat domain.HatID, apply func(*domain.PolicySnapshot)) error {
	s.mu.Lock()
	if s.auth == nil || !s.auth.IsAdmin(actor) {
		s.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	apply(&s.snap)
	s.snap.Version++
	ev := ChangeEvent{Group: group, Hat: hat, Version: s.snap.Version, Actor: actor, At: s.clock().UTC()}
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
	return nil
}

func cloneSnapshot(snap domain.PolicySnapshot) domain.PolicySnapshot {
	cp := snap
	cp.HatRules = make(map[domain.HatID]domain.HatAgentRules, len(snap.HatRules))
	for k, v := range snap.HatRules {
		cp.HatRules[k] = v
	}
	cp.Org.TrustedReputationSources = append([]string(nil), snap.Org.TrustedReputationSources...)
	return cp
}
