// Package api exposes the fleet control surface: session lifecycle RPC,
// catalog queries and live log streaming over HTTP.
package api

import (
	"context"
	"log"

	"github.com/kmajdoub/botfleet/internal/catalog"
	"github.com/kmajdoub/botfleet/internal/registry"
	"github.com/kmajdoub/botfleet/internal/session"
	"github.com/kmajdoub/botfleet/internal/supervisor"
)

// Service coordinates session creation and shutdown across the
// registry, the path catalog and the worker supervisor.
type Service struct {
	reg *registry.Registry
	sup *supervisor.Supervisor
	cat *catalog.Catalog
}

// NewService wires the control service.
func NewService(reg *registry.Registry, sup *supervisor.Supervisor, cat *catalog.Catalog) *Service {
	return &Service{reg: reg, sup: sup, cat: cat}
}

// CreateSession validates the descriptor, resolves path references,
// registers the session and spawns its worker. On spawn failure the
// session is rolled back out of the registry.
func (s *Service) CreateSession(ctx context.Context, d session.Descriptor) (session.Session, error) {
	if err := d.Validate(); err != nil {
		return session.Session{}, err
	}

	sess := session.Session{
		Leader:             d.Leader,
		Followers:          d.Followers,
		Type:               d.Type,
		JobFilters:         d.JobFilters,
		UnloadType:         d.UnloadType,
		MonsterLvlCoefDiff: d.MonsterLvlCoefDiff,
	}

	// Path ids must resolve against the catalog before anything runs.
	if d.PathID != "" {
		p, err := s.cat.GetPath(d.PathID)
		if err != nil {
			return session.Session{}, err
		}
		sess.Path = &p
	}
	for _, id := range d.PathsIDs {
		if _, err := s.cat.GetPath(id); err != nil {
			return session.Session{}, err
		}
	}
	sess.PathsIDs = d.PathsIDs

	// CreateForLeader checks the one-active-session-per-leader rule under
	// the registry lock, so concurrent creates for a leader cannot both
	// slip through.
	id, err := s.reg.CreateForLeader(sess)
	if err != nil {
		return session.Session{}, err
	}

	created, err := s.reg.Get(id)
	if err != nil {
		return session.Session{}, err
	}
	if err := s.sup.Spawn(ctx, created); err != nil {
		if rmErr := s.reg.Remove(id); rmErr != nil {
			log.Printf("api: roll back session %s: %v", id, rmErr)
		}
		return session.Session{}, err
	}

	log.Printf("api: session %s created for leader %s (%s)", id, d.Leader.Name, d.Type)
	return created, nil
}

// StopSession requests graceful shutdown of a running session.
func (s *Service) StopSession(ctx context.Context, id string) error {
	return s.sup.Stop(ctx, id, "stop requested")
}

// GetSession returns a snapshot of one session.
func (s *Service) GetSession(id string) (session.Session, error) {
	return s.reg.Get(id)
}

// ListSessions returns snapshots matching the filter in creation order.
func (s *Service) ListSessions(f registry.Filter) []session.Session {
	return s.reg.List(f)
}
