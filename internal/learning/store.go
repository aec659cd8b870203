package learning

import (
	"context"
	"log/slog"
)

// Primary is the database-backed store. Implemented by storage.Store and
// postgres.Store.
type Primary interface {
	Ping(ctx context.Context) error
	Preferences(ctx context.Context) ([]LearnedPreference, error)
	AddPreference(ctx context.Context, p LearnedPreference) error
	History(ctx context.Context) ([]TaskHistory, error)
	AddHistory(ctx context.Context, h TaskHistory) error
}

// Store routes every call to the primary store while it is healthy and to
// the fallback file otherwise. A failed primary call marks the primary
// unhealthy and is re-issued against the file within the same call.
type Store struct {
	primary  Primary
	health   *HealthChecker
	fallback *FileStore
	logger   *slog.Logger
}

// NewStore wires a store. primary may be nil, in which case every call goes
// to the fallback file. A nil health checker gets a default one probing
// primary.Ping every 60 seconds.
func NewStore(primary Primary, health *HealthChecker, fallback *FileStore) *Store {
	if primary != nil && health == nil {
		health = NewHealthChecker(primary.Ping, 0)
	}
	return &Store{
		primary:  primary,
		health:   health,
		fallback: fallback,
		logger:   slog.Default(),
	}
}

func (s *Store) usePrimary(ctx context.Context) bool {
	return s.primary != nil && s.health.Healthy(ctx)
}

func (s *Store) primaryFailed(op string, err error) {
	s.logger.Error("primary store failed, falling back to JSON", "op", op, "error", err)
	s.health.MarkUnhealthy(err)
}

func (s *Store) Preferences(ctx context.Context) ([]LearnedPreference, error) {
	if s.usePrimary(ctx) {
		prefs, err := s.primary.Preferences(ctx)
		if err == nil {
			return prefs, nil
		}
		s.primaryFailed("preferences", err)
	}
	return s.fallback.Preferences()
}

func (s *Store) AddPreference(ctx context.Context, p LearnedPreference) error {
	if s.usePrimary(ctx) {
		err := s.primary.AddPreference(ctx, p)
		if err == nil {
			return nil
		}
		s.primaryFailed("add preference", err)
	}
	return s.fallback.AddPreference(p)
}

func (s *Store) History(ctx context.Context) ([]TaskHistory, error) {
	if s.usePrimary(ctx) {
		hist, err := s.primary.History(ctx)
		if err == nil {
			return hist, nil
		}
		s.primaryFailed("history", err)
	}
	return s.fallback.History()
}

func (s *Store) AddHistory(ctx context.Context, h TaskHistory) error {
	if s.usePrimary(ctx) {
		err := s.primary.AddHistory(ctx, h)
		if err == nil {
			return nil
		}
		s.primaryFailed("add history", err)
	}
	return s.fallback.AddHistory(h)
}

// Status describes the primary store for status endpoints.
type Status struct {
	Configured bool   `json:"configured"`
	Connected  bool   `json:"connected"`
	Message    string `json:"message"`
}

// Status probes the primary store now and reports the result.
func (s *Store) Status(ctx context.Context) Status {
	if s.primary == nil {
		return Status{Message: "No primary database configured, using JSON fallback at " + s.fallback.Path()}
	}
	if s.health.Refresh(ctx) {
		return Status{Configured: true, Connected: true, Message: "Database connected successfully"}
	}
	msg := "Database connection failed, using JSON fallback"
	if err := s.health.Status().LastError; err != nil {
		msg += ": " + err.Error()
	}
	return Status{Configured: true, Message: msg}
}
