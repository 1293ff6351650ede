package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// LoginQuery selects LOGIN_SUCCESS events for the admin sessions view.
// An empty UserID lists the whole tenant. Filters apply before Limit.
type LoginQuery struct {
	TenantID string
	UserID   string
	Limit    int
}

// Login is a LOGIN_SUCCESS event joined with the user's current profile.
// Profile fields are empty when the user no longer exists or the sink
// cannot join them.
type Login struct {
	Event
	UserEmail string
	FirstName string
	LastName  string
}

// LoginLister backs the admin sessions view.
type LoginLister interface {
	RecentLogins(ctx context.Context, q LoginQuery) ([]Login, error)
}

// Service records audit events to every configured sink.
//
// Audit is internal-only. Do not expose these records to tenant users by default.
type Service struct {
	repos  []Repository
	lister LoginLister
	log    *slog.Logger
	clock  func() time.Time
}

// NewService fans out to repos. The first repo that can list logins is
// used for RecentLogins.
func NewService(log *slog.Logger, repos ...Repository) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{repos: repos, log: log, clock: time.Now}
	for _, r := range repos {
		if l, ok := r.(LoginLister); ok {
			s.lister = l
			break
		}
	}
	return s
}

var (
	ErrInvalidEvent  = errors.New("audit: invalid event")
	ErrNotConfigured = errors.New("audit: repository not configured")
)

// Append validates, stamps and writes e to every sink. All sink errors are returned.
func (s *Service) Append(ctx context.Context, e Event) error {
	if len(s.repos) == 0 {
		return ErrNotConfigured
	}
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	if e.TenantID == "" {
		if _, ok := preAuthEvents[e.Type]; !ok {
			return fmt.Errorf("%w: %s requires tenant", ErrInvalidEvent, e.Type)
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	if e.Severity == "" {
		e.Severity = SeverityOf(e.Type)
	}

	var errs []error
	for _, r := range s.repos {
		if err := r.Append(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Record appends e and logs any failure. It never fails the caller's flow;
// a lost audit record is always visible in the service log.
func (s *Service) Record(ctx context.Context, e Event) {
	if err := s.Append(ctx, e); err != nil {
		s.log.ErrorContext(ctx, "audit write failed",
			"event_type", string(e.Type),
			"user_id", e.UserID,
			"tenant_id", e.TenantID,
			"err", err,
		)
	}
}

func (s *Service) RecentLogins(ctx context.Context, q LoginQuery) ([]Login, error) {
	if s.lister == nil {
		return nil, ErrNotConfigured
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 100
	}
	return s.lister.RecentLogins(ctx, q)
}
