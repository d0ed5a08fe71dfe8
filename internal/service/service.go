package service

import (
	"context"
	"strings"
	"time"

	"cajero/backend/internal/domain"
	"cajero/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ReportInvalidator drops cached reports after a write that changes sales.
type ReportInvalidator interface {
	InvalidateTenant(ctx context.Context, tenantID string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateTenant(context.Context, string) {}

type Service struct {
	repo            store.Repository
	reports         ReportInvalidator
	defaultCurrency string
	now             func() time.Time
}

func New(repo store.Repository, reports ReportInvalidator, defaultCurrency string) *Service {
	if reports == nil {
		reports = noopInvalidator{}
	}
	defaultCurrency = strings.ToUpper(strings.TrimSpace(defaultCurrency))
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}

	return &Service{
		repo:            repo,
		reports:         reports,
		defaultCurrency: defaultCurrency,
		now:             func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

func defaultString(value string, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
