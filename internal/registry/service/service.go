// Package service is the registry write path: data capture of PIP records,
// the active toggle and CSV imports. Every successful write invalidates the
// corpus token index so unmatched-keyword diagnostics pick up new names.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pipscreen/internal/access"
	"pipscreen/internal/registry/models"
	id "pipscreen/pkg/domain"
	dErrors "pipscreen/pkg/domain-errors"
	audit "pipscreen/pkg/platform/audit"
	"pipscreen/pkg/platform/sentinel"
	"pipscreen/pkg/requestcontext"
)

// Store is the write side of the registry.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Get(ctx context.Context, pipID id.PIPID) (*models.PIP, error)
	Create(ctx context.Context, p *models.PIP) error
	Update(ctx context.Context, p *models.PIP) error
	UpsertForeign(ctx context.Context, pipID id.PIPID, detail *models.ForeignDetail) error
	ReplaceAssociates(ctx context.Context, pipID id.PIPID, associates []models.Associate) error
	ReplaceInstitutions(ctx context.Context, pipID id.PIPID, institutions []models.Institution) error
	SetActive(ctx context.Context, pipID id.PIPID, active bool, now time.Time) error
}

// Invalidator is notified after the corpus changes.
type Invalidator interface {
	Invalidate(ctx context.Context)
}

type Service struct {
	store          Store
	index          Invalidator
	logger         *slog.Logger
	auditPublisher audit.Emitter
	tracer         trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher audit.Emitter) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func New(store Store, index Invalidator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("registry store is required")
	}
	if index == nil {
		return nil, fmt.Errorf("token index invalidator is required")
	}
	s := &Service{store: store, index: index}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("pipscreen/registry")
	}
	return s, nil
}

// Create inserts a PIP with its foreign detail, associates and institutions
// in one transaction.
func (s *Service) Create(ctx context.Context, p access.Principal, req CreatePIPRequest) (*models.PIP, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Create")
	defer span.End()

	if err := access.RequireElevated(p); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	pip, err := req.build(requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.Create(ctx, pip)
	}); err != nil {
		return nil, storeFailure(err, "create PIP")
	}
	span.SetAttributes(attribute.String("pip.id", pip.ID.String()))

	s.index.Invalidate(ctx)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPIPCreated,
		"pip_id", pip.ID.String(),
		"actor_id", p.UserID.String(),
		"pip_type", string(pip.Type),
	)
	return pip, nil
}

// Update merges the provided fields into an existing PIP. Owned collections
// in the request replace the stored ones wholesale.
func (s *Service) Update(ctx context.Context, p access.Principal, pipID id.PIPID, req UpdatePIPRequest) (*models.PIP, error) {
	ctx, span := s.tracer.Start(ctx, "registry.Update",
		trace.WithAttributes(attribute.String("pip.id", pipID.String())))
	defer span.End()

	if err := access.RequireElevated(p); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	foreign, err := req.Foreign.toModel()
	if err != nil {
		return nil, err
	}
	var institutions []models.Institution
	if req.Institutions != nil {
		if institutions, err = buildInstitutions(*req.Institutions); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	var updated *models.PIP
	err = s.store.RunInTx(ctx, func(ctx context.Context) error {
		current, err := s.store.Get(ctx, pipID)
		if err != nil {
			return err
		}
		req.apply(current)
		if err := validateCore(current.FirstName, current.MiddleName, current.LastName, current.Reason); err != nil {
			return err
		}
		current.UpdatedAt = now
		if err := s.store.Update(ctx, current); err != nil {
			return err
		}
		if req.Foreign != nil {
			if err := s.store.UpsertForeign(ctx, pipID, foreign); err != nil {
				return err
			}
		}
		if req.Associates != nil {
			if err := s.store.ReplaceAssociates(ctx, pipID, buildAssociates(*req.Associates)); err != nil {
				return err
			}
		}
		if req.Institutions != nil {
			if err := s.store.ReplaceInstitutions(ctx, pipID, institutions); err != nil {
				return err
			}
		}
		updated, err = s.store.Get(ctx, pipID)
		return err
	})
	if err != nil {
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, storeFailure(err, "update PIP")
	}

	s.index.Invalidate(ctx)
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPIPUpdated,
		"pip_id", pipID.String(),
		"actor_id", p.UserID.String(),
	)
	return updated, nil
}

// SetActive flips the soft-delete flag. Inactive records are only visible to
// elevated callers.
func (s *Service) SetActive(ctx context.Context, p access.Principal, pipID id.PIPID, active bool) (*models.PIP, error) {
	ctx, span := s.tracer.Start(ctx, "registry.SetActive",
		trace.WithAttributes(
			attribute.String("pip.id", pipID.String()),
			attribute.Bool("pip.active", active),
		))
	defer span.End()

	if err := access.RequireElevated(p); err != nil {
		return nil, err
	}
	var updated *models.PIP
	err := s.store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.SetActive(ctx, pipID, active, requestcontext.Now(ctx)); err != nil {
			return err
		}
		var err error
		updated, err = s.store.Get(ctx, pipID)
		return err
	})
	if err != nil {
		return nil, storeFailure(err, "set PIP status")
	}

	s.index.Invalidate(ctx)
	decision := "deactivated"
	if active {
		decision = "activated"
	}
	audit.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventPIPStatusChanged,
		"pip_id", pipID.String(),
		"actor_id", p.UserID.String(),
		"decision", decision,
	)
	return updated, nil
}

// storeFailure maps store sentinels onto domain errors. Anything unexpected
// is reported as transient.
func storeFailure(err error, op string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "PIP not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "PIP already exists")
	default:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to "+op)
	}
}
