// Package provision manages identity bindings and storefront links on behalf
// of operators. The ingestion path only ever reads this state.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// Store is the write side of the identity store.
type Store interface {
	UpsertBinding(ctx context.Context, identityToken, label string) error
	SetCredential(ctx context.Context, identityToken string, credential *string) error
	LinkShop(ctx context.Context, shopDomain, identityToken string) error
	ShopLinkStatus(ctx context.Context, shopDomain string) (models.ShopLinkStatus, error)
}

// Invalidator drops cached bindings after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, identityToken string) error
}

type Service struct {
	store  Store
	cache  Invalidator
	logger *zap.Logger
}

// New returns a Service. cache may be nil when no identity cache is configured.
func New(st Store, cache Invalidator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: st, cache: cache, logger: logger.With(zap.String("component", "provision"))}
}

// Register creates or relabels a binding. New bindings start inactive.
func (s *Service) Register(ctx context.Context, identityToken, label string) error {
	if err := s.store.UpsertBinding(ctx, strings.TrimSpace(identityToken), strings.TrimSpace(label)); err != nil {
		return err
	}
	s.logger.Info("binding registered", zap.String("identity_token", identityToken))
	return nil
}

// Activate attaches a forwarding credential to a binding.
func (s *Service) Activate(ctx context.Context, identityToken, credential string) error {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return errors.New("credential required")
	}
	return s.setCredential(ctx, identityToken, &credential)
}

// Deactivate removes the credential; the binding stays registered.
func (s *Service) Deactivate(ctx context.Context, identityToken string) error {
	return s.setCredential(ctx, identityToken, nil)
}

func (s *Service) setCredential(ctx context.Context, identityToken string, credential *string) error {
	identityToken = strings.TrimSpace(identityToken)
	if err := s.store.SetCredential(ctx, identityToken, credential); err != nil {
		return fmt.Errorf("identity %q: %w", identityToken, err)
	}
	s.invalidate(ctx, identityToken)
	s.logger.Info("credential updated",
		zap.String("identity_token", identityToken),
		zap.Bool("active", credential != nil),
	)
	return nil
}

// Link points a storefront at a binding and returns the resulting state.
func (s *Service) Link(ctx context.Context, shopDomain, identityToken string) (models.ShopLinkStatus, error) {
	if err := s.store.LinkShop(ctx, shopDomain, strings.TrimSpace(identityToken)); err != nil {
		return models.ShopLinkStatus{}, err
	}
	return s.store.ShopLinkStatus(ctx, shopDomain)
}

// Status reports the link state of a storefront.
func (s *Service) Status(ctx context.Context, shopDomain string) (models.ShopLinkStatus, error) {
	return s.store.ShopLinkStatus(ctx, shopDomain)
}

func (s *Service) invalidate(ctx context.Context, identityToken string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, identityToken); err != nil {
		// Stale for at most one cache TTL.
		s.logger.Warn("identity cache invalidation failed", zap.String("identity_token", identityToken), zap.Error(err))
	}
}
