package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// IdentityResolver resolves a public identity token to its binding.
// Implementations return ErrNotFound for unknown tokens.
type IdentityResolver interface {
	Resolve(ctx context.Context, identityToken string) (*models.Binding, error)
}

// Resolve reads one identity binding. A binding with a NULL credential is
// returned as is; callers decide what inactive means.
func (p *PostgresStore) Resolve(ctx context.Context, identityToken string) (*models.Binding, error) {
	b := models.Binding{IdentityToken: identityToken}
	err := p.pool.QueryRow(ctx, `
		SELECT credential, label, created_at
		FROM identity_bindings
		WHERE identity_token = $1
	`, identityToken).Scan(&b.Credential, &b.Label, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving identity: %w", err)
	}
	return &b, nil
}

// UpsertBinding registers an identity token, or relabels an existing one.
// The credential is left untouched.
func (p *PostgresStore) UpsertBinding(ctx context.Context, identityToken, label string) error {
	if strings.TrimSpace(identityToken) == "" {
		return errors.New("identity token required")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO identity_bindings(identity_token, label)
		VALUES ($1, $2)
		ON CONFLICT (identity_token) DO UPDATE SET label = EXCLUDED.label
	`, identityToken, label)
	if err != nil {
		return fmt.Errorf("upserting binding: %w", err)
	}
	return nil
}

// SetCredential attaches (or with nil, removes) the forwarding credential and
// refreshes the activation flag of every shop linked to the token.
func (p *PostgresStore) SetCredential(ctx context.Context, identityToken string, credential *string) error {
	var n int
	err := p.pool.QueryRow(ctx, `
		WITH b AS (
			UPDATE identity_bindings SET credential = $2::text
			WHERE identity_token = $1
			RETURNING identity_token
		), l AS (
			UPDATE shop_links
			SET active = ($2::text IS NOT NULL AND $2::text <> ''), updated_at = now()
			WHERE identity_token IN (SELECT identity_token FROM b)
		)
		SELECT count(*) FROM b
	`, identityToken, credential).Scan(&n)
	if err != nil {
		return fmt.Errorf("setting credential: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LinkShop points a storefront at an identity token. The activation flag is
// derived from the binding at write time and is never set directly.
func (p *PostgresStore) LinkShop(ctx context.Context, shopDomain, identityToken string) error {
	domain := NormalizeShopDomain(shopDomain)
	if domain == "" {
		return errors.New("shop domain required")
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO shop_links(shop_domain, identity_token, active, updated_at)
		VALUES ($1, $2, EXISTS(
			SELECT 1 FROM identity_bindings
			WHERE identity_token = $2 AND credential IS NOT NULL AND credential <> ''
		), now())
		ON CONFLICT (shop_domain) DO UPDATE
		SET identity_token = EXCLUDED.identity_token, active = EXCLUDED.active, updated_at = now()
	`, domain, identityToken)
	if err != nil {
		return fmt.Errorf("linking shop: %w", err)
	}
	return nil
}

// ShopLinkStatus reports which of the four configuration states a storefront
// is in. An unknown storefront is unlinked, not an error.
func (p *PostgresStore) ShopLinkStatus(ctx context.Context, shopDomain string) (models.ShopLinkStatus, error) {
	domain := NormalizeShopDomain(shopDomain)
	status := models.ShopLinkStatus{ShopDomain: domain, State: models.ShopUnlinked}

	var (
		token      *string
		active     bool
		found      bool
		credential *string
		label      *string
	)
	err := p.pool.QueryRow(ctx, `
		SELECT l.identity_token, l.active, b.identity_token IS NOT NULL, b.credential, b.label
		FROM shop_links l
		LEFT JOIN identity_bindings b ON b.identity_token = l.identity_token
		WHERE l.shop_domain = $1
	`, domain).Scan(&token, &active, &found, &credential, &label)
	if errors.Is(err, pgx.ErrNoRows) {
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("reading shop link: %w", err)
	}

	linked := token != nil && *token != ""
	var binding *models.Binding
	if linked {
		status.IdentityToken = *token
		if found {
			binding = &models.Binding{IdentityToken: *token, Credential: credential}
			if label != nil {
				binding.Label = *label
				status.Label = *label
			}
		}
	}
	status.State = models.DeriveShopLinkState(linked, binding)
	status.StaleActivation = active && status.State != models.ShopActive
	return status, nil
}

// NormalizeShopDomain lower-cases a storefront domain and strips scheme, path
// and trailing dots.
func NormalizeShopDomain(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		if u, err := url.Parse(s); err == nil && u.Host != "" {
			s = u.Host
		}
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimRight(s, ".")
}
