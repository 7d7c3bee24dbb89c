package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/conversions-gateway/internal/auth"
	"github.com/PratikDhanave/conversions-gateway/internal/models"
	"github.com/PratikDhanave/conversions-gateway/internal/store"
)

// AuditReader is the read side of the audit log.
type AuditReader interface {
	GetAuditRecord(ctx context.Context, id string) (*models.AuditRecord, error)
	CountAuditRecords(ctx context.Context, f store.AuditFilter) (int64, error)
	ListAuditRecords(ctx context.Context, f store.AuditFilter) ([]models.AuditRecord, error)
}

// ShopStatusReader reports storefront link state.
type ShopStatusReader interface {
	ShopLinkStatus(ctx context.Context, shopDomain string) (models.ShopLinkStatus, error)
}

// RegisterAuditRoutes registers the operator read endpoints.
//
// GET /audit/stats?identity_token=&event_name=&status=&from=&to=
// - count of records created in [from,to); from and to are required
//
// GET /audit?identity_token=&event_name=&status=&from=&to=&limit=
// - newest records first
//
// GET /audit/:id
func RegisterAuditRoutes(r gin.IRoutes, audit AuditReader) {
	r.GET("/audit/stats", func(c *gin.Context) {
		if auth.Operator(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if c.Query("from") == "" || c.Query("to") == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from, to are required"})
			return
		}
		f, err := auditFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		count, err := audit.CountAuditRecords(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"identity_token": f.IdentityToken,
			"event_name":     f.EventName,
			"status":         f.Status,
			"count":          count,
		})
	})

	r.GET("/audit", func(c *gin.Context) {
		if auth.Operator(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		f, err := auditFilter(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if v := c.Query("limit"); v != "" {
			if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
		}

		records, err := audit.ListAuditRecords(c.Request.Context(), f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		if records == nil {
			records = []models.AuditRecord{}
		}
		c.JSON(http.StatusOK, gin.H{"records": records})
	})

	r.GET("/audit/:id", func(c *gin.Context) {
		if auth.Operator(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		rec, err := audit.GetAuditRecord(c.Request.Context(), c.Param("id"))
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit record not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, rec)
	})
}

// RegisterShopRoutes registers the storefront status endpoint.
//
// GET /shops/:domain/status
// - one of unlinked, linked_no_credential, orphaned, active
func RegisterShopRoutes(r gin.IRoutes, shops ShopStatusReader) {
	r.GET("/shops/:domain/status", func(c *gin.Context) {
		if auth.Operator(c) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		status, err := shops.ShopLinkStatus(c.Request.Context(), c.Param("domain"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}
		c.JSON(http.StatusOK, status)
	})
}

// auditFilter reads the shared query parameters. The window is optional here;
// when both ends are given it must be non-empty.
func auditFilter(c *gin.Context) (store.AuditFilter, error) {
	f := store.AuditFilter{
		IdentityToken: c.Query("identity_token"),
		EventName:     c.Query("event_name"),
		Status:        models.AuditStatus(c.Query("status")),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, errors.New("status must be RECEIVED, FORWARDED_SUCCESS or FORWARDED_ERROR")
	}

	var err error
	if v := c.Query("from"); v != "" {
		if f.From, err = parseRFC3339(v); err != nil {
			return f, errors.New("from must be RFC3339")
		}
	}
	if v := c.Query("to"); v != "" {
		if f.To, err = parseRFC3339(v); err != nil {
			return f, errors.New("to must be RFC3339")
		}
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return f, errors.New("from must be < to")
	}
	return f, nil
}

// parseRFC3339 parses an RFC3339 timestamp and normalizes it to UTC.
func parseRFC3339(ts string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
