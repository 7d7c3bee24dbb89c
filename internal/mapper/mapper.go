// Package mapper translates source-specific event names and payload shapes
// into the canonical event taxonomy.
package mapper

import (
	"strings"

	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// Canonical event names.
const (
	PageView         = "PageView"
	ViewContent      = "ViewContent"
	Search           = "Search"
	AddToCart        = "AddToCart"
	ViewCart         = "ViewCart"
	InitiateCheckout = "InitiateCheckout"
	AddShippingInfo  = "AddShippingInfo"
	AddPaymentInfo   = "AddPaymentInfo"
	Purchase         = "Purchase"
)

// vocabulary maps storefront event names to canonical names.
var vocabulary = map[string]string{
	"page_viewed":                     PageView,
	"product_viewed":                  ViewContent,
	"collection_viewed":               ViewContent,
	"search_submitted":                Search,
	"product_added_to_cart":           AddToCart,
	"cart_viewed":                     ViewCart,
	"checkout_started":                InitiateCheckout,
	"checkout_address_info_submitted": AddShippingInfo,
	"payment_info_submitted":          AddPaymentInfo,
	"checkout_completed":              Purchase,
}

// CanonicalName returns the canonical name for source. Names outside the
// vocabulary are relayed unchanged.
func CanonicalName(source string) string {
	if name, ok := vocabulary[source]; ok {
		return name
	}
	return source
}

// Map produces the canonical name and attributes for one source event. The
// rest of the canonical event is filled in by the ingestion pipeline.
func Map(sourceName string, payload map[string]any) models.CanonicalEvent {
	sourceName = strings.TrimSpace(sourceName)
	name := CanonicalName(sourceName)

	attrs := flatAttributes(payload)
	if extract, ok := rules[name]; ok {
		extract(shape(payload), &attrs)
	}
	if sourceName == "collection_viewed" && attrs.ContentType == "" {
		attrs.ContentType = "product_group"
	}
	attrs.Currency = strings.ToUpper(attrs.Currency)

	return models.CanonicalEvent{Name: name, Attributes: attrs}
}

// shape returns the object holding the storefront event data; the extension
// sends either the whole event (with a data member) or data itself.
func shape(payload map[string]any) map[string]any {
	if data := obj(payload, "data"); data != nil {
		return data
	}
	return payload
}

// flatAttributes reads canonical-ish attributes that browser and server
// callers send directly.
func flatAttributes(p map[string]any) models.Attributes {
	a := models.Attributes{
		Currency:     firstStr(p, "currency"),
		Value:        firstMoney(p, "value"),
		ContentType:  firstStr(p, "contentType", "content_type"),
		ContentName:  firstStr(p, "contentName", "content_name"),
		NumItems:     firstInt(p, "numItems", "num_items"),
		SearchString: firstStr(p, "searchString", "search_string", "query"),
		OrderID:      firstStr(p, "orderId", "order_id"),
	}
	a.ContentIDs = stringList(p, "contentIds")
	if len(a.ContentIDs) == 0 {
		a.ContentIDs = stringList(p, "content_ids")
	}
	if len(a.ContentIDs) == 0 {
		if id := firstStr(p, "productId", "product_id"); id != "" {
			a.ContentIDs = []string{id}
		}
	}
	return a
}
