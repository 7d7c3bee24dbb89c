package models

// EventIngestRequest is the POST /events payload, and the decoded form of the
// GET /events beacon query string.
//
// Browser and server callers send canonical-ish fields directly; the storefront
// extension sends its own event name and payload shape under attributes.
type EventIngestRequest struct {
	IdentityToken  string         `json:"identityToken"`
	EventName      string         `json:"eventName"`
	EventID        string         `json:"eventId,omitempty"`
	OccurrenceTime *int64         `json:"occurrenceTime,omitempty"`
	SourceURL      string         `json:"sourceUrl,omitempty"`
	ActionSource   string         `json:"actionSource,omitempty"`
	IdentityFacts  map[string]any `json:"identityFacts,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

// EventIngestResponse is returned by every /events call.
// Reference is the audit record id when one was opened.
type EventIngestResponse struct {
	Success   bool   `json:"success"`
	Reference string `json:"reference,omitempty"`
	EventID   string `json:"eventId,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Content is one line item of a canonical event.
type Content struct {
	ID        string   `json:"id"`
	Quantity  int      `json:"quantity,omitempty"`
	ItemPrice *float64 `json:"item_price,omitempty"`
}

// Attributes is the domain attribute set of a canonical event. Absent values
// stay absent on the wire.
type Attributes struct {
	Currency     string    `json:"currency,omitempty"`
	Value        *float64  `json:"value,omitempty"`
	ContentIDs   []string  `json:"content_ids,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ContentName  string    `json:"content_name,omitempty"`
	Contents     []Content `json:"contents,omitempty"`
	NumItems     *int      `json:"num_items,omitempty"`
	SearchString string    `json:"search_string,omitempty"`
	OrderID      string    `json:"order_id,omitempty"`
}

// IsZero reports whether no attribute was extracted.
func (a Attributes) IsZero() bool {
	return a.Currency == "" && a.Value == nil && len(a.ContentIDs) == 0 &&
		a.ContentType == "" && a.ContentName == "" && len(a.Contents) == 0 &&
		a.NumItems == nil && a.SearchString == "" && a.OrderID == ""
}

// CanonicalEvent is the source-agnostic event that flows from the mapper to the
// forwarder.
type CanonicalEvent struct {
	Name             string
	OccurrenceTime   int64
	IdempotencyToken string
	IdentityToken    string
	SourceURL        string
	ActionSource     string
	Facts            map[string]string
	Attributes       Attributes
}
