package models

import "time"

// Binding maps a public identity token to its forwarding credential.
// A nil Credential means the binding is registered but inactive.
type Binding struct {
	IdentityToken string    `json:"identityToken"`
	Credential    *string   `json:"-"`
	Label         string    `json:"label"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Active reports whether the binding carries a usable credential.
func (b *Binding) Active() bool {
	return b != nil && b.Credential != nil && *b.Credential != ""
}

// ShopLinkState is the closed set of storefront configuration states.
type ShopLinkState string

const (
	ShopUnlinked           ShopLinkState = "unlinked"
	ShopLinkedNoCredential ShopLinkState = "linked_no_credential"
	ShopOrphaned           ShopLinkState = "orphaned"
	ShopActive             ShopLinkState = "active"
)

// ShopLinkStatus is what the status endpoint reports for one storefront.
type ShopLinkStatus struct {
	ShopDomain    string        `json:"shopDomain"`
	State         ShopLinkState `json:"state"`
	IdentityToken string        `json:"identityToken,omitempty"`
	Label         string        `json:"label,omitempty"`
	// StaleActivation is set when the stored activation flag claims active but
	// the derived state disagrees.
	StaleActivation bool `json:"staleActivation,omitempty"`
}

// DeriveShopLinkState computes the link state from what the store found.
// linked is false when the shop row has no identity token; binding is nil when
// the linked token does not resolve.
func DeriveShopLinkState(linked bool, binding *Binding) ShopLinkState {
	switch {
	case !linked:
		return ShopUnlinked
	case binding == nil:
		return ShopOrphaned
	case !binding.Active():
		return ShopLinkedNoCredential
	default:
		return ShopActive
	}
}
