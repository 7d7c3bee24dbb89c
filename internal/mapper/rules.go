package mapper

import (
	"github.com/PratikDhanave/conversions-gateway/internal/models"
)

// rule extracts attributes from the storefront shape of one canonical event.
// Rules never overwrite an attribute the caller already sent flat.
type rule func(data map[string]any, a *models.Attributes)

var rules = map[string]rule{
	ViewContent:      viewContentRule,
	Search:           searchRule,
	AddToCart:        addToCartRule,
	ViewCart:         viewCartRule,
	InitiateCheckout: checkoutRule,
	AddShippingInfo:  checkoutRule,
	AddPaymentInfo:   checkoutRule,
	Purchase:         purchaseRule,
}

// viewContentRule handles product_viewed (productVariant) and
// collection_viewed (collection).
func viewContentRule(data map[string]any, a *models.Attributes) {
	if variant := obj(data, "productVariant"); variant != nil {
		l := variantLine(variant)
		product := obj(variant, "product")
		setIDs(a, l.ids())
		setStr(&a.ContentType, "product")
		setStr(&a.ContentName, str(product, "title"))
		setMoney(&a.Value, l.price)
		setStr(&a.Currency, currencyOf(obj(variant, "price")))
		return
	}
	if collection := obj(data, "collection"); collection != nil {
		setIDs(a, variantIDs(list(collection, "productVariants")))
		setStr(&a.ContentName, str(collection, "title"))
	}
}

func searchRule(data map[string]any, a *models.Attributes) {
	result := obj(data, "searchResult")
	setStr(&a.SearchString, str(result, "query"))
	setIDs(a, variantIDs(list(result, "productVariants")))
}

func addToCartRule(data map[string]any, a *models.Attributes) {
	cartLine := obj(data, "cartLine")
	if cartLine == nil {
		return
	}
	merchandise := obj(cartLine, "merchandise")
	l := variantLine(merchandise)
	if q := integer(cartLine, "quantity"); q != nil {
		l.qty = *q
	}
	setIDs(a, l.ids())
	setStr(&a.ContentType, "product")
	setStr(&a.ContentName, str(obj(merchandise, "product"), "title"))
	setContents(a, []line{l})
	setInt(&a.NumItems, &l.qty)

	total := obj(obj(cartLine, "cost"), "totalAmount")
	setMoney(&a.Value, money(total, "amount"))
	if a.Value == nil && l.price != nil {
		v := *l.price * float64(l.qty)
		a.Value = &v
	}
	setStr(&a.Currency, currencyOf(total))
	setStr(&a.Currency, currencyOf(obj(merchandise, "price")))
}

func viewCartRule(data map[string]any, a *models.Attributes) {
	cart := obj(data, "cart")
	if cart == nil {
		return
	}
	var lines []line
	for _, item := range list(cart, "lines") {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		l := variantLine(obj(entry, "merchandise"))
		if q := integer(entry, "quantity"); q != nil {
			l.qty = *q
		}
		lines = append(lines, l)
	}
	applyLines(a, lines)
	setInt(&a.NumItems, integer(cart, "totalQuantity"))

	total := obj(obj(cart, "cost"), "totalAmount")
	setMoney(&a.Value, money(total, "amount"))
	setStr(&a.Currency, currencyOf(total))
}

func checkoutRule(data map[string]any, a *models.Attributes) {
	checkout := obj(data, "checkout")
	if checkout == nil {
		return
	}
	var lines []line
	for _, item := range list(checkout, "lineItems") {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		l := variantLine(obj(entry, "variant"))
		if q := integer(entry, "quantity"); q != nil {
			l.qty = *q
		}
		lines = append(lines, l)
	}
	applyLines(a, lines)

	total := obj(checkout, "totalPrice")
	setMoney(&a.Value, money(total, "amount"))
	setStr(&a.Currency, currencyOf(total))
	setStr(&a.Currency, str(checkout, "currencyCode"))
}

func purchaseRule(data map[string]any, a *models.Attributes) {
	checkoutRule(data, a)
	setStr(&a.OrderID, str(obj(obj(data, "checkout"), "order"), "id"))
}

// line is one product line pulled out of a storefront payload.
type line struct {
	productID string
	variantID string
	qty       int
	price     *float64
}

func (l line) id() string {
	if l.productID != "" {
		return l.productID
	}
	return l.variantID
}

func (l line) ids() []string {
	if id := l.id(); id != "" {
		return []string{id}
	}
	return nil
}

func variantLine(variant map[string]any) line {
	return line{
		productID: str(obj(variant, "product"), "id"),
		variantID: str(variant, "id"),
		qty:       1,
		price:     money(obj(variant, "price"), "amount"),
	}
}

func variantIDs(variants []any) []string {
	var ids []string
	for _, item := range variants {
		variant, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if id := variantLine(variant).id(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func applyLines(a *models.Attributes, lines []line) {
	if len(lines) == 0 {
		return
	}
	var ids []string
	count := 0
	for _, l := range lines {
		if id := l.id(); id != "" {
			ids = append(ids, id)
		}
		count += l.qty
	}
	setIDs(a, ids)
	setStr(&a.ContentType, "product")
	setContents(a, lines)
	setInt(&a.NumItems, &count)
}

func currencyOf(price map[string]any) string {
	return str(price, "currencyCode")
}

func setStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setMoney(dst **float64, v *float64) {
	if *dst == nil {
		*dst = v
	}
}

func setInt(dst **int, v *int) {
	if *dst == nil && v != nil {
		n := *v
		*dst = &n
	}
}

func setIDs(a *models.Attributes, ids []string) {
	if len(a.ContentIDs) == 0 && len(ids) > 0 {
		a.ContentIDs = ids
	}
}

func setContents(a *models.Attributes, lines []line) {
	if len(a.Contents) > 0 {
		return
	}
	for _, l := range lines {
		if id := l.id(); id != "" {
			a.Contents = append(a.Contents, models.Content{ID: id, Quantity: l.qty, ItemPrice: l.price})
		}
	}
}
