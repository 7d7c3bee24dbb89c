package mapper

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Typed accessors over decoded JSON. Every accessor returns the zero value
// when the key is missing or holds the wrong type.

func obj(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]any)
	return v
}

func list(m map[string]any, key string) []any {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]any)
	return v
}

// str returns a string value; numeric ids are formatted without exponent.
func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	}
	return ""
}

// money reads an amount sent either as a JSON number or as a numeric string.
func money(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	var d decimal.Decimal
	switch v := m[key].(type) {
	case float64:
		d = decimal.NewFromFloat(v)
	case json.Number:
		parsed, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil
		}
		d = parsed
	case string:
		parsed, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		d = parsed
	default:
		return nil
	}
	f := d.Round(2).InexactFloat64()
	return &f
}

func integer(m map[string]any, key string) *int {
	if m == nil {
		return nil
	}
	var n int
	switch v := m[key].(type) {
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return nil
		}
		n = int(v)
	case int:
		n = v
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			return nil
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func stringList(m map[string]any, key string) []string {
	var out []string
	for _, item := range list(m, key) {
		switch v := item.(type) {
		case string:
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		case float64:
			out = append(out, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return out
}

// firstStr returns the first non-empty string among keys.
func firstStr(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := str(m, k); s != "" {
			return s
		}
	}
	return ""
}

func firstMoney(m map[string]any, keys ...string) *float64 {
	for _, k := range keys {
		if v := money(m, k); v != nil {
			return v
		}
	}
	return nil
}

func firstInt(m map[string]any, keys ...string) *int {
	for _, k := range keys {
		if v := integer(m, k); v != nil {
			return v
		}
	}
	return nil
}
