// Package privacy turns raw personal identifiers into the hashed form the
// upstream Conversions API matches on.
//
// Hashing is unsalted SHA-256 on purpose: upstream matching only works when the
// gateway and the upstream hash the same normalized value the same way.
package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Upstream user_data keys.
const (
	KeyEmail      = "em"
	KeyPhone      = "ph"
	KeyFirstName  = "fn"
	KeyLastName   = "ln"
	KeyCity       = "ct"
	KeyRegion     = "st"
	KeyPostalCode = "zp"
	KeyCountry    = "country"

	KeyUserAgent = "client_user_agent"
	KeyClientIP  = "client_ip_address"
	KeyFBP       = "fbp"
	KeyFBC       = "fbc"
)

type field struct {
	key     string
	aliases []string
}

// Aliases are listed in precedence order. When a submission carries more than
// one alias for a field, the first usable one wins.
var hashedFields = []field{
	{KeyEmail, []string{"email", "em"}},
	{KeyPhone, []string{"phone", "ph"}},
	{KeyFirstName, []string{"firstName", "first_name", "fn"}},
	{KeyLastName, []string{"lastName", "last_name", "ln"}},
	{KeyCity, []string{"city", "ct"}},
	{KeyRegion, []string{"region", "state", "st"}},
	{KeyPostalCode, []string{"postalCode", "postal_code", "zip", "zp"}},
	{KeyCountry, []string{"country"}},
}

var passThroughFields = []field{
	{KeyUserAgent, []string{"userAgent", "user_agent", "client_user_agent"}},
	{KeyClientIP, []string{"clientIp", "client_ip_address"}},
	{KeyFBP, []string{"fbp", "_fbp"}},
	{KeyFBC, []string{"fbc", "_fbc"}},
}

// Normalize hashes every present personal field and copies the pass-through
// fields verbatim. Blank and non-string values are dropped, so an absent field
// never turns into the hash of an empty string.
func Normalize(raw map[string]any) map[string]string {
	out := make(map[string]string, len(hashedFields)+len(passThroughFields))
	for _, f := range hashedFields {
		for _, alias := range f.aliases {
			if h := HashValue(stringValue(raw, alias)); h != "" {
				out[f.key] = h
				break
			}
		}
	}
	for _, f := range passThroughFields {
		for _, alias := range f.aliases {
			if v := stringValue(raw, alias); strings.TrimSpace(v) != "" {
				out[f.key] = v
				break
			}
		}
	}
	return out
}

func stringValue(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return s
}

// HashValue trims, lower-cases and hashes v. It returns "" for blank input.
// A value that already is a SHA-256 hex digest is returned as is.
func HashValue(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	if isHexDigest(v) {
		return v
	}
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:])
}

func isHexDigest(v string) bool {
	if len(v) != sha256.Size*2 {
		return false
	}
	for _, c := range v {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
