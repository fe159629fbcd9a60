/**
 * @description
 * Canonical parameter encoding for the VNPay wire format. Every signature in
 * the protocol (outgoing pay request, browser-return verification, IPN
 * verification) is computed over a deterministic serialization of a field map:
 * entries sorted by field name in byte order and joined as key=value pairs.
 *
 * Two encodings share that exact ordering:
 *   - HashData: raw values, used as the HMAC message.
 *   - EncodedQuery: percent-encoded values, used as the redirect query string.
 *
 * @notes
 * - Empty values are kept (the gateway signs them); absent keys are simply
 *   not present in the map.
 * - The gateway's documented escaping encodes spaces as %20, not '+', so the
 *   query form post-processes url.QueryEscape output.
 */

package vnpay

import (
	"net/url"
	"sort"
	"strings"
)

// Params is an inbound or outbound VNPay field mapping. Values are already
// stringified per gateway convention (integers as digit strings, dates as
// YYYYMMDDHHmmss).
type Params map[string]string

// Clone returns a shallow copy, so callers can strip fields without mutating
// the original mapping.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func (p Params) sortedKeys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// HashData serializes the mapping in signing form: sorted keys, raw values,
// joined with sep. Two equal mappings always produce byte-identical output.
func (p Params) HashData(sep string) string {
	var b strings.Builder
	for i, k := range p.sortedKeys() {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(p[k])
	}
	return b.String()
}

// EncodedQuery serializes the mapping as a URL query string with the same key
// order as HashData. Values are percent-encoded per the gateway convention
// (space encodes to %20).
func (p Params) EncodedQuery() string {
	var b strings.Builder
	for i, k := range p.sortedKeys() {
		if i > 0 {
			b.WriteString("&")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(escapeValue(p[k]))
	}
	return b.String()
}

func escapeValue(v string) string {
	return strings.ReplaceAll(url.QueryEscape(v), "+", "%20")
}
