package vnpay

import (
	"net/url"
	"strings"
	"testing"
)

func TestHashDataIsSortedAndDeterministic(t *testing.T) {
	a := Params{
		"vnp_TxnRef":  "T100",
		"vnp_Amount":  "50000000",
		"vnp_Command": "pay",
	}
	b := Params{
		"vnp_Command": "pay",
		"vnp_Amount":  "50000000",
		"vnp_TxnRef":  "T100",
	}

	want := "vnp_Amount=50000000&vnp_Command=pay&vnp_TxnRef=T100"
	if got := a.HashData("&"); got != want {
		t.Fatalf("unexpected hash data: %q", got)
	}
	if a.HashData("&") != b.HashData("&") {
		t.Fatal("equal mappings must produce byte-identical hash data")
	}
}

func TestHashDataKeepsEmptyValues(t *testing.T) {
	p := Params{
		"vnp_BankCode": "",
		"vnp_TxnRef":   "T100",
	}
	if got := p.HashData("&"); got != "vnp_BankCode=&vnp_TxnRef=T100" {
		t.Fatalf("empty values must be included, got %q", got)
	}
}

func TestEncodedQueryMatchesHashDataOrder(t *testing.T) {
	p := Params{
		"vnp_OrderInfo": "Thanh toan phi quan ly",
		"vnp_TxnRef":    "T100",
		"vnp_Amount":    "50000000",
	}

	query := p.EncodedQuery()
	hash := p.HashData("&")

	queryKeys := keysOf(t, query)
	hashKeys := keysOf(t, hash)
	if len(queryKeys) != len(hashKeys) {
		t.Fatalf("key count mismatch: %v vs %v", queryKeys, hashKeys)
	}
	for i := range queryKeys {
		if queryKeys[i] != hashKeys[i] {
			t.Fatalf("key order differs at %d: %q vs %q", i, queryKeys[i], hashKeys[i])
		}
	}
}

func TestEncodedQueryEscapesSpacesAsPercent20(t *testing.T) {
	p := Params{"vnp_OrderInfo": "Thanh toan phi"}
	got := p.EncodedQuery()
	if strings.Contains(got, "+") {
		t.Fatalf("gateway escaping must use %%20 for spaces, got %q", got)
	}
	if got != "vnp_OrderInfo=Thanh%20toan%20phi" {
		t.Fatalf("unexpected encoding: %q", got)
	}
}

// The signing form must survive a field-by-field re-parse with no loss or
// reordering ambiguity.
func TestHashDataRoundTrip(t *testing.T) {
	original := Params{
		"vnp_Amount":       "50000000",
		"vnp_CreateDate":   "20250101120000",
		"vnp_OrderInfo":    "Phi gui xe",
		"vnp_ResponseCode": "00",
		"vnp_TxnRef":       "T100",
	}

	reparsed := Params{}
	for _, pair := range strings.Split(original.HashData("&"), "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			t.Fatalf("malformed pair %q", pair)
		}
		reparsed[k] = v
	}

	if len(reparsed) != len(original) {
		t.Fatalf("field loss on round trip: %d vs %d", len(reparsed), len(original))
	}
	for k, v := range original {
		if reparsed[k] != v {
			t.Fatalf("field %s mismatch: %q vs %q", k, reparsed[k], v)
		}
	}
}

func TestCloneDoesNotAliasOriginal(t *testing.T) {
	p := Params{"vnp_SecureHash": "abc", "vnp_TxnRef": "T100"}
	c := p.Clone()
	delete(c, "vnp_SecureHash")
	if _, ok := p["vnp_SecureHash"]; !ok {
		t.Fatal("Clone must not share storage with the original")
	}
}

func keysOf(t *testing.T, encoded string) []string {
	t.Helper()
	var keys []string
	for _, pair := range strings.Split(encoded, "&") {
		k, _, ok := strings.Cut(pair, "=")
		if !ok {
			t.Fatalf("malformed pair %q", pair)
		}
		unescaped, err := url.QueryUnescape(k)
		if err != nil {
			t.Fatalf("unescape %q: %v", k, err)
		}
		keys = append(keys, unescaped)
	}
	return keys
}
