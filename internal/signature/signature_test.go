package signature

import (
	"testing"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"order.paid","data":{"orderId":"o1"}}`)
	secret := "whsec_test_secret"

	sig := Sign(payload, secret)
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars for sha256, got %d", len(sig))
	}

	if !Verify(payload, secret, sig) {
		t.Fatal("signature should verify with the signing secret")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	sig := Sign(payload, "secret-a")
	if Verify(payload, "secret-b", sig) {
		t.Fatal("signature should not verify with a different secret")
	}
}

func TestVerifyRejectsMutatedPayload(t *testing.T) {
	payload := []byte(`{"amount":100}`)
	secret := "whsec_test_secret"

	sig := Sign(payload, secret)
	tampered := []byte(`{"amount":999}`)
	if Verify(tampered, secret, sig) {
		t.Fatal("signature should not verify a mutated payload")
	}
}

func TestVerifyRejectsMalformedSignatures(t *testing.T) {
	payload := []byte(`{}`)
	secret := "s"
	valid := Sign(payload, secret)

	cases := map[string]string{
		"empty":          "",
		"not hex":        "zzzz",
		"truncated":      valid[:32],
		"too long":       valid + "00",
		"prefix mutated": "00" + valid[2:],
		"suffix mutated": valid[:62] + "00",
	}
	for name, sig := range cases {
		if Verify(payload, secret, sig) {
			t.Errorf("%s: signature %q should not verify", name, sig)
		}
	}
}

func TestParseHeader(t *testing.T) {
	parts := ParseHeader("t=1712000000,v1=abcdef012345,v0=legacy")
	if parts["t"] != "1712000000" {
		t.Errorf("t = %q, want 1712000000", parts["t"])
	}
	if parts["v1"] != "abcdef012345" {
		t.Errorf("v1 = %q, want abcdef012345", parts["v1"])
	}
	if parts["v0"] != "legacy" {
		t.Errorf("v0 = %q, want legacy", parts["v0"])
	}
}

func TestParseHeaderSkipsMalformedElements(t *testing.T) {
	parts := ParseHeader(" t=1 , garbage , =nokey , v1=sig ")
	if len(parts) != 2 {
		t.Fatalf("expected 2 parts, got %d: %v", len(parts), parts)
	}
	if parts["t"] != "1" {
		t.Errorf("t = %q, want 1", parts["t"])
	}
	if _, ok := parts["v1"]; !ok {
		t.Error("expected v1 to be parsed")
	}
}

func TestParseHeaderKeepsFirstDuplicate(t *testing.T) {
	parts := ParseHeader("v1=first,v1=second")
	if parts["v1"] != "first" {
		t.Errorf("v1 = %q, want first", parts["v1"])
	}
}
