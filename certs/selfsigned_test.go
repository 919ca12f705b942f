package certs

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	info, err := Generate(time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if len(info.TLSCert.Certificate) != 1 {
		t.Fatalf("got %d certificates, want 1", len(info.TLSCert.Certificate))
	}

	sum := sha256.Sum256(info.TLSCert.Certificate[0])
	if sum != info.Fingerprint {
		t.Error("fingerprint does not match certificate DER")
	}
	if info.FingerprintHex() != hex.EncodeToString(sum[:]) {
		t.Error("hex fingerprint mismatch")
	}

	if remaining := time.Until(info.NotAfter); remaining > time.Hour || remaining < 50*time.Minute {
		t.Errorf("validity remaining %s, want about an hour", remaining)
	}
}

func TestGenerate_CapsValidity(t *testing.T) {
	info, err := Generate(365 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(info.NotAfter) > maxValidity {
		t.Errorf("validity extends past the %s cap", maxValidity)
	}
}

func TestGenerate_ZeroValidityDefaults(t *testing.T) {
	info, err := Generate(0)
	if err != nil {
		t.Fatal(err)
	}
	if !info.NotAfter.After(time.Now()) {
		t.Error("certificate already expired")
	}
}
