package security

import "testing"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", key)

	plain := `{"api_key":"k","api_secret":"s"}`
	enc, err := EncryptString(plain)
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	if enc == plain {
		t.Fatalf("ciphertext equals plaintext")
	}

	dec, err := DecryptString(enc)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if dec != plain {
		t.Fatalf("round trip mismatch: %q", dec)
	}
}

func TestPassphraseKeyDerivation(t *testing.T) {
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", "not-a-base64-key")

	enc, err := EncryptString("secret payload")
	if err != nil {
		t.Fatalf("EncryptString failed: %v", err)
	}
	dec, err := DecryptString(enc)
	if err != nil {
		t.Fatalf("DecryptString failed: %v", err)
	}
	if dec != "secret payload" {
		t.Fatalf("round trip mismatch: %q", dec)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	t.Setenv("EXCHANGE_CREDENTIALS_KEY", key)

	if _, err := DecryptString("AAAA"); err == nil {
		t.Fatalf("expected error for truncated ciphertext")
	}
}
