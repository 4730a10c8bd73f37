package webhook

import (
	"errors"
	"testing"
)

func TestVerifyValidSignature(t *testing.T) {
	v := NewVerifier("test-secret")
	body := []byte(`{"type":"call-started","call":{"id":"c1"}}`)

	if err := v.Verify(body, v.Sign(body)); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
}

func TestVerifyRejectsSingleByteChange(t *testing.T) {
	v := NewVerifier("test-secret")
	body := []byte(`{"type":"call-started","call":{"id":"c1"}}`)
	sig := v.Sign(body)

	tampered := append([]byte(nil), body...)
	tampered[10] ^= 0x01

	if err := v.Verify(tampered, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered body accepted, err = %v", err)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	body := []byte(`{}`)
	sig := NewVerifier("secret-a").Sign(body)

	if err := NewVerifier("secret-b").Verify(body, sig); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("signature from wrong secret accepted, err = %v", err)
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	body := []byte(`{}`)

	tests := []struct {
		name      string
		secret    string
		signature string
	}{
		{"missing signature", "secret", ""},
		{"non-hex signature", "secret", "zzzz"},
		{"truncated signature", "secret", "abcd"},
		{"empty secret", "", NewVerifier("x").Sign(body)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewVerifier(tt.secret)
			if err := v.Verify(body, tt.signature); !errors.Is(err, ErrInvalidSignature) {
				t.Errorf("err = %v, want ErrInvalidSignature", err)
			}
		})
	}
}
