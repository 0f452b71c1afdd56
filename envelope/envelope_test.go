package envelope

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/cloudflare/circl/dh/x25519"
)

func newRecipient(t *testing.T) (secret [KeySize]byte, public []byte) {
	t.Helper()
	var sec, pub x25519.Key
	if _, err := rand.Read(sec[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	x25519.KeyGen(&pub, &sec)
	copy(secret[:], sec[:])
	return secret, pub[:]
}

func TestSealOpen_RoundTrip(t *testing.T) {
	secret, pub := newRecipient(t)
	plaintext := []byte("the quick brown fox")

	ciphertext, env, err := Seal(plaintext, pub, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if env.PlaintextLength != uint64(len(plaintext)) {
		t.Fatalf("PlaintextLength = %d, want %d", env.PlaintextLength, len(plaintext))
	}
	if env.CiphertextLength != uint64(len(ciphertext)) {
		t.Fatalf("CiphertextLength = %d, want %d", env.CiphertextLength, len(ciphertext))
	}

	got, err := Open(ciphertext, env, secret)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("round trip mismatch: got %q", got)
	}
}

func TestOpen_TamperDetection(t *testing.T) {
	secret, pub := newRecipient(t)
	ciphertext, env, err := Seal([]byte("payload"), pub, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(ct []byte, env *Envelope)
	}{
		{"ciphertext byte", func(ct []byte, _ *Envelope) { ct[0] ^= 0x01 }},
		{"nonce byte", func(_ []byte, e *Envelope) { e.IV[0] ^= 0x01 }},
		{"ephemeral key byte", func(_ []byte, e *Envelope) { e.EphemeralPublicKey[0] ^= 0x01 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct := append([]byte(nil), ciphertext...)
			cp := *env
			cp.IV = append([]byte(nil), env.IV...)
			cp.EphemeralPublicKey = append([]byte(nil), env.EphemeralPublicKey...)
			tc.mutate(ct, &cp)
			if _, err := Open(ct, &cp, secret); !errors.Is(err, ErrAuthentication) {
				t.Fatalf("Open after tamper: got %v, want ErrAuthentication", err)
			}
		})
	}
}

func TestSeal_NoteUsesDistinctNonce(t *testing.T) {
	secret, pub := newRecipient(t)
	_, env, err := Seal([]byte("file"), pub, []byte("hello there"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(env.NoteCiphertext) == 0 {
		t.Fatalf("note was not sealed")
	}
	if bytes.Equal(env.IV, env.NoteIV) {
		t.Fatalf("note nonce equals file nonce")
	}
	if env.NoteEncoding != NoteEncodingUTF8 {
		t.Fatalf("NoteEncoding = %q", env.NoteEncoding)
	}
	note, err := OpenNote(env, secret)
	if err != nil {
		t.Fatalf("OpenNote failed: %v", err)
	}
	if string(note) != "hello there" {
		t.Fatalf("note = %q", note)
	}
}

func TestValidate_FailsClosed(t *testing.T) {
	_, pub := newRecipient(t)
	_, env, err := Seal([]byte("x"), pub, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	badVersion := *env
	badVersion.Version = 2
	if err := Validate(&badVersion); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("unknown version: got %v", err)
	}

	badAlg := *env
	badAlg.Algorithm = "x448-aes-gcm"
	if err := Validate(&badAlg); !errors.Is(err, ErrUnsupportedAlgorithm) {
		t.Fatalf("unknown algorithm: got %v", err)
	}

	// Open must also refuse before touching key material.
	secret, _ := newRecipient(t)
	if _, err := Open([]byte("ct"), &badVersion, secret); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("Open with unknown version: got %v", err)
	}
}

func TestSeal_RejectsBadRecipientKey(t *testing.T) {
	if _, _, err := Seal([]byte("x"), []byte("short"), nil); !errors.Is(err, ErrBadRecipientKey) {
		t.Fatalf("got %v, want ErrBadRecipientKey", err)
	}
}

func TestDeriveScalar_Clamping(t *testing.T) {
	scalar, err := DeriveScalar([]byte("external authenticator output"))
	if err != nil {
		t.Fatalf("DeriveScalar failed: %v", err)
	}
	if scalar[0]&7 != 0 {
		t.Fatalf("low bits not cleared: %08b", scalar[0])
	}
	if scalar[31]&0x80 != 0 {
		t.Fatalf("high bit not cleared: %08b", scalar[31])
	}
	if scalar[31]&0x40 == 0 {
		t.Fatalf("second-highest bit not set: %08b", scalar[31])
	}

	// Deterministic for the same input, distinct for different inputs.
	again, err := DeriveScalar([]byte("external authenticator output"))
	if err != nil {
		t.Fatalf("DeriveScalar failed: %v", err)
	}
	if scalar != again {
		t.Fatalf("derivation is not deterministic")
	}
	other, _ := DeriveScalar([]byte("different input"))
	if scalar == other {
		t.Fatalf("distinct inputs derived the same scalar")
	}
}

func TestDeriveScalar_InteroperatesWithSeal(t *testing.T) {
	scalar, err := DeriveScalar([]byte("prk"))
	if err != nil {
		t.Fatalf("DeriveScalar failed: %v", err)
	}
	pub := PublicKey(scalar)
	ciphertext, env, err := Seal([]byte("for the derived key"), pub[:], nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	got, err := Open(ciphertext, env, scalar)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if string(got) != "for the derived key" {
		t.Fatalf("round trip mismatch: %q", got)
	}
}

func TestDigest_DeterministicAndNoteSensitive(t *testing.T) {
	_, pub := newRecipient(t)
	_, env, err := Seal([]byte("data"), pub, nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	d1 := Digest(env)
	d2 := Digest(env)
	if d1 != d2 {
		t.Fatalf("digest not deterministic: %s vs %s", d1, d2)
	}
	if len(d1) != 64 {
		t.Fatalf("digest length = %d, want 64", len(d1))
	}

	_, withNote, err := Seal([]byte("data"), pub, []byte("note"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if Digest(withNote) == d1 {
		t.Fatalf("note fields did not change the digest")
	}

	changed := *env
	changed.PlaintextLength++
	if Digest(&changed) == d1 {
		t.Fatalf("plaintext length change did not change the digest")
	}
}
