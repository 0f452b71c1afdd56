package keys

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"3send.xyz/send/chain"
	"3send.xyz/send/envelope"
)

func TestFromSeed_Deterministic(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	a, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}
	b, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("second FromSeed failed: %v", err)
	}
	if a.Address != b.Address {
		t.Fatalf("addresses diverge: %s vs %s", a.Address, b.Address)
	}
	if a.EnvelopeKey != b.EnvelopeKey {
		t.Fatalf("envelope keys diverge")
	}
	if !strings.HasPrefix(a.Address, "0x") || len(a.Address) != 42 {
		t.Fatalf("address = %q", a.Address)
	}
}

func TestFromSeed_IndependentKeys(t *testing.T) {
	seed := bytes.Repeat([]byte{0x07}, 64)
	id, err := FromSeed(seed)
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}
	signBytes := id.SigningKey.Serialize()
	if bytes.Equal(signBytes, id.EnvelopeKey[:]) {
		t.Fatalf("signing and envelope keys share material")
	}
}

func TestFromSeed_EmptySeed(t *testing.T) {
	if _, err := FromSeed(nil); err == nil {
		t.Fatalf("FromSeed accepted an empty seed")
	}
}

func TestFromMnemonic_RoundTrip(t *testing.T) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		t.Fatalf("NewMnemonic failed: %v", err)
	}
	if got := len(strings.Fields(mnemonic)); got != 24 {
		t.Fatalf("mnemonic has %d words, want 24", got)
	}
	a, err := FromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("FromMnemonic failed: %v", err)
	}
	b, err := FromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("second FromMnemonic failed: %v", err)
	}
	if a.Address != b.Address {
		t.Fatalf("mnemonic derivation not deterministic")
	}

	// A passphrase changes the identity.
	c, err := FromMnemonic(mnemonic, "hunter2")
	if err != nil {
		t.Fatalf("FromMnemonic with passphrase failed: %v", err)
	}
	if c.Address == a.Address {
		t.Fatalf("passphrase did not change the derived identity")
	}
}

func TestFromMnemonic_RejectsInvalid(t *testing.T) {
	if _, err := FromMnemonic("not a real mnemonic phrase at all", ""); err == nil {
		t.Fatalf("invalid mnemonic accepted")
	}
}

func TestSignHandshake_RecoversAddress(t *testing.T) {
	id, err := FromSeed(bytes.Repeat([]byte{0x11}, 64))
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}
	message := "3SEND ENCRYPTED TRANSFER v1\n\nsigned content"
	sig, err := id.SignHandshake(message)
	if err != nil {
		t.Fatalf("SignHandshake failed: %v", err)
	}
	recovered, err := chain.RecoverAddress([]byte(message), sig)
	if err != nil {
		t.Fatalf("RecoverAddress failed: %v", err)
	}
	if recovered != id.Address {
		t.Fatalf("recovered %s, want %s", recovered, id.Address)
	}
}

func TestSignHandshake_NilIdentity(t *testing.T) {
	var id *Identity
	if _, err := id.SignHandshake("anything"); err == nil {
		t.Fatalf("nil identity signed a message")
	}
}

func TestExportPublic_SealInterop(t *testing.T) {
	id, err := FromSeed(bytes.Repeat([]byte{0x23}, 64))
	if err != nil {
		t.Fatalf("FromSeed failed: %v", err)
	}
	address, pubHex, err := ExportPublic(id)
	if err != nil {
		t.Fatalf("ExportPublic failed: %v", err)
	}
	if address != id.Address {
		t.Fatalf("exported address %s, want %s", address, id.Address)
	}
	pub, err := ParseEnvelopePublicKey(pubHex)
	if err != nil {
		t.Fatalf("ParseEnvelopePublicKey failed: %v", err)
	}

	// A sender sealing to the exported key produces an envelope the identity
	// can open.
	plaintext := []byte("shared through the exported key")
	ciphertext, env, err := envelope.Seal(plaintext, pub[:], nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	opened, err := envelope.Open(ciphertext, env, id.EnvelopeKey)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch")
	}
}

func TestParseEnvelopePublicKey_Rejections(t *testing.T) {
	if _, err := ParseEnvelopePublicKey("zz"); err == nil {
		t.Fatalf("non-hex key accepted")
	}
	if _, err := ParseEnvelopePublicKey("aabb"); err == nil {
		t.Fatalf("short key accepted")
	}
}

func TestKeyStore_InitLoadList(t *testing.T) {
	ks := &KeyStore{Directory: t.TempDir()}
	seed := bytes.Repeat([]byte{0x55}, 64)

	id, path, err := ks.Init("alice", seed, false)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if filepath.Base(path) != "seed.hex" {
		t.Fatalf("seed path = %s", path)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat seed file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("seed file mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := ks.Load("alice")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Address != id.Address {
		t.Fatalf("loaded address %s, want %s", loaded.Address, id.Address)
	}

	entries, err := ks.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "alice" || entries[0].Address != id.Address {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestKeyStore_InitRefusesOverwrite(t *testing.T) {
	ks := &KeyStore{Directory: t.TempDir()}
	seed := bytes.Repeat([]byte{0x66}, 64)

	if _, _, err := ks.Init("bob", seed, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	other := bytes.Repeat([]byte{0x77}, 64)
	if _, _, err := ks.Init("bob", other, false); err == nil {
		t.Fatalf("Init overwrote an existing seed without force")
	}
	// With overwrite the new seed wins.
	forced, _, err := ks.Init("bob", other, true)
	if err != nil {
		t.Fatalf("forced Init failed: %v", err)
	}
	loaded, err := ks.Load("bob")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Address != forced.Address {
		t.Fatalf("seed not replaced")
	}
}

func TestKeyStore_LoadSeedSources(t *testing.T) {
	ks := &KeyStore{Directory: t.TempDir()}
	seed := bytes.Repeat([]byte{0x31}, 32)
	if _, _, err := ks.Init("carol", seed, false); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	fromHex, err := ks.LoadSeed("0x3131", "", "")
	if err != nil || !bytes.Equal(fromHex, []byte{0x31, 0x31}) {
		t.Fatalf("LoadSeed hex = %x, %v", fromHex, err)
	}
	fromName, err := ks.LoadSeed("", "carol", "")
	if err != nil || !bytes.Equal(fromName, seed) {
		t.Fatalf("LoadSeed name failed: %v", err)
	}
	fromFile, err := ks.LoadSeed("", "", ks.seedPath("carol"))
	if err != nil || !bytes.Equal(fromFile, seed) {
		t.Fatalf("LoadSeed file failed: %v", err)
	}
	if _, err := ks.LoadSeed("", "", ""); err == nil {
		t.Fatalf("LoadSeed accepted no source")
	}
}

func TestCheckName(t *testing.T) {
	for _, name := range []string{"alice", "team-key_2", "A1"} {
		if err := CheckName(name); err != nil {
			t.Fatalf("CheckName(%q) failed: %v", name, err)
		}
	}
	for _, name := range []string{"", "has space", "dot.dot", "../escape"} {
		if err := CheckName(name); err == nil {
			t.Fatalf("CheckName(%q) accepted", name)
		}
	}
}
