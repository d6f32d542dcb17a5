package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mr-tron/base58"
)

func testSeed(b byte) []byte {
	seed := make([]byte, ed25519.SeedSize)
	for i := range seed {
		seed[i] = b
	}
	return seed
}

func TestLoadKeypairFile(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed(7))
	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	raw, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	kp, err := LoadKeypairFile(path)
	if err != nil {
		t.Fatalf("LoadKeypairFile: %v", err)
	}
	if string(kp.PublicKey().Base58()) != base58.Encode(priv[32:]) {
		t.Fatalf("public key mismatch")
	}
}

func TestLoadKeypairFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`[1,2,3]`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeypairFile(path); err != ErrInvalidKeypair {
		t.Fatalf("want ErrInvalidKeypair, got %v", err)
	}
	if _, err := LoadKeypairFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestParseKeypairBase58(t *testing.T) {
	priv := ed25519.NewKeyFromSeed(testSeed(9))
	kp, err := ParseKeypairBase58(base58.Encode(priv))
	if err != nil {
		t.Fatalf("ParseKeypairBase58: %v", err)
	}

	msg := []byte("lookup")
	sig, err := kp.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	pub := kp.PublicKey()
	if !ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:]) {
		t.Fatalf("signature did not verify")
	}

	tampered := append([]byte{}, priv...)
	tampered[40] ^= 0xff
	if _, err := ParseKeypairBase58(base58.Encode(tampered)); err != ErrInvalidKeypair {
		t.Fatalf("want ErrInvalidKeypair for mismatched public half, got %v", err)
	}
}

func TestKeypair_StringHidesSecret(t *testing.T) {
	kp, err := KeypairFromSeed(testSeed(1))
	if err != nil {
		t.Fatalf("KeypairFromSeed: %v", err)
	}
	if !strings.Contains(kp.String(), kp.PublicKey().Base58()) {
		t.Fatalf("String()=%q", kp.String())
	}
	if strings.Contains(kp.String(), base58.Encode(testSeed(1))) {
		t.Fatalf("String() leaks the seed")
	}
}
