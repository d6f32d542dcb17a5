package solana

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mr-tron/base58"
)

var ErrInvalidKeypair = errors.New("invalid keypair")

// Signer produces ed25519 signatures for one account.
type Signer interface {
	PublicKey() Pubkey
	Sign(message []byte) (Signature, error)
}

type Keypair struct {
	priv ed25519.PrivateKey
	pub  Pubkey
}

func NewKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return KeypairFromPrivateKey(priv)
}

func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrInvalidKeypair
	}
	return KeypairFromPrivateKey(ed25519.NewKeyFromSeed(seed))
}

// KeypairFromPrivateKey checks that the trailing public half matches the seed.
func KeypairFromPrivateKey(priv ed25519.PrivateKey) (*Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	derived := ed25519.NewKeyFromSeed(priv.Seed())
	if string(derived[32:]) != string(priv[32:]) {
		return nil, ErrInvalidKeypair
	}
	kp := &Keypair{priv: derived}
	copy(kp.pub[:], derived[32:])
	return kp, nil
}

func (k *Keypair) PublicKey() Pubkey { return k.pub }

func (k *Keypair) Sign(message []byte) (Signature, error) {
	var out Signature
	copy(out[:], ed25519.Sign(k.priv, message))
	return out, nil
}

// String never exposes secret material.
func (k *Keypair) String() string { return "Keypair(" + k.pub.Base58() + ")" }

func DefaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "solana", "id.json")
}

// LoadKeypairFile reads a Solana CLI keypair file (JSON array of 64 bytes).
func LoadKeypairFile(path string) (*Keypair, error) {
	if path == "" {
		return nil, fmt.Errorf("keypair path required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, ErrInvalidKeypair
	}
	if len(ints) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}

	key := make([]byte, ed25519.PrivateKeySize)
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, ErrInvalidKeypair
		}
		key[i] = byte(v)
	}
	return KeypairFromPrivateKey(key)
}

// ParseKeypairBase58 decodes a base58 encoded 64-byte secret key.
func ParseKeypairBase58(s string) (*Keypair, error) {
	b, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeypair
	}
	return KeypairFromPrivateKey(b)
}
