// Package tables persists lookup tables by name so an interrupted
// lifecycle can be resumed.
package tables

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Abdullah1738/juno-alt/offchain/alt"
	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

const SchemaVersion = 1

var ErrNotFound = errors.New("lookup table not found")

type Registry struct {
	SchemaVersion int      `json:"schema_version"`
	Tables        []Record `json:"tables"`
}

type Record struct {
	Name    string `json:"name"`
	Cluster string `json:"cluster,omitempty"`
	RPCURL  string `json:"rpc_url,omitempty"`

	Address          string   `json:"address"`
	Authority        string   `json:"authority"`
	CreationSlot     uint64   `json:"creation_slot"`
	Bump             uint8    `json:"bump"`
	LastExtendedSlot uint64   `json:"last_extended_slot,omitempty"`
	State            string   `json:"state"`
	Addresses        []string `json:"addresses,omitempty"`
}

func Load(path string) (Registry, error) {
	var out Registry
	path = strings.TrimSpace(path)
	if path == "" {
		return Registry{}, errors.New("path required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Registry{}, err
	}
	if out.SchemaVersion != SchemaVersion {
		return Registry{}, fmt.Errorf("unsupported registry schema_version %d", out.SchemaVersion)
	}
	return out, nil
}

// LoadOrEmpty is Load, except that a missing file yields an empty registry.
func LoadOrEmpty(path string) (Registry, error) {
	r, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Registry{SchemaVersion: SchemaVersion}, nil
	}
	return r, err
}

// Save writes the registry through a temporary file so readers never see a
// partial document.
func (r Registry) Save(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return errors.New("path required")
	}
	if r.SchemaVersion == 0 {
		r.SchemaVersion = SchemaVersion
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tables-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (r Registry) FindByName(name string) (Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Record{}, errors.New("name required")
	}
	for _, rec := range r.Tables {
		if rec.Name == name {
			return rec, nil
		}
	}
	return Record{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Upsert replaces the record with the same name or appends rec.
func (r *Registry) Upsert(rec Record) error {
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("name required")
	}
	for i := range r.Tables {
		if r.Tables[i].Name == rec.Name {
			r.Tables[i] = rec
			return nil
		}
	}
	r.Tables = append(r.Tables, rec)
	return nil
}

// NewRecord describes t under name.
func NewRecord(name string, t alt.Table) Record {
	addrs := make([]string, 0, len(t.Addresses))
	for _, pk := range t.Addresses {
		addrs = append(addrs, pk.Base58())
	}
	return Record{
		Name:             name,
		Address:          t.Address.Base58(),
		Authority:        t.Authority.Base58(),
		CreationSlot:     t.CreationSlot,
		Bump:             t.Bump,
		LastExtendedSlot: t.LastExtendedSlot,
		State:            t.State.String(),
		Addresses:        addrs,
	}
}

func (rec Record) Table() (alt.Table, error) {
	addr, err := solana.ParsePubkey(rec.Address)
	if err != nil {
		return alt.Table{}, fmt.Errorf("table %s: address: %w", rec.Name, err)
	}
	auth, err := solana.ParsePubkey(rec.Authority)
	if err != nil {
		return alt.Table{}, fmt.Errorf("table %s: authority: %w", rec.Name, err)
	}
	state, err := alt.ParseState(rec.State)
	if err != nil {
		return alt.Table{}, fmt.Errorf("table %s: %w", rec.Name, err)
	}
	out := alt.Table{
		Address:          addr,
		Authority:        auth,
		CreationSlot:     rec.CreationSlot,
		Bump:             rec.Bump,
		LastExtendedSlot: rec.LastExtendedSlot,
		State:            state,
		Addresses:        make([]solana.Pubkey, 0, len(rec.Addresses)),
	}
	for i, s := range rec.Addresses {
		pk, err := solana.ParsePubkey(s)
		if err != nil {
			return alt.Table{}, fmt.Errorf("table %s: address %d: %w", rec.Name, i, err)
		}
		out.Addresses = append(out.Addresses, pk)
	}
	return out, nil
}
