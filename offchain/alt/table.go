package alt

import (
	"fmt"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

// State is the locally tracked lifecycle stage of a lookup table.
type State uint8

const (
	StateUninitialized State = iota
	StateCreated
	StateExtended
	StateActive
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateExtended:
		return "extended"
	case StateActive:
		return "active"
	default:
		return "unknown"
	}
}

func ParseState(s string) (State, error) {
	for st := StateUninitialized; st <= StateActive; st++ {
		if st.String() == s {
			return st, nil
		}
	}
	return StateUninitialized, fmt.Errorf("%w: unknown state %q", ErrInvalidState, s)
}

// Table is the local view of one address lookup table. Addresses keep the
// on-chain order; an address' position is its index in compiled messages.
type Table struct {
	Address          solana.Pubkey
	Authority        solana.Pubkey
	CreationSlot     uint64
	Bump             uint8
	Addresses        []solana.Pubkey
	LastExtendedSlot uint64
	State            State
}

// IndexOf returns the table index of pk.
func (t Table) IndexOf(pk solana.Pubkey) (uint8, bool) {
	for i, a := range t.Addresses {
		if a == pk {
			return uint8(i), true
		}
	}
	return 0, false
}

func (t Table) contains(pk solana.Pubkey) bool {
	_, ok := t.IndexOf(pk)
	return ok
}

// clone returns t with its own copy of the address list.
func (t Table) clone() Table {
	t.Addresses = append([]solana.Pubkey(nil), t.Addresses...)
	return t
}

func (t Table) lookupTable() solana.LookupTable {
	return solana.LookupTable{AccountKey: t.Address, Addresses: t.Addresses}
}
