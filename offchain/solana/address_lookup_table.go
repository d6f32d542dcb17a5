package solana

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var AddressLookupTableProgramID = mustParsePubkey("AddressLookupTab1e1111111111111111111111111")

const (
	// LookupTableMetaSize is the fixed header preceding the address list.
	LookupTableMetaSize = 56
	// LookupTableMaxAddresses is bounded by the u8 index used in v0 messages.
	LookupTableMaxAddresses = 256

	lookupTableDiscriminator = 1

	altIxCreate uint32 = 0
	altIxExtend uint32 = 2
)

var ErrInvalidAddressLookupTable = errors.New("invalid address lookup table")

// AddressLookupTableState is the decoded account data of a lookup table.
type AddressLookupTableState struct {
	DeactivationSlot           uint64
	LastExtendedSlot           uint64
	LastExtendedSlotStartIndex uint8
	Authority                  *Pubkey
	Addresses                  []Pubkey
}

// IsActive reports whether the table has not been deactivated.
func (s AddressLookupTableState) IsActive() bool {
	return s.DeactivationSlot == math.MaxUint64
}

// UsableAddresses returns the addresses a transaction processed at
// currentSlot can load. Addresses appended during LastExtendedSlot only
// become usable in a later slot.
func (s AddressLookupTableState) UsableAddresses(currentSlot uint64) []Pubkey {
	if currentSlot > s.LastExtendedSlot {
		return s.Addresses
	}
	n := int(s.LastExtendedSlotStartIndex)
	if n > len(s.Addresses) {
		n = len(s.Addresses)
	}
	return s.Addresses[:n]
}

// ParseAddressLookupTable decodes an Address Lookup Table account's raw data.
//
// Format:
//
//	u32  discriminator (1)
//	u64  deactivation_slot (u64::MAX while active)
//	u64  last_extended_slot
//	u8   last_extended_slot_start_index
//	u8   has_authority (0|1)
//	[32] authority pubkey (present even when has_authority=0)
//	[2]  padding (0)
//	[32]* addresses (rest of the account data)
func ParseAddressLookupTable(data []byte) (AddressLookupTableState, error) {
	var out AddressLookupTableState
	if len(data) < LookupTableMetaSize {
		return out, ErrInvalidAddressLookupTable
	}
	if binary.LittleEndian.Uint32(data[0:4]) != lookupTableDiscriminator {
		return out, ErrInvalidAddressLookupTable
	}
	if (len(data)-LookupTableMetaSize)%32 != 0 {
		return out, ErrInvalidAddressLookupTable
	}
	out.DeactivationSlot = binary.LittleEndian.Uint64(data[4:12])
	out.LastExtendedSlot = binary.LittleEndian.Uint64(data[12:20])
	out.LastExtendedSlotStartIndex = data[20]
	switch data[21] {
	case 0:
	case 1:
		var auth Pubkey
		copy(auth[:], data[22:54])
		out.Authority = &auth
	default:
		return out, ErrInvalidAddressLookupTable
	}

	n := (len(data) - LookupTableMetaSize) / 32
	out.Addresses = make([]Pubkey, 0, n)
	off := LookupTableMetaSize
	for i := 0; i < n; i++ {
		var pk Pubkey
		copy(pk[:], data[off:off+32])
		out.Addresses = append(out.Addresses, pk)
		off += 32
	}
	return out, nil
}

// MarshalBinary encodes the state in the on-chain account layout.
func (s AddressLookupTableState) MarshalBinary() ([]byte, error) {
	if len(s.Addresses) > LookupTableMaxAddresses {
		return nil, fmt.Errorf("%w: %d addresses", ErrInvalidAddressLookupTable, len(s.Addresses))
	}
	out := make([]byte, LookupTableMetaSize, LookupTableMetaSize+32*len(s.Addresses))
	binary.LittleEndian.PutUint32(out[0:4], lookupTableDiscriminator)
	binary.LittleEndian.PutUint64(out[4:12], s.DeactivationSlot)
	binary.LittleEndian.PutUint64(out[12:20], s.LastExtendedSlot)
	out[20] = s.LastExtendedSlotStartIndex
	if s.Authority != nil {
		out[21] = 1
		copy(out[22:54], s.Authority[:])
	}
	for _, pk := range s.Addresses {
		out = append(out, pk[:]...)
	}
	return out, nil
}

// DeriveLookupTableAddress computes the table address the lookup table
// program assigns to (authority, recentSlot).
func DeriveLookupTableAddress(authority Pubkey, recentSlot uint64) (Pubkey, uint8, error) {
	return FindProgramAddress(lookupTableSeeds(authority, recentSlot), AddressLookupTableProgramID)
}

// LookupTableAddressWithBump recomputes a table address from a known bump,
// the way the lookup table program checks CreateLookupTable.
func LookupTableAddressWithBump(authority Pubkey, recentSlot uint64, bump uint8) (Pubkey, error) {
	seeds := append(lookupTableSeeds(authority, recentSlot), []byte{bump})
	return CreateProgramAddress(seeds, AddressLookupTableProgramID)
}

func lookupTableSeeds(authority Pubkey, recentSlot uint64) [][]byte {
	slot := binary.LittleEndian.AppendUint64(nil, recentSlot)
	return [][]byte{authority[:], slot}
}

// CreateLookupTableInstruction builds CreateLookupTable with a signing
// authority. The payer funds the new account.
func CreateLookupTableInstruction(table, authority, payer Pubkey, recentSlot uint64, bump uint8) Instruction {
	data := make([]byte, 0, 4+8+1)
	data = binary.LittleEndian.AppendUint32(data, altIxCreate)
	data = binary.LittleEndian.AppendUint64(data, recentSlot)
	data = append(data, bump)
	return Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []AccountMeta{
			{Pubkey: table, IsSigner: false, IsWritable: true},
			{Pubkey: authority, IsSigner: true, IsWritable: false},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}
}

// ExtendLookupTableInstruction appends addresses to a table. The payer tops
// up rent for the grown account.
func ExtendLookupTableInstruction(table, authority, payer Pubkey, addresses []Pubkey) Instruction {
	data := make([]byte, 0, 4+8+32*len(addresses))
	data = binary.LittleEndian.AppendUint32(data, altIxExtend)
	data = binary.LittleEndian.AppendUint64(data, uint64(len(addresses)))
	for _, pk := range addresses {
		data = append(data, pk[:]...)
	}
	return Instruction{
		ProgramID: AddressLookupTableProgramID,
		Accounts: []AccountMeta{
			{Pubkey: table, IsSigner: false, IsWritable: true},
			{Pubkey: authority, IsSigner: true, IsWritable: false},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: SystemProgramID, IsSigner: false, IsWritable: false},
		},
		Data: data,
	}
}

// LookupTableInstruction is a decoded lookup table program instruction.
type LookupTableInstruction struct {
	Kind       uint32
	RecentSlot uint64
	Bump       uint8
	Addresses  []Pubkey
}

func (i LookupTableInstruction) IsCreate() bool { return i.Kind == altIxCreate }
func (i LookupTableInstruction) IsExtend() bool { return i.Kind == altIxExtend }

// DecodeLookupTableInstruction decodes create and extend instruction data.
func DecodeLookupTableInstruction(data []byte) (LookupTableInstruction, error) {
	var out LookupTableInstruction
	if len(data) < 4 {
		return out, errors.New("lookup table instruction too short")
	}
	out.Kind = binary.LittleEndian.Uint32(data[0:4])
	switch out.Kind {
	case altIxCreate:
		if len(data) != 4+8+1 {
			return out, errors.New("invalid create lookup table data")
		}
		out.RecentSlot = binary.LittleEndian.Uint64(data[4:12])
		out.Bump = data[12]
	case altIxExtend:
		if len(data) < 12 {
			return out, errors.New("invalid extend lookup table data")
		}
		n := binary.LittleEndian.Uint64(data[4:12])
		if n > LookupTableMaxAddresses || uint64(len(data)-12) != n*32 {
			return out, errors.New("invalid extend lookup table address list")
		}
		out.Addresses = make([]Pubkey, 0, n)
		for off := 12; off < len(data); off += 32 {
			var pk Pubkey
			copy(pk[:], data[off:off+32])
			out.Addresses = append(out.Addresses, pk)
		}
	default:
		return out, fmt.Errorf("unsupported lookup table instruction %d", out.Kind)
	}
	return out, nil
}
