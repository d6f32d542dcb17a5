package solana

import (
	"fmt"
	"slices"
)

type LookupTable struct {
	AccountKey Pubkey
	Addresses  []Pubkey
}

func BuildAndSignV0Transaction(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	instructions []Instruction,
	lookupTables []LookupTable,
	signers ...Signer,
) ([]byte, error) {
	msg, err := CompileV0Message(recentBlockhash, feePayer, instructions, lookupTables)
	if err != nil {
		return nil, err
	}
	return SignTransaction(msg, signers...)
}

type lookupRef struct {
	Table int
	Index uint8
}

// CompileV0Message builds a versioned message. Every loadable account found
// in a lookup table is referenced by (table, index) instead of being listed
// statically; when several tables hold the same address the first one wins.
// Lookup table accounts themselves are never added to the static keys.
func CompileV0Message(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	instructions []Instruction,
	lookupTables []LookupTable,
) (Message, error) {
	set := collectAccounts(feePayer, instructions)

	// Map pubkey -> (table, index).
	tableIndex := make(map[Pubkey]lookupRef, 256)
	for ti, lt := range lookupTables {
		if len(lt.Addresses) > LookupTableMaxAddresses {
			return Message{}, fmt.Errorf("lookup table %s has too many addresses: %d", lt.AccountKey.Base58(), len(lt.Addresses))
		}
		for i, pk := range lt.Addresses {
			if _, ok := tableIndex[pk]; ok {
				continue
			}
			tableIndex[pk] = lookupRef{Table: ti, Index: uint8(i)}
		}
	}

	selected := make(map[Pubkey]LoadedAddress, 64)
	selections := make([]MessageAddressTableLookup, len(lookupTables))
	for i, lt := range lookupTables {
		selections[i].AccountKey = lt.AccountKey
	}
	for pk, ai := range set.infos {
		if !set.loadable(pk) {
			continue
		}
		ref, ok := tableIndex[pk]
		if !ok {
			continue
		}
		selected[pk] = LoadedAddress{
			Pubkey:     pk,
			Table:      lookupTables[ref.Table].AccountKey,
			TableIndex: ref.Index,
			Writable:   ai.IsWritable,
		}
		if ai.IsWritable {
			selections[ref.Table].WritableIndexes = append(selections[ref.Table].WritableIndexes, ref.Index)
		} else {
			selections[ref.Table].ReadonlyIndexes = append(selections[ref.Table].ReadonlyIndexes, ref.Index)
		}
	}

	staticKeys, h, err := set.staticLayout(selected)
	if err != nil {
		return Message{}, err
	}

	lookups := make([]MessageAddressTableLookup, 0, len(selections))
	tableOf := make([]int, 0, len(selections))
	for ti, sel := range selections {
		slices.Sort(sel.WritableIndexes)
		slices.Sort(sel.ReadonlyIndexes)
		if len(sel.WritableIndexes) == 0 && len(sel.ReadonlyIndexes) == 0 {
			continue
		}
		lookups = append(lookups, sel)
		tableOf = append(tableOf, ti)
	}

	// Loaded accounts are indexed after the static keys: every table's
	// writable entries first, then every table's readonly entries.
	loaded := make([]LoadedAddress, 0, len(selected))
	for i, sel := range lookups {
		for _, ix := range sel.WritableIndexes {
			loaded = append(loaded, selected[lookupTables[tableOf[i]].Addresses[ix]])
		}
	}
	for i, sel := range lookups {
		for _, ix := range sel.ReadonlyIndexes {
			loaded = append(loaded, selected[lookupTables[tableOf[i]].Addresses[ix]])
		}
	}

	if len(staticKeys)+len(loaded) > 256 {
		return Message{}, fmt.Errorf("%w: %d static + %d loaded", ErrTooManyAccounts, len(staticKeys), len(loaded))
	}
	indexOf := make(map[Pubkey]uint8, len(staticKeys)+len(loaded))
	for i, pk := range staticKeys {
		indexOf[pk] = uint8(i)
	}
	for i, la := range loaded {
		indexOf[la.Pubkey] = uint8(len(staticKeys) + i)
	}

	ixs, err := compileInstructions(instructions, indexOf)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Version:             MessageV0,
		Header:              h,
		StaticKeys:          staticKeys,
		RecentBlockhash:     recentBlockhash,
		Instructions:        ixs,
		AddressTableLookups: lookups,
		Loaded:              loaded,
	}, nil
}
