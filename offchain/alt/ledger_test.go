package alt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

type transfer struct {
	From     solana.Pubkey
	To       solana.Pubkey
	Lamports uint64
}

type pendingWrite struct {
	key   solana.Pubkey
	acct  solanarpc.Account
	polls int
}

// memLedger executes create, extend and transfer instructions against real
// lookup table encodings. Writes can be made visible to AccountInfo only
// after a number of reads to mimic propagation lag.
type memLedger struct {
	mu sync.Mutex

	slot       uint64
	freezeSlot bool
	blockhash  uint64

	state   map[solana.Pubkey]solanarpc.Account
	visible map[solana.Pubkey]solanarpc.Account
	pending []pendingWrite
	// visibilityLag is how many AccountInfo calls a write stays hidden for.
	visibilityLag int

	sends     int
	sendErrs  map[int]error
	sent      []solana.ParsedTransaction
	transfers []transfer
	budgetIxs int
	reads     int
	readErr   error
}

func newMemLedger() *memLedger {
	return &memLedger{
		slot:     1000,
		state:    make(map[solana.Pubkey]solanarpc.Account),
		visible:  make(map[solana.Pubkey]solanarpc.Account),
		sendErrs: make(map[int]error),
	}
}

func (l *memLedger) Slot(context.Context, solanarpc.Commitment) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.slot, nil
}

func (l *memLedger) advance(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot += n
}

func (l *memLedger) LatestBlockhash(context.Context) (solanarpc.Blockhash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blockhash++
	var bh solanarpc.Blockhash
	bh.Blockhash[0] = 0xB0
	bh.Blockhash[31] = byte(l.blockhash)
	bh.LastValidBlockHeight = l.slot + 150
	return bh, nil
}

func (l *memLedger) AccountInfo(ctx context.Context, pk solana.Pubkey, _ solanarpc.Commitment) (solanarpc.Account, error) {
	if err := ctx.Err(); err != nil {
		return solanarpc.Account{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.readErr != nil {
		return solanarpc.Account{}, l.readErr
	}

	kept := l.pending[:0]
	for _, w := range l.pending {
		w.polls--
		if w.polls <= 0 {
			l.visible[w.key] = w.acct
			continue
		}
		kept = append(kept, w)
	}
	l.pending = kept

	acct, ok := l.visible[pk]
	if !ok {
		return solanarpc.Account{}, fmt.Errorf("%w: %s", solanarpc.ErrAccountNotFound, pk.Base58())
	}
	acct.Data = append([]byte(nil), acct.Data...)
	return acct, nil
}

func (l *memLedger) SendAndConfirmTransaction(_ context.Context, tx []byte, _ uint64, commitment solanarpc.Commitment) (solanarpc.Confirmation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sends++
	if err := l.sendErrs[l.sends]; err != nil {
		return solanarpc.Confirmation{}, err
	}

	parsed, err := solana.ParseTransaction(tx)
	if err != nil {
		return solanarpc.Confirmation{}, err
	}
	if err := parsed.VerifySignatures(); err != nil {
		return solanarpc.Confirmation{}, err
	}
	loaded, err := l.loadedKeys(parsed.Message)
	if err != nil {
		return solanarpc.Confirmation{}, err
	}

	writes := make(map[solana.Pubkey]solanarpc.Account)
	for _, cix := range parsed.Message.Instructions {
		ix, err := parsed.Message.ResolveInstruction(cix, loaded)
		if err != nil {
			return solanarpc.Confirmation{}, err
		}
		if err := l.execute(ix, writes); err != nil {
			return solanarpc.Confirmation{}, fmt.Errorf("%w: %w", solanarpc.ErrTransactionFailed, err)
		}
	}

	for pk, acct := range writes {
		l.state[pk] = acct
		if l.visibilityLag > 0 {
			l.pending = append(l.pending, pendingWrite{key: pk, acct: acct, polls: l.visibilityLag})
		} else {
			l.visible[pk] = acct
		}
	}
	l.sent = append(l.sent, parsed)

	conf := solanarpc.Confirmation{Signature: parsed.Signatures[0], Slot: l.slot, Commitment: commitment}
	if !l.freezeSlot {
		l.slot++
	}
	return conf, nil
}

func (l *memLedger) loadedKeys(msg solana.Message) ([]solana.Pubkey, error) {
	var writable, readonly []solana.Pubkey
	for _, lk := range msg.AddressTableLookups {
		acct, ok := l.state[lk.AccountKey]
		if !ok {
			return nil, fmt.Errorf("lookup table %s not found", lk.AccountKey.Base58())
		}
		st, err := solana.ParseAddressLookupTable(acct.Data)
		if err != nil {
			return nil, err
		}
		usable := st.UsableAddresses(l.slot)
		for _, i := range lk.WritableIndexes {
			if int(i) >= len(usable) {
				return nil, fmt.Errorf("lookup index %d not usable", i)
			}
			writable = append(writable, usable[i])
		}
		for _, i := range lk.ReadonlyIndexes {
			if int(i) >= len(usable) {
				return nil, fmt.Errorf("lookup index %d not usable", i)
			}
			readonly = append(readonly, usable[i])
		}
	}
	return append(writable, readonly...), nil
}

func (l *memLedger) execute(ix solana.Instruction, writes map[solana.Pubkey]solanarpc.Account) error {
	switch ix.ProgramID {
	case solana.SystemProgramID:
		if len(ix.Data) != 12 || len(ix.Accounts) != 2 || !ix.Accounts[0].IsSigner {
			return errors.New("unsupported system instruction")
		}
		var lamports uint64
		for i := 11; i >= 4; i-- {
			lamports = lamports<<8 | uint64(ix.Data[i])
		}
		l.transfers = append(l.transfers, transfer{From: ix.Accounts[0].Pubkey, To: ix.Accounts[1].Pubkey, Lamports: lamports})
		return nil
	case solana.ComputeBudgetProgramID:
		l.budgetIxs++
		return nil
	case solana.AddressLookupTableProgramID:
	default:
		return fmt.Errorf("unsupported program %s", ix.ProgramID.Base58())
	}

	dec, err := solana.DecodeLookupTableInstruction(ix.Data)
	if err != nil {
		return err
	}
	if len(ix.Accounts) != 4 || !ix.Accounts[1].IsSigner || !ix.Accounts[2].IsSigner {
		return errors.New("lookup table instruction missing signer")
	}
	table, authority := ix.Accounts[0].Pubkey, ix.Accounts[1].Pubkey

	current, exists := writes[table]
	if !exists {
		current, exists = l.state[table]
	}

	switch {
	case dec.IsCreate():
		if exists {
			return errors.New("table already exists")
		}
		if dec.RecentSlot > l.slot {
			return errors.New("recent slot is in the future")
		}
		want, err := solana.LookupTableAddressWithBump(authority, dec.RecentSlot, dec.Bump)
		if err != nil || want != table {
			return errors.New("table address does not match seeds")
		}
		auth := authority
		data, err := solana.AddressLookupTableState{
			DeactivationSlot: math.MaxUint64,
			Authority:        &auth,
		}.MarshalBinary()
		if err != nil {
			return err
		}
		writes[table] = solanarpc.Account{Owner: solana.AddressLookupTableProgramID, Lamports: 1, Data: data, Slot: l.slot}
	case dec.IsExtend():
		if !exists {
			return errors.New("table does not exist")
		}
		st, err := solana.ParseAddressLookupTable(current.Data)
		if err != nil {
			return err
		}
		if st.Authority == nil || *st.Authority != authority {
			return errors.New("incorrect authority")
		}
		if len(dec.Addresses) == 0 || len(st.Addresses)+len(dec.Addresses) > solana.LookupTableMaxAddresses {
			return errors.New("invalid extension length")
		}
		if st.LastExtendedSlot != l.slot {
			st.LastExtendedSlot = l.slot
			st.LastExtendedSlotStartIndex = uint8(len(st.Addresses))
		}
		st.Addresses = append(st.Addresses, dec.Addresses...)
		data, err := st.MarshalBinary()
		if err != nil {
			return err
		}
		current.Data = data
		current.Slot = l.slot
		writes[table] = current
	}
	return nil
}

func (l *memLedger) sendCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

func (l *memLedger) onChain(pk solana.Pubkey) (solana.AddressLookupTableState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.state[pk]
	if !ok {
		return solana.AddressLookupTableState{}, false
	}
	st, err := solana.ParseAddressLookupTable(acct.Data)
	if err != nil {
		return solana.AddressLookupTableState{}, false
	}
	return st, true
}

// put stores raw account contents, visible immediately.
func (l *memLedger) put(pk solana.Pubkey, acct solanarpc.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state[pk] = acct
	l.visible[pk] = acct
}
