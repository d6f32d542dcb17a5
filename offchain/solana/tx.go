package solana

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrMissingSigner    = errors.New("missing signer for required signature")
	ErrUnexpectedSigner = errors.New("signer is not required by message")
	ErrTooManyAccounts  = errors.New("too many account keys")
)

// PacketDataSize is the largest serialized transaction the ledger accepts.
const PacketDataSize = 1232

type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

type MessageVersion uint8

const (
	MessageLegacy MessageVersion = iota
	MessageV0
)

type MessageHeader struct {
	NumRequiredSignatures       uint8
	NumReadonlySignedAccounts   uint8
	NumReadonlyUnsignedAccounts uint8
}

type CompiledInstruction struct {
	ProgramIDIndex uint8
	Accounts       []uint8
	Data           []byte
}

type MessageAddressTableLookup struct {
	AccountKey      Pubkey
	WritableIndexes []uint8
	ReadonlyIndexes []uint8
}

// LoadedAddress records where a table-loaded account came from. Only set on
// messages produced by CompileV0Message.
type LoadedAddress struct {
	Pubkey     Pubkey
	Table      Pubkey
	TableIndex uint8
	Writable   bool
}

type Message struct {
	Version             MessageVersion
	Header              MessageHeader
	StaticKeys          []Pubkey
	RecentBlockhash     [32]byte
	Instructions        []CompiledInstruction
	AddressTableLookups []MessageAddressTableLookup

	// Loaded follows account index order: writable then readonly.
	Loaded []LoadedAddress
}

// AccountRef says how a message encodes one account.
type AccountRef struct {
	Index      uint8
	Static     bool
	Table      Pubkey
	TableIndex uint8
}

// Resolve returns the encoding of pk inside the message.
func (m Message) Resolve(pk Pubkey) (AccountRef, bool) {
	for i, k := range m.StaticKeys {
		if k == pk {
			return AccountRef{Index: uint8(i), Static: true}, true
		}
	}
	for i, la := range m.Loaded {
		if la.Pubkey == pk {
			return AccountRef{
				Index:      uint8(len(m.StaticKeys) + i),
				Table:      la.Table,
				TableIndex: la.TableIndex,
			}, true
		}
	}
	return AccountRef{}, false
}

// RequiredSigners returns the accounts whose signatures the message needs,
// fee payer first.
func (m Message) RequiredSigners() []Pubkey {
	n := int(m.Header.NumRequiredSignatures)
	if n > len(m.StaticKeys) {
		n = len(m.StaticKeys)
	}
	return m.StaticKeys[:n]
}

func (m Message) FeePayer() Pubkey {
	if len(m.StaticKeys) == 0 {
		return Pubkey{}
	}
	return m.StaticKeys[0]
}

// Serialize encodes the message in the ledger's wire format. The bytes are
// what every signer signs.
func (m Message) Serialize() []byte {
	out := make([]byte, 0, 512)
	if m.Version == MessageV0 {
		// v0 message prefix: 0x80 | version (0).
		out = append(out, 0x80)
	}
	out = append(out, m.Header.NumRequiredSignatures, m.Header.NumReadonlySignedAccounts, m.Header.NumReadonlyUnsignedAccounts)
	out = append(out, encodeShortVecLen(len(m.StaticKeys))...)
	for _, pk := range m.StaticKeys {
		out = append(out, pk[:]...)
	}
	out = append(out, m.RecentBlockhash[:]...)

	out = append(out, encodeShortVecLen(len(m.Instructions))...)
	for _, ix := range m.Instructions {
		out = append(out, ix.ProgramIDIndex)
		out = append(out, encodeShortVecLen(len(ix.Accounts))...)
		out = append(out, ix.Accounts...)
		out = append(out, encodeShortVecLen(len(ix.Data))...)
		out = append(out, ix.Data...)
	}

	if m.Version == MessageV0 {
		out = append(out, encodeShortVecLen(len(m.AddressTableLookups))...)
		for _, lk := range m.AddressTableLookups {
			out = append(out, lk.AccountKey[:]...)
			out = append(out, encodeShortVecLen(len(lk.WritableIndexes))...)
			out = append(out, lk.WritableIndexes...)
			out = append(out, encodeShortVecLen(len(lk.ReadonlyIndexes))...)
			out = append(out, lk.ReadonlyIndexes...)
		}
	}
	return out
}

// SignTransaction signs the serialized message with exactly the required
// signers and returns the wire transaction. Duplicate signers for the same
// account are collapsed.
func SignTransaction(msg Message, signers ...Signer) ([]byte, error) {
	required := msg.RequiredSigners()
	if len(required) == 0 {
		return nil, fmt.Errorf("%w: message has no fee payer", ErrMissingSigner)
	}

	byKey := make(map[Pubkey]Signer, len(signers))
	for _, s := range signers {
		if s == nil {
			continue
		}
		byKey[s.PublicKey()] = s
	}
	for pk := range byKey {
		if !slices.Contains(required, pk) {
			return nil, fmt.Errorf("%w: %s", ErrUnexpectedSigner, pk.Base58())
		}
	}

	data := msg.Serialize()
	out := make([]byte, 0, 3+len(required)*64+len(data))
	out = append(out, encodeShortVecLen(len(required))...)
	for _, pk := range required {
		s, ok := byKey[pk]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingSigner, pk.Base58())
		}
		sig, err := s.Sign(data)
		if err != nil {
			return nil, fmt.Errorf("sign for %s: %w", pk.Base58(), err)
		}
		out = append(out, sig[:]...)
	}
	out = append(out, data...)
	return out, nil
}

func BuildAndSignLegacyTransaction(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	instructions []Instruction,
	signers ...Signer,
) ([]byte, error) {
	msg, err := CompileLegacyMessage(recentBlockhash, feePayer, instructions)
	if err != nil {
		return nil, err
	}
	return SignTransaction(msg, signers...)
}

type accountInfo struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
	FirstSeen  int
}

// accountSet collects every account an instruction list touches, merging
// signer and writable flags.
type accountSet struct {
	infos      map[Pubkey]*accountInfo
	programIDs map[Pubkey]struct{}
	seen       int
}

func collectAccounts(feePayer Pubkey, instructions []Instruction) *accountSet {
	s := &accountSet{
		infos:      make(map[Pubkey]*accountInfo, 32),
		programIDs: make(map[Pubkey]struct{}, len(instructions)),
	}
	// Fee payer must be a writable signer.
	s.touch(feePayer, true, true)
	for _, ix := range instructions {
		s.programIDs[ix.ProgramID] = struct{}{}
		s.touch(ix.ProgramID, false, false)
		for _, am := range ix.Accounts {
			s.touch(am.Pubkey, am.IsSigner, am.IsWritable)
		}
	}
	return s
}

func (s *accountSet) touch(pk Pubkey, signer, writable bool) {
	if ai, ok := s.infos[pk]; ok {
		ai.IsSigner = ai.IsSigner || signer
		ai.IsWritable = ai.IsWritable || writable
		return
	}
	s.infos[pk] = &accountInfo{
		Pubkey:     pk,
		IsSigner:   signer,
		IsWritable: writable,
		FirstSeen:  s.seen,
	}
	s.seen++
}

// loadable reports whether pk may be loaded through a lookup table: signers
// and invoked programs must stay static.
func (s *accountSet) loadable(pk Pubkey) bool {
	ai, ok := s.infos[pk]
	if !ok || ai.IsSigner {
		return false
	}
	_, isProgram := s.programIDs[pk]
	return !isProgram
}

// LoadableAccounts lists the accounts of instructions that a v0 message could
// load from a lookup table, in first-seen order.
func LoadableAccounts(feePayer Pubkey, instructions []Instruction) []Pubkey {
	s := collectAccounts(feePayer, instructions)
	out := make([]Pubkey, 0, len(s.infos))
	for _, ai := range s.sorted() {
		if s.loadable(ai.Pubkey) {
			out = append(out, ai.Pubkey)
		}
	}
	return out
}

func (s *accountSet) sorted() []*accountInfo {
	out := make([]*accountInfo, 0, len(s.infos))
	for _, ai := range s.infos {
		out = append(out, ai)
	}
	slices.SortFunc(out, func(a, b *accountInfo) int { return a.FirstSeen - b.FirstSeen })
	return out
}

// staticLayout orders the non-excluded accounts the way the header expects.
func (s *accountSet) staticLayout(exclude map[Pubkey]LoadedAddress) ([]Pubkey, MessageHeader, error) {
	var signersWritable, signersReadonly, nonsignersWritable, nonsignersReadonly []Pubkey
	for _, ai := range s.sorted() {
		if _, ok := exclude[ai.Pubkey]; ok {
			continue
		}
		switch {
		case ai.IsSigner && ai.IsWritable:
			signersWritable = append(signersWritable, ai.Pubkey)
		case ai.IsSigner:
			signersReadonly = append(signersReadonly, ai.Pubkey)
		case ai.IsWritable:
			nonsignersWritable = append(nonsignersWritable, ai.Pubkey)
		default:
			nonsignersReadonly = append(nonsignersReadonly, ai.Pubkey)
		}
	}

	keys := make([]Pubkey, 0, len(s.infos))
	keys = append(keys, signersWritable...)
	keys = append(keys, signersReadonly...)
	keys = append(keys, nonsignersWritable...)
	keys = append(keys, nonsignersReadonly...)
	if len(keys) > 256 {
		return nil, MessageHeader{}, fmt.Errorf("%w: %d static", ErrTooManyAccounts, len(keys))
	}

	h := MessageHeader{
		NumRequiredSignatures:       uint8(len(signersWritable) + len(signersReadonly)),
		NumReadonlySignedAccounts:   uint8(len(signersReadonly)),
		NumReadonlyUnsignedAccounts: uint8(len(nonsignersReadonly)),
	}
	return keys, h, nil
}

func compileInstructions(instructions []Instruction, indexOf map[Pubkey]uint8) ([]CompiledInstruction, error) {
	out := make([]CompiledInstruction, 0, len(instructions))
	for _, ix := range instructions {
		pid, ok := indexOf[ix.ProgramID]
		if !ok {
			return nil, fmt.Errorf("program id missing from account list: %s", ix.ProgramID.Base58())
		}
		accounts := make([]uint8, 0, len(ix.Accounts))
		for _, am := range ix.Accounts {
			ai, ok := indexOf[am.Pubkey]
			if !ok {
				return nil, fmt.Errorf("account missing from account list: %s", am.Pubkey.Base58())
			}
			accounts = append(accounts, ai)
		}
		out = append(out, CompiledInstruction{
			ProgramIDIndex: pid,
			Accounts:       accounts,
			Data:           append([]byte(nil), ix.Data...),
		})
	}
	return out, nil
}

func CompileLegacyMessage(
	recentBlockhash [32]byte,
	feePayer Pubkey,
	instructions []Instruction,
) (Message, error) {
	set := collectAccounts(feePayer, instructions)
	keys, h, err := set.staticLayout(nil)
	if err != nil {
		return Message{}, err
	}

	indexOf := make(map[Pubkey]uint8, len(keys))
	for i, pk := range keys {
		indexOf[pk] = uint8(i)
	}
	ixs, err := compileInstructions(instructions, indexOf)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Version:         MessageLegacy,
		Header:          h,
		StaticKeys:      keys,
		RecentBlockhash: recentBlockhash,
		Instructions:    ixs,
	}, nil
}
