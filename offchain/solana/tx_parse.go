package solana

import (
	"crypto/ed25519"
	"errors"
	"fmt"
)

var ErrSignatureVerification = errors.New("signature verification failed")

type ParsedTransaction struct {
	Signatures   []Signature
	Message      Message
	MessageBytes []byte
}

// VerifySignatures checks every signature against the matching required
// signer of the message.
func (tx ParsedTransaction) VerifySignatures() error {
	required := tx.Message.RequiredSigners()
	if len(required) != len(tx.Signatures) {
		return fmt.Errorf("%w: have %d signatures, message requires %d", ErrSignatureVerification, len(tx.Signatures), len(required))
	}
	for i, pk := range required {
		if !ed25519.Verify(ed25519.PublicKey(pk[:]), tx.MessageBytes, tx.Signatures[i][:]) {
			return fmt.Errorf("%w: %s", ErrSignatureVerification, pk.Base58())
		}
	}
	return nil
}

// ParseTransaction decodes a legacy or v0 wire transaction.
func ParseTransaction(tx []byte) (ParsedTransaction, error) {
	var out ParsedTransaction
	if len(tx) == 0 {
		return out, errors.New("empty tx")
	}

	off := 0
	sigCount, newOff, err := decodeShortVecLenAt(tx, off)
	if err != nil {
		return out, fmt.Errorf("decode signature count: %w", err)
	}
	off = newOff
	sigBytes := sigCount * 64
	if sigCount < 0 || sigBytes < 0 || off+sigBytes > len(tx) {
		return out, errors.New("invalid signature section")
	}
	out.Signatures = make([]Signature, sigCount)
	for i := range out.Signatures {
		copy(out.Signatures[i][:], tx[off:off+64])
		off += 64
	}

	out.MessageBytes = tx[off:]
	msg, err := ParseMessage(out.MessageBytes)
	if err != nil {
		return out, err
	}
	out.Message = msg
	return out, nil
}

// ParseMessage decodes serialized message bytes. Loaded is left empty since
// table contents are not part of the encoding.
func ParseMessage(b []byte) (Message, error) {
	var out Message
	off := 0
	if len(b) == 0 {
		return out, errors.New("empty message")
	}
	if b[0]&0x80 != 0 {
		if b[0] != 0x80 {
			return out, fmt.Errorf("unsupported message version %d", b[0]&0x7f)
		}
		out.Version = MessageV0
		off++
	}

	if off+3 > len(b) {
		return out, errors.New("message header truncated")
	}
	out.Header = MessageHeader{
		NumRequiredSignatures:       b[off],
		NumReadonlySignedAccounts:   b[off+1],
		NumReadonlyUnsignedAccounts: b[off+2],
	}
	off += 3

	nKeys, newOff, err := decodeShortVecLenAt(b, off)
	if err != nil {
		return out, fmt.Errorf("decode account keys count: %w", err)
	}
	off = newOff
	if nKeys < 0 || off+(nKeys*32) > len(b) {
		return out, errors.New("account keys truncated")
	}
	out.StaticKeys = make([]Pubkey, 0, nKeys)
	for i := 0; i < nKeys; i++ {
		var pk Pubkey
		copy(pk[:], b[off:off+32])
		out.StaticKeys = append(out.StaticKeys, pk)
		off += 32
	}

	if off+32 > len(b) {
		return out, errors.New("recent blockhash truncated")
	}
	copy(out.RecentBlockhash[:], b[off:off+32])
	off += 32

	nIxs, newOff, err := decodeShortVecLenAt(b, off)
	if err != nil {
		return out, fmt.Errorf("decode instruction count: %w", err)
	}
	off = newOff
	if nIxs > len(b)-off {
		return out, errors.New("instruction count exceeds message size")
	}

	out.Instructions = make([]CompiledInstruction, 0, nIxs)
	for i := 0; i < nIxs; i++ {
		if off >= len(b) {
			return out, errors.New("instruction truncated")
		}
		pidIndex := b[off]
		off++

		accounts, newOff, err := decodeShortVecBytesAt(b, off)
		if err != nil {
			return out, fmt.Errorf("decode instruction accounts: %w", err)
		}
		off = newOff

		data, newOff, err := decodeShortVecBytesAt(b, off)
		if err != nil {
			return out, fmt.Errorf("decode instruction data: %w", err)
		}
		off = newOff

		out.Instructions = append(out.Instructions, CompiledInstruction{
			ProgramIDIndex: pidIndex,
			Accounts:       accounts,
			Data:           data,
		})
	}

	if out.Version == MessageV0 {
		nLookups, newOff, err := decodeShortVecLenAt(b, off)
		if err != nil {
			return out, fmt.Errorf("decode lookup count: %w", err)
		}
		off = newOff
		for i := 0; i < nLookups; i++ {
			if off+32 > len(b) {
				return out, errors.New("lookup table key truncated")
			}
			var lk MessageAddressTableLookup
			copy(lk.AccountKey[:], b[off:off+32])
			off += 32
			if lk.WritableIndexes, off, err = decodeShortVecBytesAt(b, off); err != nil {
				return out, fmt.Errorf("decode writable indexes: %w", err)
			}
			if lk.ReadonlyIndexes, off, err = decodeShortVecBytesAt(b, off); err != nil {
				return out, fmt.Errorf("decode readonly indexes: %w", err)
			}
			out.AddressTableLookups = append(out.AddressTableLookups, lk)
		}
	}

	if off != len(b) {
		return out, fmt.Errorf("trailing message bytes: %d", len(b)-off)
	}
	return out, nil
}

// ResolveInstruction maps a compiled instruction back to account keys. loaded
// supplies the table-loaded keys in account index order (nil for legacy).
func (m Message) ResolveInstruction(ix CompiledInstruction, loaded []Pubkey) (Instruction, error) {
	keys := make([]Pubkey, 0, len(m.StaticKeys)+len(loaded))
	keys = append(keys, m.StaticKeys...)
	keys = append(keys, loaded...)

	if int(ix.ProgramIDIndex) >= len(keys) {
		return Instruction{}, errors.New("invalid program id index")
	}
	out := Instruction{
		ProgramID: keys[ix.ProgramIDIndex],
		Accounts:  make([]AccountMeta, 0, len(ix.Accounts)),
		Data:      ix.Data,
	}
	for _, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			return Instruction{}, errors.New("invalid account index")
		}
		out.Accounts = append(out.Accounts, AccountMeta{
			Pubkey:     keys[idx],
			IsSigner:   m.isSigner(int(idx)),
			IsWritable: m.isWritable(int(idx)),
		})
	}
	return out, nil
}

func (m Message) isSigner(i int) bool {
	return i < int(m.Header.NumRequiredSignatures)
}

// isWritable applies the header rules to static keys; for loaded keys the
// writable ones precede the readonly ones.
func (m Message) isWritable(i int) bool {
	nStatic := len(m.StaticKeys)
	nSigned := int(m.Header.NumRequiredSignatures)
	if i < nSigned {
		return i < nSigned-int(m.Header.NumReadonlySignedAccounts)
	}
	if i < nStatic {
		return i < nStatic-int(m.Header.NumReadonlyUnsignedAccounts)
	}
	nWritableLoaded := 0
	for _, lk := range m.AddressTableLookups {
		nWritableLoaded += len(lk.WritableIndexes)
	}
	return i-nStatic < nWritableLoaded
}

func decodeShortVecBytesAt(b []byte, off int) ([]byte, int, error) {
	n, newOff, err := decodeShortVecLenAt(b, off)
	if err != nil {
		return nil, off, err
	}
	if n < 0 || newOff+n > len(b) {
		return nil, off, errors.New("shortvec bytes truncated")
	}
	out := make([]byte, n)
	copy(out, b[newOff:newOff+n])
	return out, newOff + n, nil
}

func decodeShortVecLenAt(b []byte, off int) (int, int, error) {
	if off < 0 || off >= len(b) {
		return 0, off, errors.New("shortvec: out of bounds")
	}
	var out uint64
	var shift uint
	i := 0
	for {
		if off+i >= len(b) {
			return 0, off, errors.New("shortvec: truncated")
		}
		bt := b[off+i]
		out |= uint64(bt&0x7f) << shift
		i++
		if (bt & 0x80) == 0 {
			break
		}
		shift += 7
		if shift > 14 {
			return 0, off, errors.New("shortvec: too long")
		}
	}
	return int(out), off + i, nil
}
