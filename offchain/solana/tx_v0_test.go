package solana

import (
	"crypto/ed25519"
	"testing"
)

func TestBuildAndSignV0Transaction_SignatureVerifies(t *testing.T) {
	payer := mustKeypair(t, 2)
	feePayer := payer.PublicKey()
	recipient := filledPubkey(0x55)

	var blockhash [32]byte
	for i := range blockhash {
		blockhash[i] = 0x43
	}

	tx, err := BuildAndSignV0Transaction(
		blockhash,
		feePayer,
		[]Instruction{SystemTransfer(feePayer, recipient, 5)},
		nil,
		payer,
	)
	if err != nil {
		t.Fatalf("BuildAndSignV0Transaction: %v", err)
	}

	sigCount, off, ok := decodeShortVecLen(tx)
	if !ok {
		t.Fatalf("decode sigCount failed")
	}
	if sigCount != 1 {
		t.Fatalf("sigCount=%d, want 1", sigCount)
	}
	sig := tx[off : off+64]
	msg := tx[off+64:]
	if !ed25519.Verify(ed25519.PublicKey(feePayer[:]), msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if msg[0] != 0x80 {
		t.Fatalf("expected v0 message prefix 0x80, got 0x%02x", msg[0])
	}
	// Empty lookup list terminates the message.
	if msg[len(msg)-1] != 0x00 {
		t.Fatalf("expected empty lookup shortvec at end")
	}
}

func TestBuildAndSignV0Transaction_UsesLookupTable(t *testing.T) {
	payer := mustKeypair(t, 3)
	feePayer := payer.PublicKey()

	var blockhash [32]byte
	for i := range blockhash {
		blockhash[i] = 0x44
	}

	lookupKey := filledPubkey(0x99)

	others := make([]Pubkey, 0, 10)
	for n := 0; n < 10; n++ {
		others = append(others, filledPubkey(byte(0x10+n)))
	}

	ixAccounts := make([]AccountMeta, 0, 1+len(others))
	ixAccounts = append(ixAccounts, AccountMeta{Pubkey: feePayer, IsSigner: true, IsWritable: true})
	for _, pk := range others {
		ixAccounts = append(ixAccounts, AccountMeta{Pubkey: pk, IsSigner: false, IsWritable: true})
	}
	ix := Instruction{
		ProgramID: SystemProgramID,
		Accounts:  ixAccounts,
		Data:      []byte{9, 9, 9},
	}

	legacy, err := BuildAndSignLegacyTransaction(blockhash, feePayer, []Instruction{ix}, payer)
	if err != nil {
		t.Fatalf("BuildAndSignLegacyTransaction: %v", err)
	}

	lt := LookupTable{
		AccountKey: lookupKey,
		Addresses:  append([]Pubkey{}, others...),
	}
	v0, err := BuildAndSignV0Transaction(blockhash, feePayer, []Instruction{ix}, []LookupTable{lt}, payer)
	if err != nil {
		t.Fatalf("BuildAndSignV0Transaction: %v", err)
	}

	if len(v0) >= len(legacy) {
		t.Fatalf("expected v0 tx smaller than legacy (v0=%d legacy=%d)", len(v0), len(legacy))
	}

	parsed, err := ParseTransaction(v0)
	if err != nil {
		t.Fatalf("ParseTransaction: %v", err)
	}
	for _, pk := range others {
		for _, k := range parsed.Message.StaticKeys {
			if k == pk {
				t.Fatalf("expected key %s to be loaded via lookup table, but it was static", pk.Base58())
			}
		}
	}
	for _, k := range parsed.Message.StaticKeys {
		if k == lookupKey {
			t.Fatalf("lookup table account must not be a static key")
		}
	}
	if len(parsed.Message.AddressTableLookups) != 1 {
		t.Fatalf("lookups=%d, want 1", len(parsed.Message.AddressTableLookups))
	}
	if got := parsed.Message.AddressTableLookups[0].WritableIndexes; len(got) != 10 || got[0] != 0 || got[9] != 9 {
		t.Fatalf("writable indexes=%v", got)
	}
}

func TestCompileV0Message_ResolveUsesTableIndex(t *testing.T) {
	payer := filledPubkey(0x01)
	table := filledPubkey(0x70)
	x, y, z, a := filledPubkey(0x21), filledPubkey(0x22), filledPubkey(0x23), filledPubkey(0x24)

	msg, err := CompileV0Message([32]byte{}, payer, []Instruction{
		{ProgramID: SystemProgramID, Accounts: []AccountMeta{{Pubkey: payer, IsSigner: true, IsWritable: true}, {Pubkey: a}}},
	}, []LookupTable{{AccountKey: table, Addresses: []Pubkey{x, y, z, a}}})
	if err != nil {
		t.Fatalf("CompileV0Message: %v", err)
	}

	ref, ok := msg.Resolve(a)
	if !ok {
		t.Fatalf("address not referenced")
	}
	if ref.Static || ref.Table != table || ref.TableIndex != 3 {
		t.Fatalf("ref=%+v, want (table, 3)", ref)
	}
	if ref.Index != uint8(len(msg.StaticKeys)) {
		t.Fatalf("loaded account index=%d, want %d", ref.Index, len(msg.StaticKeys))
	}
	if ref, ok := msg.Resolve(payer); !ok || !ref.Static || ref.Index != 0 {
		t.Fatalf("payer ref=%+v", ref)
	}
}

func TestCompileV0Message_SignersAndProgramsStayStatic(t *testing.T) {
	payer := filledPubkey(0x01)
	program := filledPubkey(0x02)
	signer := filledPubkey(0x03)
	table := filledPubkey(0x70)

	msg, err := CompileV0Message([32]byte{}, payer, []Instruction{{
		ProgramID: program,
		Accounts:  []AccountMeta{{Pubkey: signer, IsSigner: true}},
	}}, []LookupTable{{AccountKey: table, Addresses: []Pubkey{payer, program, signer}}})
	if err != nil {
		t.Fatalf("CompileV0Message: %v", err)
	}
	if len(msg.AddressTableLookups) != 0 {
		t.Fatalf("expected no lookups, got %+v", msg.AddressTableLookups)
	}
	for _, pk := range []Pubkey{payer, program, signer} {
		if ref, ok := msg.Resolve(pk); !ok || !ref.Static {
			t.Fatalf("%s must be static", pk.Base58())
		}
	}
}

func TestCompileV0Message_FirstTableWinsAndWritableLoadedFirst(t *testing.T) {
	payer := filledPubkey(0x01)
	t1, t2 := filledPubkey(0x71), filledPubkey(0x72)
	ro1, w2, shared := filledPubkey(0x31), filledPubkey(0x32), filledPubkey(0x33)

	msg, err := CompileV0Message([32]byte{}, payer, []Instruction{{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: ro1},
			{Pubkey: w2, IsWritable: true},
			{Pubkey: shared},
		},
	}}, []LookupTable{
		{AccountKey: t1, Addresses: []Pubkey{ro1, shared}},
		{AccountKey: t2, Addresses: []Pubkey{shared, w2}},
	})
	if err != nil {
		t.Fatalf("CompileV0Message: %v", err)
	}

	if ref, _ := msg.Resolve(shared); ref.Table != t1 || ref.TableIndex != 1 {
		t.Fatalf("shared ref=%+v, want first table index 1", ref)
	}
	if len(msg.Loaded) != 3 {
		t.Fatalf("loaded=%d, want 3", len(msg.Loaded))
	}
	if msg.Loaded[0].Pubkey != w2 || !msg.Loaded[0].Writable {
		t.Fatalf("writable loaded account must come first: %+v", msg.Loaded)
	}

	// Round trip the compiled instruction through the wire format.
	parsed, err := ParseMessage(msg.Serialize())
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	loaded := make([]Pubkey, 0, len(msg.Loaded))
	for _, la := range msg.Loaded {
		loaded = append(loaded, la.Pubkey)
	}
	ix, err := parsed.ResolveInstruction(parsed.Instructions[0], loaded)
	if err != nil {
		t.Fatalf("ResolveInstruction: %v", err)
	}
	if ix.Accounts[0].Pubkey != ro1 || ix.Accounts[0].IsWritable {
		t.Fatalf("account 0=%+v", ix.Accounts[0])
	}
	if ix.Accounts[1].Pubkey != w2 || !ix.Accounts[1].IsWritable {
		t.Fatalf("account 1=%+v", ix.Accounts[1])
	}
	if ix.Accounts[2].Pubkey != shared {
		t.Fatalf("account 2=%+v", ix.Accounts[2])
	}
}

func TestCompileV0Message_RejectsOversizedTable(t *testing.T) {
	addrs := make([]Pubkey, LookupTableMaxAddresses+1)
	_, err := CompileV0Message([32]byte{}, filledPubkey(1), nil, []LookupTable{{AccountKey: filledPubkey(2), Addresses: addrs}})
	if err == nil {
		t.Fatalf("expected error for table with %d addresses", len(addrs))
	}
}
