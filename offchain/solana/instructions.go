package solana

import (
	"encoding/binary"
)

var (
	SystemProgramID        = mustParsePubkey("11111111111111111111111111111111")
	ComputeBudgetProgramID = mustParsePubkey("ComputeBudget111111111111111111111111111111")
	RentSysvarID           = mustParsePubkey("SysvarRent111111111111111111111111111111111")
)

func mustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// SystemTransfer moves lamports between two system accounts. from must sign.
func SystemTransfer(from, to Pubkey, lamports uint64) Instruction {
	// SystemInstruction::Transfer is bincode variant 2 (u32 LE).
	var data [12]byte
	binary.LittleEndian.PutUint32(data[0:4], 2)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsSigner: false, IsWritable: true},
		},
		Data: data[:],
	}
}

func ComputeBudgetSetComputeUnitLimit(limit uint32) Instruction {
	var data [5]byte
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], limit)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}

func ComputeBudgetSetComputeUnitPrice(microLamports uint64) Instruction {
	var data [9]byte
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return Instruction{
		ProgramID: ComputeBudgetProgramID,
		Accounts:  nil,
		Data:      data[:],
	}
}
