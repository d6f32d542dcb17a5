package solanafees

import (
	"fmt"
	"math/bits"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

const (
	// DefaultLamportsPerSignature is the ledger's base fee per signature.
	DefaultLamportsPerSignature = 5000
	// DefaultInstructionComputeUnits is what the runtime budgets per
	// instruction when the transaction sets no explicit limit.
	DefaultInstructionComputeUnits = 200_000
	MaxComputeUnitLimit            = 1_400_000
)

var ErrOverflow = fmt.Errorf("fee overflow")

type TxFeeEstimate struct {
	LamportsPerSignature uint64 `json:"lamports_per_signature"`
	Signatures           uint64 `json:"signatures"`
	BaseFeeLamports      uint64 `json:"base_fee_lamports"`

	ComputeUnitLimit    uint32 `json:"compute_unit_limit"`
	MicroLamportsPerCU  uint64 `json:"micro_lamports_per_cu"`
	PriorityFeeLamports uint64 `json:"priority_fee_lamports"`

	TotalLamports uint64 `json:"total_lamports"`
}

func PriorityFeeLamports(computeUnitLimit uint32, microLamportsPerCU uint64) (uint64, error) {
	if computeUnitLimit == 0 || microLamportsPerCU == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(computeUnitLimit), microLamportsPerCU)
	if hi != 0 {
		return 0, ErrOverflow
	}
	const denom = uint64(1_000_000)
	return (lo + denom - 1) / denom, nil
}

func BaseFeeLamports(lamportsPerSignature uint64, signatures uint64) (uint64, error) {
	hi, lo := bits.Mul64(lamportsPerSignature, signatures)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// Estimate prices msg at the default signature fee. A zero
// computeUnitLimit falls back to the runtime's implicit per-instruction
// budget.
func Estimate(msg solana.Message, computeUnitLimit uint32, microLamportsPerCU uint64) (TxFeeEstimate, error) {
	signatures := uint64(msg.Header.NumRequiredSignatures)
	base, err := BaseFeeLamports(DefaultLamportsPerSignature, signatures)
	if err != nil {
		return TxFeeEstimate{}, err
	}

	if computeUnitLimit == 0 {
		units := uint64(DefaultInstructionComputeUnits) * uint64(len(msg.Instructions))
		computeUnitLimit = uint32(min(units, MaxComputeUnitLimit))
	}
	priority, err := PriorityFeeLamports(computeUnitLimit, microLamportsPerCU)
	if err != nil {
		return TxFeeEstimate{}, err
	}

	total, carry := bits.Add64(base, priority, 0)
	if carry != 0 {
		return TxFeeEstimate{}, ErrOverflow
	}

	return TxFeeEstimate{
		LamportsPerSignature: DefaultLamportsPerSignature,
		Signatures:           signatures,
		BaseFeeLamports:      base,
		ComputeUnitLimit:     computeUnitLimit,
		MicroLamportsPerCU:   microLamportsPerCU,
		PriorityFeeLamports:  priority,
		TotalLamports:        total,
	}, nil
}

func (e TxFeeEstimate) String() string {
	return fmt.Sprintf("total=%d lamports (base=%d, priority=%d @ %d microLamports/CU, limit=%d)",
		e.TotalLamports,
		e.BaseFeeLamports,
		e.PriorityFeeLamports,
		e.MicroLamportsPerCU,
		e.ComputeUnitLimit,
	)
}
