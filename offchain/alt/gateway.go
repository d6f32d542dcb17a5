package alt

import (
	"context"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

// Ledger is the subset of the RPC surface the lifecycle needs.
// *solanarpc.Client implements it.
type Ledger interface {
	Slot(ctx context.Context, commitment solanarpc.Commitment) (uint64, error)
	LatestBlockhash(ctx context.Context) (solanarpc.Blockhash, error)
	// AccountInfo returns an error wrapping solanarpc.ErrAccountNotFound when
	// the account does not exist at the requested commitment.
	AccountInfo(ctx context.Context, pubkey solana.Pubkey, commitment solanarpc.Commitment) (solanarpc.Account, error)
	SendAndConfirmTransaction(ctx context.Context, tx []byte, lastValidBlockHeight uint64, commitment solanarpc.Commitment) (solanarpc.Confirmation, error)
}

var _ Ledger = (*solanarpc.Client)(nil)
