package alt

import (
	"fmt"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

// CompiledMessage is a v0 message ready to be signed, together with the
// blockhash it was compiled against.
type CompiledMessage struct {
	Message   solana.Message
	Freshness solanarpc.Blockhash
}

// Compile builds a v0 message for instructions. Every account that is
// neither a signer nor an invoked program is loaded from the first table
// that holds it; all other accounts are embedded statically.
//
// Only active tables are consulted. A table that is not active fails with
// ErrTableNotReadable when it would be the first to provide a referenced
// account; it is ignored when an earlier active table already provides
// every account it holds.
func Compile(feePayer solana.Pubkey, instructions []solana.Instruction, tables []Table, freshness solanarpc.Blockhash) (CompiledMessage, error) {
	if feePayer.IsZero() {
		return CompiledMessage{}, ErrNoSignerSpecified
	}

	loadable := solana.LoadableAccounts(feePayer, instructions)
	provided := make(map[solana.Pubkey]struct{}, len(loadable))
	lookups := make([]solana.LookupTable, 0, len(tables))
	for _, t := range tables {
		if t.State != StateActive {
			for _, pk := range loadable {
				if _, ok := provided[pk]; ok {
					continue
				}
				if t.contains(pk) {
					return CompiledMessage{}, fmt.Errorf("%w: %s is %s and holds %s", ErrTableNotReadable, t.Address.Base58(), t.State, pk.Base58())
				}
			}
			continue
		}
		for _, pk := range loadable {
			if t.contains(pk) {
				provided[pk] = struct{}{}
			}
		}
		lookups = append(lookups, t.lookupTable())
	}

	msg, err := solana.CompileV0Message(freshness.Blockhash, feePayer, instructions, lookups)
	if err != nil {
		return CompiledMessage{}, fmt.Errorf("compile v0 message: %w", err)
	}
	return CompiledMessage{Message: msg, Freshness: freshness}, nil
}
