package alt

import (
	"errors"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

var (
	ErrConfiguration       = errors.New("invalid configuration")
	ErrDerivationMismatch  = errors.New("lookup table address derivation mismatch")
	ErrSubmission          = errors.New("transaction submission failed")
	ErrStaleFreshnessToken = errors.New("recent blockhash expired before confirmation")
	ErrActivationTimeout   = errors.New("lookup table did not become active in time")
	ErrDuplicateAddress    = errors.New("duplicate lookup table address")
	ErrNoSignerSpecified   = errors.New("no fee payer specified")
	ErrTableNotReadable    = errors.New("lookup table is not active")
	ErrMissingSignature    = solana.ErrMissingSigner

	ErrNoAddresses      = errors.New("no addresses to add")
	ErrTableFull        = errors.New("lookup table is full")
	ErrInvalidState     = errors.New("invalid lookup table state")
	ErrTableConflict    = errors.New("on-chain lookup table diverges from local view")
	ErrTableDeactivated = errors.New("lookup table is deactivated")
)
