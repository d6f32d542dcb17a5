package alt

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
	"github.com/Abdullah1738/juno-alt/offchain/solanafees"
	"github.com/Abdullah1738/juno-alt/offchain/solanarpc"
)

// Submitter signs compiled messages and waits for the ledger to confirm
// them.
type Submitter struct {
	ledger     Ledger
	commitment solanarpc.Commitment
	log        *zap.Logger
	metrics    *Metrics

	// Used only to price transactions in logs.
	computeUnitLimit uint32
	computeUnitPrice uint64
}

func NewSubmitter(ledger Ledger, commitment solanarpc.Commitment, logger *zap.Logger, metrics *Metrics) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if commitment == "" {
		commitment = solanarpc.CommitmentProcessed
	}
	return &Submitter{
		ledger:     ledger,
		commitment: commitment,
		log:        logger,
		metrics:    metrics,
	}
}

func (s *Submitter) withComputeUnits(limit uint32, price uint64) *Submitter {
	s.computeUnitLimit = limit
	s.computeUnitPrice = price
	return s
}

// Submit signs msg with exactly the signers it requires and blocks until
// the transaction reaches the configured commitment.
//
// A missing signer fails with ErrMissingSignature and an extra one with
// solana.ErrUnexpectedSigner; nothing is sent in either case. An expired
// blockhash fails with ErrStaleFreshnessToken, every other ledger failure
// with ErrSubmission.
func (s *Submitter) Submit(ctx context.Context, msg CompiledMessage, signers ...solana.Signer) (solanarpc.Confirmation, error) {
	return s.submit(ctx, "transaction", msg, signers...)
}

func (s *Submitter) submit(ctx context.Context, step string, msg CompiledMessage, signers ...solana.Signer) (solanarpc.Confirmation, error) {
	tx, err := solana.SignTransaction(msg.Message, signers...)
	if err != nil {
		return solanarpc.Confirmation{}, err
	}
	if len(tx) > solana.PacketDataSize {
		return solanarpc.Confirmation{}, fmt.Errorf("%w: transaction is %d bytes (max %d)", ErrSubmission, len(tx), solana.PacketDataSize)
	}

	log := s.log.With(zap.String("step", step), zap.Int("tx_bytes", len(tx)))
	fields := []zap.Field{zap.String("fee_payer", msg.Message.FeePayer().Base58())}
	if est, err := solanafees.Estimate(msg.Message, s.computeUnitLimit, s.computeUnitPrice); err == nil {
		fields = append(fields, zap.Uint64("fee_lamports", est.TotalLamports))
	}
	log.Debug("submitting transaction", fields...)

	conf, err := s.ledger.SendAndConfirmTransaction(ctx, tx, msg.Freshness.LastValidBlockHeight, s.commitment)
	s.metrics.transaction(step, err)
	switch {
	case err == nil:
	case errors.Is(err, solanarpc.ErrBlockhashExpired):
		log.Warn("blockhash expired before confirmation", zap.Error(err))
		return solanarpc.Confirmation{}, fmt.Errorf("%w: %w", ErrStaleFreshnessToken, err)
	default:
		log.Error("transaction failed", zap.Error(err))
		return solanarpc.Confirmation{}, fmt.Errorf("%w: %s: %w", ErrSubmission, step, err)
	}

	log.Info("transaction confirmed",
		zap.String("signature", conf.Signature.Base58()),
		zap.Uint64("slot", conf.Slot),
		zap.String("commitment", string(conf.Commitment)))
	return conf, nil
}
