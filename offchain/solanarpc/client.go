package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

var (
	ErrMissingRPCURL     = errors.New("missing rpc url")
	ErrRPCError          = errors.New("solana rpc error")
	ErrAccountNotFound   = errors.New("account not found")
	ErrBlockhashExpired  = errors.New("blockhash expired before confirmation")
	ErrTransactionFailed = errors.New("transaction failed")
)

type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrRPCError.Error(), e.Code, e.Message)
}

func (e *RPCError) Unwrap() error { return ErrRPCError }

// Commitment is the durability level requested from the ledger.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func ParseCommitment(s string) (Commitment, error) {
	switch c := Commitment(strings.ToLower(strings.TrimSpace(s))); c {
	case CommitmentProcessed, CommitmentConfirmed, CommitmentFinalized:
		return c, nil
	case "":
		return CommitmentProcessed, nil
	default:
		return "", fmt.Errorf("unknown commitment %q (want processed|confirmed|finalized)", s)
	}
}

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Satisfies reports whether a status at level c meets the target level.
func (c Commitment) Satisfies(target Commitment) bool {
	return c.rank() > 0 && c.rank() >= target.rank()
}

type Client struct {
	rpcURL string
	http   *http.Client

	confirmInterval time.Duration
	resendEvery     int
}

const (
	defaultConfirmInterval = 500 * time.Millisecond
	defaultResendEvery     = 4
)

func New(rpcURL string, httpClient *http.Client) *Client {
	rpcURL = strings.TrimSpace(rpcURL)
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		rpcURL:          rpcURL,
		http:            httpClient,
		confirmInterval: defaultConfirmInterval,
		resendEvery:     defaultResendEvery,
	}
}

// WithConfirmInterval sets how often SendAndConfirmTransaction polls
// signature statuses.
func (c *Client) WithConfirmInterval(d time.Duration) *Client {
	if d > 0 {
		c.confirmInterval = d
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func isRateLimitedRPCError(code int, message string) bool {
	if code == 429 || code == -32429 {
		return true
	}
	msg := strings.ToLower(strings.TrimSpace(message))
	return strings.Contains(msg, "rate") && strings.Contains(msg, "limit")
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) rpcCall(ctx context.Context, method string, params any, out any) error {
	if c == nil {
		return errors.New("nil rpc client")
	}
	if strings.TrimSpace(c.rpcURL) == "" {
		return ErrMissingRPCURL
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      "1",
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	backoff := 1 * time.Second
	maxBackoff := 10 * time.Second
	maxAttempts := 7

	retry := func(attempt int) (bool, error) {
		if attempt >= maxAttempts {
			return false, nil
		}
		if err := sleepWithContext(ctx, backoff); err != nil {
			return false, err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
		return true, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(reqBody))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("%w: http status=%d", ErrRPCError, resp.StatusCode)
			again, err := retry(attempt)
			if err != nil {
				return err
			}
			if again {
				continue
			}
			return lastErr
		}

		var rr rpcResponse
		if err := json.Unmarshal(raw, &rr); err != nil {
			lastErr = fmt.Errorf("decode rpc response: %w", err)
			again, err := retry(attempt)
			if err != nil {
				return err
			}
			if again {
				continue
			}
			return lastErr
		}
		if rr.Error != nil {
			lastErr = &RPCError{Code: rr.Error.Code, Message: rr.Error.Message}
			if isRateLimitedRPCError(rr.Error.Code, rr.Error.Message) {
				again, err := retry(attempt)
				if err != nil {
					return err
				}
				if again {
					continue
				}
			}
			return lastErr
		}
		if out == nil {
			return nil
		}
		if len(rr.Result) == 0 {
			return fmt.Errorf("%w: empty result", ErrRPCError)
		}
		if err := json.Unmarshal(rr.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		return nil
	}
	if lastErr != nil {
		return lastErr
	}
	return fmt.Errorf("%w: no response", ErrRPCError)
}

// Blockhash is a recent blockhash together with the last block height at
// which transactions referencing it are still accepted.
type Blockhash struct {
	Blockhash            [32]byte
	LastValidBlockHeight uint64
}

func (c *Client) LatestBlockhash(ctx context.Context) (Blockhash, error) {
	var out Blockhash
	var resp struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	// Use finalized to avoid "Blockhash not found" when talking to load-balanced public RPCs.
	if err := c.rpcCall(ctx, "getLatestBlockhash", []any{map[string]any{"commitment": "finalized"}}, &resp); err != nil {
		return out, err
	}

	bh, err := solana.ParsePubkey(resp.Value.Blockhash)
	if err != nil {
		return out, fmt.Errorf("invalid blockhash: %w", err)
	}
	copy(out.Blockhash[:], bh[:])
	out.LastValidBlockHeight = resp.Value.LastValidBlockHeight
	return out, nil
}

func (c *Client) Slot(ctx context.Context, commitment Commitment) (uint64, error) {
	var resp uint64
	if err := c.rpcCall(ctx, "getSlot", []any{map[string]any{"commitment": string(commitment)}}, &resp); err != nil {
		return 0, err
	}
	return resp, nil
}

func (c *Client) BlockHeight(ctx context.Context, commitment Commitment) (uint64, error) {
	var resp uint64
	if err := c.rpcCall(ctx, "getBlockHeight", []any{map[string]any{"commitment": string(commitment)}}, &resp); err != nil {
		return 0, err
	}
	return resp, nil
}

type Account struct {
	Owner    solana.Pubkey
	Lamports uint64
	Data     []byte
	Slot     uint64
}

func (c *Client) AccountInfo(ctx context.Context, pubkey solana.Pubkey, commitment Commitment) (Account, error) {
	var resp struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Data     []any  `json:"data"`
			Owner    string `json:"owner"`
			Lamports uint64 `json:"lamports"`
		} `json:"value"`
	}
	params := []any{
		pubkey.Base58(),
		map[string]any{
			"encoding":   "base64",
			"commitment": string(commitment),
		},
	}
	if err := c.rpcCall(ctx, "getAccountInfo", params, &resp); err != nil {
		return Account{}, err
	}
	if resp.Value == nil {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, pubkey.Base58())
	}
	if len(resp.Value.Data) < 1 {
		return Account{}, errors.New("account missing data")
	}
	s, ok := resp.Value.Data[0].(string)
	if !ok {
		return Account{}, errors.New("unexpected account data encoding")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Account{}, err
	}
	owner, err := solana.ParsePubkey(resp.Value.Owner)
	if err != nil {
		return Account{}, fmt.Errorf("invalid account owner: %w", err)
	}
	return Account{
		Owner:    owner,
		Lamports: resp.Value.Lamports,
		Data:     b,
		Slot:     resp.Context.Slot,
	}, nil
}

func (c *Client) BalanceLamports(ctx context.Context, pubkey solana.Pubkey, commitment Commitment) (uint64, error) {
	if commitment == "" {
		commitment = CommitmentProcessed
	}
	var resp struct {
		Value uint64 `json:"value"`
	}
	if err := c.rpcCall(ctx, "getBalance", []any{pubkey.Base58(), map[string]any{"commitment": string(commitment)}}, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment Commitment
}

func (c *Client) SendTransaction(ctx context.Context, tx []byte, opts SendOptions) (solana.Signature, error) {
	if len(tx) == 0 {
		return solana.Signature{}, errors.New("empty tx")
	}
	cfg := map[string]any{
		"encoding":      "base64",
		"skipPreflight": opts.SkipPreflight,
		// Rebroadcasting is driven by SendAndConfirmTransaction.
		"maxRetries": 0,
	}
	if opts.PreflightCommitment != "" {
		cfg["preflightCommitment"] = string(opts.PreflightCommitment)
	}
	var resp string
	if err := c.rpcCall(ctx, "sendTransaction", []any{base64.StdEncoding.EncodeToString(tx), cfg}, &resp); err != nil {
		return solana.Signature{}, err
	}
	sig, err := solana.ParseSignature(resp)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sendTransaction returned %q: %w", resp, err)
	}
	return sig, nil
}

type SignatureStatus struct {
	Slot               uint64     `json:"slot"`
	Confirmations      *uint64    `json:"confirmations"`
	Err                any        `json:"err"`
	ConfirmationStatus Commitment `json:"confirmationStatus"`
}

// SignatureStatuses returns one entry per signature; nil means the ledger
// has not seen it.
func (c *Client) SignatureStatuses(ctx context.Context, sigs ...solana.Signature) ([]*SignatureStatus, error) {
	if len(sigs) == 0 {
		return nil, errors.New("signatures required")
	}
	encoded := make([]string, 0, len(sigs))
	for _, s := range sigs {
		encoded = append(encoded, s.Base58())
	}
	var resp struct {
		Value []*SignatureStatus `json:"value"`
	}
	if err := c.rpcCall(ctx, "getSignatureStatuses", []any{encoded, map[string]any{"searchTransactionHistory": false}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Value) != len(sigs) {
		return nil, fmt.Errorf("%w: getSignatureStatuses returned %d entries for %d signatures", ErrRPCError, len(resp.Value), len(sigs))
	}
	return resp.Value, nil
}

// Confirmation describes a transaction that reached the requested commitment.
type Confirmation struct {
	Signature  solana.Signature
	Slot       uint64
	Commitment Commitment
}

// SendAndConfirmTransaction submits tx and blocks until it reaches
// commitment, the ledger reports an execution error, the blockhash expires,
// or ctx is done. The transaction is rebroadcast periodically while pending.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx []byte, lastValidBlockHeight uint64, commitment Commitment) (Confirmation, error) {
	if commitment == "" {
		commitment = CommitmentProcessed
	}
	sig, err := c.SendTransaction(ctx, tx, SendOptions{PreflightCommitment: commitment})
	if err != nil {
		return Confirmation{}, err
	}

	for poll := 1; ; poll++ {
		statuses, err := c.SignatureStatuses(ctx, sig)
		if err != nil {
			return Confirmation{}, err
		}
		st := statuses[0]
		if st != nil {
			if st.Err != nil {
				return Confirmation{}, fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig.Base58(), st.Err)
			}
			if st.ConfirmationStatus.Satisfies(commitment) {
				return Confirmation{Signature: sig, Slot: st.Slot, Commitment: st.ConfirmationStatus}, nil
			}
		}

		// Once the ledger has seen the transaction the blockhash no longer
		// matters; wait for the commitment to catch up.
		if st == nil {
			if lastValidBlockHeight != 0 {
				height, err := c.BlockHeight(ctx, CommitmentConfirmed)
				if err != nil {
					return Confirmation{}, err
				}
				if height > lastValidBlockHeight {
					return Confirmation{}, fmt.Errorf("%w: %s (block height %d > %d)", ErrBlockhashExpired, sig.Base58(), height, lastValidBlockHeight)
				}
			}
			if c.resendEvery > 0 && poll%c.resendEvery == 0 {
				// A failed rebroadcast is not terminal; the status poll decides.
				_, _ = c.SendTransaction(ctx, tx, SendOptions{SkipPreflight: true})
			}
		}
		if err := sleepWithContext(ctx, c.confirmInterval); err != nil {
			return Confirmation{}, err
		}
	}
}
