package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Abdullah1738/juno-alt/offchain/solana"
)

// testChain is a JSON-RPC ledger that executes transfer and lookup table
// instructions against real account encodings. Every transaction lands in
// its own slot and is immediately finalized.
type testChain struct {
	mu sync.Mutex

	slot     uint64
	tables   map[solana.Pubkey][]byte
	balances map[solana.Pubkey]uint64
	landed   map[solana.Signature]uint64
	sends    int
}

func newTestChain() *testChain {
	return &testChain{
		slot:     100,
		tables:   make(map[solana.Pubkey][]byte),
		balances: make(map[solana.Pubkey]uint64),
		landed:   make(map[solana.Signature]uint64),
	}
}

func (c *testChain) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		result, rpcErr := c.handle(req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": "1"}
		if rpcErr != nil {
			resp["error"] = map[string]any{"code": -32002, "message": rpcErr.Error()}
		} else {
			resp["result"] = result
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (c *testChain) balance(pk solana.Pubkey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[pk]
}

func (c *testChain) sendCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sends
}

func firstParam(params []json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", errors.New("missing params")
	}
	var s string
	err := json.Unmarshal(params[0], &s)
	return s, err
}

func (c *testChain) handle(method string, params []json.RawMessage) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx := map[string]any{"slot": c.slot}

	switch method {
	case "getSlot", "getBlockHeight":
		return c.slot, nil
	case "getLatestBlockhash":
		var bh solana.Pubkey
		bh[0], bh[31] = 0xB0, byte(c.slot)
		return map[string]any{"context": ctx, "value": map[string]any{
			"blockhash":            bh.Base58(),
			"lastValidBlockHeight": c.slot + 150,
		}}, nil
	case "getBalance":
		s, err := firstParam(params)
		if err != nil {
			return nil, err
		}
		pk, err := solana.ParsePubkey(s)
		if err != nil {
			return nil, err
		}
		return map[string]any{"context": ctx, "value": c.balances[pk]}, nil
	case "getAccountInfo":
		s, err := firstParam(params)
		if err != nil {
			return nil, err
		}
		pk, err := solana.ParsePubkey(s)
		if err != nil {
			return nil, err
		}
		data, ok := c.tables[pk]
		if !ok {
			return map[string]any{"context": ctx, "value": nil}, nil
		}
		return map[string]any{"context": ctx, "value": map[string]any{
			"data":     []string{base64.StdEncoding.EncodeToString(data), "base64"},
			"owner":    solana.AddressLookupTableProgramID.Base58(),
			"lamports": 1,
		}}, nil
	case "sendTransaction":
		s, err := firstParam(params)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, err
		}
		sig, err := c.apply(raw)
		if err != nil {
			return nil, err
		}
		return sig.Base58(), nil
	case "getSignatureStatuses":
		if len(params) == 0 {
			return nil, errors.New("missing params")
		}
		var encoded []string
		if err := json.Unmarshal(params[0], &encoded); err != nil {
			return nil, err
		}
		out := make([]any, 0, len(encoded))
		for _, e := range encoded {
			sig, err := solana.ParseSignature(e)
			if err != nil {
				return nil, err
			}
			slot, ok := c.landed[sig]
			if !ok {
				out = append(out, nil)
				continue
			}
			out = append(out, map[string]any{"slot": slot, "err": nil, "confirmationStatus": "finalized"})
		}
		return map[string]any{"context": ctx, "value": out}, nil
	default:
		return nil, fmt.Errorf("unsupported method %s", method)
	}
}

func (c *testChain) apply(raw []byte) (solana.Signature, error) {
	c.sends++
	tx, err := solana.ParseTransaction(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, err
	}

	var writable, readonly []solana.Pubkey
	for _, lk := range tx.Message.AddressTableLookups {
		st, err := solana.ParseAddressLookupTable(c.tables[lk.AccountKey])
		if err != nil {
			return solana.Signature{}, err
		}
		usable := st.UsableAddresses(c.slot)
		for _, i := range lk.WritableIndexes {
			if int(i) >= len(usable) {
				return solana.Signature{}, errors.New("lookup index not usable")
			}
			writable = append(writable, usable[i])
		}
		for _, i := range lk.ReadonlyIndexes {
			if int(i) >= len(usable) {
				return solana.Signature{}, errors.New("lookup index not usable")
			}
			readonly = append(readonly, usable[i])
		}
	}
	loaded := append(writable, readonly...)

	for _, cix := range tx.Message.Instructions {
		ix, err := tx.Message.ResolveInstruction(cix, loaded)
		if err != nil {
			return solana.Signature{}, err
		}
		if err := c.execute(ix); err != nil {
			return solana.Signature{}, err
		}
	}
	c.landed[tx.Signatures[0]] = c.slot
	c.slot++
	return tx.Signatures[0], nil
}

func (c *testChain) execute(ix solana.Instruction) error {
	switch ix.ProgramID {
	case solana.ComputeBudgetProgramID:
		return nil
	case solana.SystemProgramID:
		if len(ix.Data) != 12 || len(ix.Accounts) != 2 {
			return errors.New("unsupported system instruction")
		}
		var lamports uint64
		for i := 11; i >= 4; i-- {
			lamports = lamports<<8 | uint64(ix.Data[i])
		}
		from, to := ix.Accounts[0].Pubkey, ix.Accounts[1].Pubkey
		if c.balances[from] < lamports {
			return errors.New("insufficient funds")
		}
		c.balances[from] -= lamports
		c.balances[to] += lamports
		return nil
	case solana.AddressLookupTableProgramID:
	default:
		return fmt.Errorf("unsupported program %s", ix.ProgramID.Base58())
	}

	dec, err := solana.DecodeLookupTableInstruction(ix.Data)
	if err != nil {
		return err
	}
	table, authority := ix.Accounts[0].Pubkey, ix.Accounts[1].Pubkey
	var st solana.AddressLookupTableState
	switch {
	case dec.IsCreate():
		if _, ok := c.tables[table]; ok {
			return errors.New("table already exists")
		}
		want, err := solana.LookupTableAddressWithBump(authority, dec.RecentSlot, dec.Bump)
		if err != nil || want != table {
			return errors.New("table address does not match seeds")
		}
		st = solana.AddressLookupTableState{DeactivationSlot: math.MaxUint64, Authority: &authority}
	case dec.IsExtend():
		if st, err = solana.ParseAddressLookupTable(c.tables[table]); err != nil {
			return err
		}
		if st.LastExtendedSlot != c.slot {
			st.LastExtendedSlot = c.slot
			st.LastExtendedSlotStartIndex = uint8(len(st.Addresses))
		}
		st.Addresses = append(st.Addresses, dec.Addresses...)
	}
	data, err := st.MarshalBinary()
	if err != nil {
		return err
	}
	c.tables[table] = data
	return nil
}
