package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/metrics"
	"github.com/openbuilders/loyalty-checkout/internal/solana"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

const codeInvalidParams = -32602

type Config struct {
	URL        string
	Commitment Commitment
	Timeout    time.Duration
}

// RPCClient talks JSON-RPC 2.0 to a Solana-compatible node.
type RPCClient struct {
	config  *Config
	rpc     *rpc.Client
	metrics *metrics.Metrics
	log     *slog.Logger
}

var _ Client = (*RPCClient)(nil)

func Dial(ctx context.Context, config *Config, m *metrics.Metrics) (*RPCClient, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("dial ledger rpc: empty url")
	}
	if config.Commitment == "" {
		config.Commitment = CommitmentConfirmed
	}

	return &RPCClient{
		config:  config,
		rpc:     rpc.New(config.URL),
		metrics: m,
		log:     slog.With("component", "ledger"),
	}, nil
}

func (c *RPCClient) Close() {
	if err := c.rpc.Close(); err != nil {
		c.log.Debug("close rpc client", "error", err)
	}
}

func (c *RPCClient) call(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	defer c.metrics.ObserveLedgerCall(method, time.Now())

	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	err := fn(ctx)
	if err == nil || stderrors.Is(err, rpc.ErrNotFound) {
		return err
	}
	c.log.Debug("rpc call failed", "method", method, "error", err)
	return classify(method, err)
}

func classify(method string, err error) error {
	var rpcErr *jsonrpc.RPCError
	if stderrors.As(err, &rpcErr) && rpcErr.Code == codeInvalidParams &&
		strings.Contains(rpcErr.Message, "could not find") {
		return ErrAccountNotFound
	}
	return errors.LedgerTransient(fmt.Sprintf("%s failed", method), err)
}

func (c *RPCClient) commitment() rpc.CommitmentType {
	return rpc.CommitmentType(c.config.Commitment)
}

// Health returns nil when the node reports itself healthy.
func (c *RPCClient) Health(ctx context.Context) error {
	var status string
	err := c.call(ctx, "getHealth", func(ctx context.Context) (err error) {
		status, err = c.rpc.GetHealth(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if status != "ok" {
		return fmt.Errorf("ledger node unhealthy: %s", status)
	}
	return nil
}

func (c *RPCClient) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var res *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "getLatestBlockhash", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetLatestBlockhash(ctx, c.commitment())
		return err
	})
	if err != nil {
		return solana.Hash{}, err
	}
	if res == nil || res.Value == nil {
		return solana.Hash{}, errors.LedgerTransient("empty blockhash response", nil)
	}
	return res.Value.Blockhash, nil
}

func (c *RPCClient) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	offset, length := uint64(0), uint64(0)
	err := c.call(ctx, "getAccountInfo", func(ctx context.Context) error {
		_, err := c.rpc.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Encoding:   solanago.EncodingBase64,
			Commitment: c.commitment(),
			DataSlice:  &rpc.DataSlice{Offset: &offset, Length: &length},
		})
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func baseUnits(a *rpc.UiTokenAmount) (uint64, error) {
	if a == nil {
		return 0, fmt.Errorf("missing token amount")
	}
	return strconv.ParseUint(a.Amount, 10, 64)
}

func (c *RPCClient) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	var res *rpc.GetTokenAccountBalanceResult
	err := c.call(ctx, "getTokenAccountBalance", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetTokenAccountBalance(ctx, account, c.commitment())
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}

	amount, err := baseUnits(res.Value)
	if err != nil {
		return 0, errors.LedgerTransient("invalid token amount in response", err)
	}
	return amount, nil
}

func (c *RPCClient) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	var res *rpc.GetTokenSupplyResult
	err := c.call(ctx, "getTokenSupply", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetTokenSupply(ctx, mint, c.commitment())
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, err
	}
	if res.Value == nil {
		return 0, errors.LedgerTransient("empty token supply response", nil)
	}
	return res.Value.Decimals, nil
}

func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// Serialize enforces the packet limit the node would reject anyway.
	if _, err := tx.Serialize(true); err != nil {
		return solana.Signature{}, errors.Serialization("couldn't serialize transaction", err)
	}
	wire, err := tx.Wire(true)
	if err != nil {
		return solana.Signature{}, err
	}

	var sig solana.Signature
	err = c.call(ctx, "sendTransaction", func(ctx context.Context) (err error) {
		sig, err = c.rpc.SendTransactionWithOpts(ctx, wire, rpc.TransactionOpts{
			PreflightCommitment: c.commitment(),
		})
		return err
	})
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, nil
}

func rawErr(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`"unencodable error"`)
	}
	return b
}

func (c *RPCClient) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	var res *rpc.GetSignatureStatusesResult
	err := c.call(ctx, "getSignatureStatuses", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if res == nil || len(res.Value) == 0 || res.Value[0] == nil {
		return nil, nil
	}
	s := res.Value[0]
	return &SignatureStatus{
		Slot:               s.Slot,
		Confirmations:      s.Confirmations,
		Err:                rawErr(s.Err),
		ConfirmationStatus: Commitment(s.ConfirmationStatus),
	}, nil
}

func (c *RPCClient) SignaturesForAddress(ctx context.Context, address solana.PublicKey,
	limit int) ([]SignatureInfo, error) {

	opts := &rpc.GetSignaturesForAddressOpts{Commitment: c.commitment()}
	if limit > 0 {
		opts.Limit = &limit
	}

	var res []*rpc.TransactionSignature
	err := c.call(ctx, "getSignaturesForAddress", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetSignaturesForAddressWithOpts(ctx, address, opts)
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]SignatureInfo, 0, len(res))
	for _, r := range res {
		if r == nil {
			continue
		}
		info := SignatureInfo{
			Signature:          r.Signature,
			Slot:               r.Slot,
			Err:                rawErr(r.Err),
			Memo:               r.Memo,
			ConfirmationStatus: Commitment(r.ConfirmationStatus),
		}
		if r.BlockTime != nil {
			bt := int64(*r.BlockTime)
			info.BlockTime = &bt
		}
		out = append(out, info)
	}
	return out, nil
}

func (c *RPCClient) Transaction(ctx context.Context, sig solana.Signature) (*ConfirmedTransaction, error) {
	version := uint64(0)

	var res *rpc.GetTransactionResult
	err := c.call(ctx, "getTransaction", func(ctx context.Context) (err error) {
		res, err = c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solanago.EncodingBase64,
			Commitment:                     c.commitment(),
			MaxSupportedTransactionVersion: &version,
		})
		return err
	})
	if stderrors.Is(err, rpc.ErrNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if res == nil || res.Transaction == nil {
		return nil, ErrTransactionNotFound
	}

	ct, err := confirmed(res)
	if err != nil {
		return nil, errors.LedgerTransient("invalid transaction in response", err)
	}
	return ct, nil
}

func confirmed(res *rpc.GetTransactionResult) (*ConfirmedTransaction, error) {
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, err
	}

	ct := &ConfirmedTransaction{
		Slot:                  res.Slot,
		Signatures:            tx.Signatures,
		AccountKeys:           append([]solana.PublicKey(nil), tx.Message.AccountKeys...),
		NumRequiredSignatures: int(tx.Message.Header.NumRequiredSignatures),
	}
	if res.Meta == nil {
		return ct, nil
	}

	// Keys loaded from lookup tables follow the static keys, writable first.
	ct.Err = rawErr(res.Meta.Err)
	ct.AccountKeys = append(ct.AccountKeys, res.Meta.LoadedAddresses.Writable...)
	ct.AccountKeys = append(ct.AccountKeys, res.Meta.LoadedAddresses.ReadOnly...)

	if ct.PreTokenBalances, err = convertBalances(res.Meta.PreTokenBalances); err != nil {
		return nil, err
	}
	if ct.PostTokenBalances, err = convertBalances(res.Meta.PostTokenBalances); err != nil {
		return nil, err
	}
	return ct, nil
}

func convertBalances(in []rpc.TokenBalance) ([]TokenBalance, error) {
	out := make([]TokenBalance, 0, len(in))
	for _, b := range in {
		amount, err := baseUnits(b.UiTokenAmount)
		if err != nil {
			return nil, err
		}

		var owner solana.PublicKey
		if b.Owner != nil {
			owner = *b.Owner
		}

		out = append(out, TokenBalance{
			AccountIndex: int(b.AccountIndex),
			Mint:         b.Mint,
			Owner:        owner,
			Amount:       amount,
		})
	}
	return out, nil
}
