package ledger

import (
	"context"
	"encoding/json"

	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
)

type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

var (
	ErrAccountNotFound     = errors.NotFound("account not found")
	ErrTransactionNotFound = errors.NotFound("transaction not found")
)

// Client is the subset of the ledger RPC surface the checkout flow needs.
type Client interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	// TokenAccountBalance returns the raw base-unit balance or
	// ErrAccountNotFound when the token account does not exist.
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error)
	MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// SignatureStatus returns nil when the ledger does not know the signature.
	SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
	// SignaturesForAddress lists confirmed signatures touching address,
	// newest first.
	SignaturesForAddress(ctx context.Context, address solana.PublicKey, limit int) ([]SignatureInfo, error)
	Transaction(ctx context.Context, sig solana.Signature) (*ConfirmedTransaction, error)
}

type SignatureInfo struct {
	Signature          solana.Signature `json:"signature"`
	Slot               uint64           `json:"slot"`
	Err                json.RawMessage  `json:"err,omitempty"`
	Memo               *string          `json:"memo,omitempty"`
	BlockTime          *int64           `json:"blockTime,omitempty"`
	ConfirmationStatus Commitment       `json:"confirmationStatus,omitempty"`
}

func (s SignatureInfo) Failed() bool {
	return isErrSet(s.Err)
}

type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus Commitment      `json:"confirmationStatus"`
}

func (s SignatureStatus) Failed() bool {
	return isErrSet(s.Err)
}

// Reached reports whether the status is at least as final as c.
func (s SignatureStatus) Reached(c Commitment) bool {
	return commitmentRank(s.ConfirmationStatus) >= commitmentRank(c)
}

func commitmentRank(c Commitment) int {
	switch c {
	case CommitmentFinalized:
		return 3
	case CommitmentConfirmed:
		return 2
	case CommitmentProcessed:
		return 1
	}
	return 0
}

// TokenBalance is a token account balance snapshot taken before or after a
// transaction executed.
type TokenBalance struct {
	AccountIndex int
	Mint         solana.PublicKey
	Owner        solana.PublicKey
	Amount       uint64
}

// ConfirmedTransaction is the part of a confirmed transaction that payment
// validation inspects.
type ConfirmedTransaction struct {
	Slot                  uint64
	Err                   json.RawMessage
	Signatures            []solana.Signature
	AccountKeys           []solana.PublicKey
	NumRequiredSignatures int
	PreTokenBalances      []TokenBalance
	PostTokenBalances     []TokenBalance
}

func (t *ConfirmedTransaction) Failed() bool {
	return isErrSet(t.Err)
}

func (t *ConfirmedTransaction) indexOf(pk solana.PublicKey) int {
	for i, k := range t.AccountKeys {
		if k == pk {
			return i
		}
	}
	return -1
}

func (t *ConfirmedTransaction) HasKey(pk solana.PublicKey) bool {
	return t.indexOf(pk) >= 0
}

func (t *ConfirmedTransaction) IsSigner(pk solana.PublicKey) bool {
	i := t.indexOf(pk)
	return i >= 0 && i < t.NumRequiredSignatures
}

// TokenBalanceChange returns the pre and post balances of account for mint.
// A missing snapshot counts as zero; ok is false when neither snapshot
// exists.
func (t *ConfirmedTransaction) TokenBalanceChange(account, mint solana.PublicKey) (pre, post uint64, ok bool) {
	i := t.indexOf(account)
	if i < 0 {
		return 0, 0, false
	}

	for _, b := range t.PreTokenBalances {
		if b.AccountIndex == i && b.Mint == mint {
			pre, ok = b.Amount, true
		}
	}
	for _, b := range t.PostTokenBalances {
		if b.AccountIndex == i && b.Mint == mint {
			post, ok = b.Amount, true
		}
	}
	return pre, post, ok
}

func isErrSet(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
