// Package ledgertest provides an in-memory ledger that executes token
// transfers and associated account creation, for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/openbuilders/loyalty-checkout/internal/ledger"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
)

type tokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

type Ledger struct {
	mu            sync.Mutex
	slot          uint64
	blockhash     solana.Hash
	wallets       map[solana.PublicKey]bool
	mints         map[solana.PublicKey]uint8
	tokenAccounts map[solana.PublicKey]tokenAccount
	txs           map[solana.Signature]*ledger.ConfirmedTransaction
	byAddress     map[solana.PublicKey][]ledger.SignatureInfo
	calls         map[string]int
	failures      map[string]error
}

var _ ledger.Client = (*Ledger)(nil)

func New() *Ledger {
	l := &Ledger{
		slot:          1,
		wallets:       map[solana.PublicKey]bool{},
		mints:         map[solana.PublicKey]uint8{},
		tokenAccounts: map[solana.PublicKey]tokenAccount{},
		txs:           map[solana.Signature]*ledger.ConfirmedTransaction{},
		byAddress:     map[solana.PublicKey][]ledger.SignatureInfo{},
		calls:         map[string]int{},
		failures:      map[string]error{},
	}
	l.blockhash[0] = 1
	return l
}

// AddWallet registers a system account so that AccountExists reports it.
func (l *Ledger) AddWallet(owner solana.PublicKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wallets[owner] = true
}

func (l *Ledger) AddMint(mint solana.PublicKey, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints[mint] = decimals
}

// Fund creates owner's associated token account for mint if needed and
// credits amount to it.
func (l *Ledger) Fund(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	ata, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.tokenAccounts[ata]
	if !ok {
		acc = tokenAccount{Mint: mint, Owner: owner}
	}
	acc.Amount += amount
	l.tokenAccounts[ata] = acc
	l.wallets[owner] = true

	return ata
}

// Balance returns the balance of a token account, zero if it is missing.
func (l *Ledger) Balance(account solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokenAccounts[account].Amount
}

func (l *Ledger) HasTokenAccount(account solana.PublicKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.tokenAccounts[account]
	return ok
}

// Fail makes every call to method return err until cleared with a nil err.
func (l *Ledger) Fail(method string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, method)
		return
	}
	l.failures[method] = err
}

func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) TotalCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := 0
	for _, n := range l.calls {
		total += n
	}
	return total
}

// Record stores a confirmed transaction as is, indexed by all of its keys.
// It lets tests plant transactions the executor would never produce.
func (l *Ledger) Record(ct *ledger.ConfirmedTransaction) solana.Signature {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record(ct)
}

func (l *Ledger) record(ct *ledger.ConfirmedTransaction) solana.Signature {
	l.slot++
	ct.Slot = l.slot
	sig := ct.Signatures[0]
	l.txs[sig] = ct

	info := ledger.SignatureInfo{
		Signature:          sig,
		Slot:               ct.Slot,
		Err:                ct.Err,
		ConfirmationStatus: ledger.CommitmentConfirmed,
	}
	seen := map[solana.PublicKey]bool{}
	for _, k := range ct.AccountKeys {
		if seen[k] {
			continue
		}
		seen[k] = true
		l.byAddress[k] = append([]ledger.SignatureInfo{info}, l.byAddress[k]...)
	}

	return sig
}

func (l *Ledger) enter(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[method]++
	return l.failures[method]
}

func (l *Ledger) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	if err := l.enter("getLatestBlockhash"); err != nil {
		return solana.Hash{}, err
	}
	return l.blockhash, nil
}

func (l *Ledger) AccountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	if err := l.enter("getAccountInfo"); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, isToken := l.tokenAccounts[account]
	_, isMint := l.mints[account]
	return isToken || isMint || l.wallets[account], nil
}

func (l *Ledger) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, error) {
	if err := l.enter("getTokenAccountBalance"); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.tokenAccounts[account]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	return acc.Amount, nil
}

func (l *Ledger) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	if err := l.enter("getTokenSupply"); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	d, ok := l.mints[mint]
	if !ok {
		return 0, ledger.ErrAccountNotFound
	}
	return d, nil
}

// SendTransaction checks signatures, executes the instructions atomically
// and confirms the result immediately.
func (l *Ledger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := l.enter("sendTransaction"); err != nil {
		return solana.Signature{}, err
	}

	missing, err := tx.MissingSignatures()
	if err != nil {
		return solana.Signature{}, err
	}
	if len(missing) > 0 {
		return solana.Signature{}, fmt.Errorf("missing signatures for %v", missing)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, err
	}

	msg, err := tx.CompileMessage()
	if err != nil {
		return solana.Signature{}, err
	}
	signers, err := tx.Signers()
	if err != nil {
		return solana.Signature{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	state := make(map[solana.PublicKey]tokenAccount, len(l.tokenAccounts))
	for k, v := range l.tokenAccounts {
		state[k] = v
	}

	for i, ix := range tx.Instructions {
		if err := l.execute(state, signers, ix); err != nil {
			return solana.Signature{}, fmt.Errorf("instruction %d: %w", i, err)
		}
	}

	ct := &ledger.ConfirmedTransaction{
		AccountKeys:           msg.AccountKeys,
		NumRequiredSignatures: int(msg.Header.NumRequiredSignatures),
		PreTokenBalances:      snapshot(l.tokenAccounts, msg.AccountKeys),
		PostTokenBalances:     snapshot(state, msg.AccountKeys),
	}
	for _, pk := range signers {
		sig, _ := tx.Signature(pk)
		ct.Signatures = append(ct.Signatures, sig)
	}

	l.tokenAccounts = state
	return l.record(ct), nil
}

func snapshot(accounts map[solana.PublicKey]tokenAccount, keys []solana.PublicKey) []ledger.TokenBalance {
	var out []ledger.TokenBalance
	for i, k := range keys {
		if acc, ok := accounts[k]; ok {
			out = append(out, ledger.TokenBalance{
				AccountIndex: i,
				Mint:         acc.Mint,
				Owner:        acc.Owner,
				Amount:       acc.Amount,
			})
		}
	}
	return out
}

func (l *Ledger) execute(state map[solana.PublicKey]tokenAccount, signers []solana.PublicKey,
	ix solana.Instruction) error {

	signed := func(pk solana.PublicKey) bool {
		for _, s := range signers {
			if s == pk {
				return true
			}
		}
		return false
	}

	switch {
	case solana.IsCreateAssociatedTokenAccount(ix):
		payer, ata, owner, mint := ix.Accounts[0].PublicKey, ix.Accounts[1].PublicKey,
			ix.Accounts[2].PublicKey, ix.Accounts[3].PublicKey
		if !signed(payer) {
			return fmt.Errorf("payer %s did not sign", payer)
		}
		if _, ok := l.mints[mint]; !ok {
			return fmt.Errorf("mint %s does not exist", mint)
		}
		want, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return err
		}
		if want != ata {
			return fmt.Errorf("associated token address mismatch")
		}
		if existing, ok := state[ata]; ok {
			idempotent := len(ix.Data) == 1 && ix.Data[0] == 1
			if !idempotent || existing.Owner != owner || existing.Mint != mint {
				return fmt.Errorf("account %s already in use", ata)
			}
			return nil
		}
		state[ata] = tokenAccount{Mint: mint, Owner: owner}
		return nil

	case ix.ProgramID == solana.TokenProgramID:
		tc, err := solana.DecodeTransferChecked(ix)
		if err != nil {
			return err
		}
		if !signed(tc.Owner) {
			return fmt.Errorf("owner %s did not sign", tc.Owner)
		}
		decimals, ok := l.mints[tc.Mint]
		if !ok {
			return fmt.Errorf("mint %s does not exist", tc.Mint)
		}
		if decimals != tc.Decimals {
			return fmt.Errorf("mint decimals mismatch")
		}

		src, ok := state[tc.Source]
		if !ok {
			return fmt.Errorf("source account %s does not exist", tc.Source)
		}
		dst, ok := state[tc.Destination]
		if !ok {
			return fmt.Errorf("destination account %s does not exist", tc.Destination)
		}
		if src.Mint != tc.Mint || dst.Mint != tc.Mint {
			return fmt.Errorf("account not associated with mint")
		}
		if src.Owner != tc.Owner {
			return fmt.Errorf("owner does not match")
		}
		if src.Amount < tc.Amount {
			return fmt.Errorf("insufficient funds")
		}

		src.Amount -= tc.Amount
		state[tc.Source] = src
		dst = state[tc.Destination]
		dst.Amount += tc.Amount
		state[tc.Destination] = dst
		return nil
	}

	return fmt.Errorf("unsupported program %s", ix.ProgramID)
}

func (l *Ledger) SignatureStatus(ctx context.Context, sig solana.Signature) (*ledger.SignatureStatus, error) {
	if err := l.enter("getSignatureStatuses"); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ct, ok := l.txs[sig]
	if !ok {
		return nil, nil
	}
	return &ledger.SignatureStatus{
		Slot:               ct.Slot,
		Err:                ct.Err,
		ConfirmationStatus: ledger.CommitmentConfirmed,
	}, nil
}

func (l *Ledger) SignaturesForAddress(ctx context.Context, address solana.PublicKey,
	limit int) ([]ledger.SignatureInfo, error) {

	if err := l.enter("getSignaturesForAddress"); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	infos := l.byAddress[address]
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return append([]ledger.SignatureInfo(nil), infos...), nil
}

func (l *Ledger) Transaction(ctx context.Context, sig solana.Signature) (*ledger.ConfirmedTransaction, error) {
	if err := l.enter("getTransaction"); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ct, ok := l.txs[sig]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	cp := *ct
	return &cp, nil
}
