// Package shop runs checkouts end to end: it builds the transaction, records
// the attempt, and drives its verification to a terminal status.
package shop

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/catalog"
	"github.com/openbuilders/loyalty-checkout/internal/checkout"
	"github.com/openbuilders/loyalty-checkout/internal/errors"
	"github.com/openbuilders/loyalty-checkout/internal/loyalty"
	"github.com/openbuilders/loyalty-checkout/internal/payment"
	"github.com/openbuilders/loyalty-checkout/internal/pricing"
	"github.com/openbuilders/loyalty-checkout/internal/solana"
	"github.com/openbuilders/loyalty-checkout/internal/types"
)

type Config struct {
	Label string
	Icon  string
	// CheckoutTTL is how long a built transaction is waited for.
	CheckoutTTL time.Duration
	// WatchInBackground verifies every checkout without waiting for the
	// buyer's page to poll.
	WatchInBackground bool
}

type Store interface {
	CreateCheckout(ctx context.Context, c *types.Checkout) error
	GetCheckout(ctx context.Context, reference solana.PublicKey) (*types.Checkout, error)
	UpdateCheckout(ctx context.Context, c *types.Checkout) error
	AcquireLoyaltyLock(ctx context.Context, buyer, reference solana.PublicKey, ttl time.Duration) error
	ReleaseLoyaltyLock(ctx context.Context, buyer, reference solana.PublicKey) error
}

// Journal receives checkouts that reached a terminal status.
type Journal interface {
	PersistReceipt(ctx context.Context, r types.Receipt) error
}

type Metadata struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
}

type CreatedCheckout struct {
	Transaction string `json:"transaction"`
	Message     string `json:"message"`
}

type CouponBook struct {
	Balance   uint64 `json:"balance"`
	Display   uint64 `json:"display"`
	Threshold uint64 `json:"threshold"`
}

type Service struct {
	config   *Config
	catalog  *catalog.Catalog
	builder  *checkout.Builder
	verifier *payment.Verifier
	store    Store
	journal  Journal
	policy   loyalty.Policy
	encode   func(*solana.Transaction) (string, error)

	watchCtx context.Context
	watchers sync.WaitGroup
	mu       sync.Mutex

	log *slog.Logger
}

var (
	errInvalidReference = errors.Validation("Invalid reference")
	errInvalidAccount   = errors.Validation("Invalid account")
)

func New(config *Config, cat *catalog.Catalog, builder *checkout.Builder,
	verifier *payment.Verifier, store Store, journal Journal) *Service {

	if config.CheckoutTTL == 0 {
		config.CheckoutTTL = 10 * time.Minute
	}

	return &Service{
		config:   config,
		catalog:  cat,
		builder:  builder,
		verifier: verifier,
		store:    store,
		journal:  journal,
		policy:   loyalty.DefaultPolicy(),
		encode:   solana.Encode,
		log:      slog.With("component", "shop"),
	}
}

// Start enables background watchers and blocks until ctx is done and every
// watcher has returned.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.watchCtx = ctx
	s.mu.Unlock()

	<-ctx.Done()

	s.mu.Lock()
	s.watchCtx = nil
	s.mu.Unlock()

	s.watchers.Wait()
	return nil
}

func (s *Service) Metadata() Metadata {
	return Metadata{Label: s.config.Label, Icon: s.config.Icon}
}

func (s *Service) Products() []catalog.Entry {
	return s.catalog.Entries()
}

func parseKey(raw string, invalid error) (solana.PublicKey, error) {
	if raw == "" {
		return solana.PublicKey{}, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, invalid
	}
	return pk, nil
}

// CreateCheckout builds the transaction for the items in query and the buyer
// account, and records the attempt under its reference.
func (s *Service) CreateCheckout(ctx context.Context, query url.Values, account string) (
	*CreatedCheckout, error) {

	sel, err := pricing.ParseSelection(query, s.catalog)
	if err != nil {
		return nil, err
	}

	// Malformed keys are reported where a missing one would be, so that the
	// zero-amount check still comes first.
	reference, refErr := parseKey(query.Get("reference"), errInvalidReference)
	buyer, buyerErr := parseKey(account, errInvalidAccount)

	res, err := s.builder.Build(ctx, checkout.Request{
		Selection: sel,
		Buyer:     buyer,
		Reference: reference,
	})
	switch {
	case stderrors.Is(err, checkout.ErrMissingReference) && refErr != nil:
		return nil, refErr
	case stderrors.Is(err, checkout.ErrMissingAccount) && buyerErr != nil:
		return nil, buyerErr
	case err != nil:
		return nil, err
	}

	// The transaction is ours, so failing to encode it is not the buyer's
	// fault.
	encoded, err := s.encode(res.Transaction)
	if err != nil {
		return nil, errors.Internal("couldn't encode checkout transaction", err)
	}

	now := time.Now().UTC()
	c := &types.Checkout{
		Reference:       res.Reference,
		Buyer:           res.Buyer,
		Merchant:        s.builder.Merchant(),
		Recipient:       res.Recipient,
		Mint:            s.builder.PaymentMint(),
		Amount:          res.Charge,
		AmountBaseUnits: res.ChargeBaseUnits,
		Coupons:         res.Action.Kind.String(),
		CouponAmount:    res.Action.Amount,
		Status:          types.StatusPending,
		CreatedAt:       now,
		ExpiresAt:       now.Add(s.config.CheckoutTTL),
	}

	if c.Redeems() {
		if err := s.store.AcquireLoyaltyLock(ctx, c.Buyer, c.Reference, s.config.CheckoutTTL); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreateCheckout(ctx, c); err != nil {
		if c.Redeems() {
			s.releaseLock(ctx, c)
		}
		return nil, err
	}

	s.watch(c)

	return &CreatedCheckout{Transaction: encoded, Message: res.Message}, nil
}

// CheckoutStatus returns the checkout recorded under reference after
// advancing its verification by one step.
func (s *Service) CheckoutStatus(ctx context.Context, reference string) (*types.Checkout, error) {
	ref, err := solana.PublicKeyFromBase58(reference)
	if err != nil {
		return nil, errInvalidReference
	}

	c, err := s.store.GetCheckout(ctx, ref)
	if err != nil {
		return nil, err
	}

	if err := s.advance(ctx, c); err != nil {
		s.log.Debug("verification step failed", "reference", reference, "error", err)
	}
	return c, nil
}

func (s *Service) CouponBalance(ctx context.Context, account string) (*CouponBook, error) {
	buyer, err := parseKey(account, errInvalidAccount)
	if err != nil {
		return nil, err
	}

	balance, err := s.builder.CouponBalance(ctx, buyer)
	if err != nil {
		return nil, err
	}

	return &CouponBook{
		Balance:   balance,
		Display:   loyalty.DisplayBalance(balance),
		Threshold: s.policy.Threshold,
	}, nil
}

func expectation(c *types.Checkout) payment.Expectation {
	return payment.Expectation{
		Reference: c.Reference,
		Recipient: c.Recipient,
		Mint:      c.Mint,
		Amount:    c.AmountBaseUnits,
		Merchant:  c.Merchant,
	}
}

// advance moves c one verification step forward and persists any change.
// A checkout the ledger still shows unpaid after its deadline expires.
func (s *Service) advance(ctx context.Context, c *types.Checkout) error {
	if c.Status.IsTerminal() {
		return nil
	}

	// The ledger is consulted even past the deadline: a payment made in time
	// but seen late still settles.
	next, stepErr := s.verifier.Step(ctx, expectation(c), payment.Progress{
		Status:    c.Status,
		Signature: c.Signature,
		Reason:    c.Reason,
	})
	if stepErr == nil && next.Status == types.StatusPending && time.Now().After(c.ExpiresAt) {
		next = payment.Progress{Status: types.StatusExpired}
	}

	if err := s.apply(ctx, c, next); err != nil {
		return err
	}
	return stepErr
}

func (s *Service) apply(ctx context.Context, c *types.Checkout, p payment.Progress) error {
	if p.Status == c.Status {
		return nil
	}
	// A single step can find and settle a payment at once.
	if c.Status == types.StatusPending &&
		(p.Status == types.StatusValidated || p.Status == types.StatusRejected) {
		found := payment.Progress{Status: types.StatusFound, Signature: p.Signature}
		if err := s.apply(ctx, c, found); err != nil {
			return err
		}
	}
	if !c.Status.CanTransitionTo(p.Status) {
		s.log.Error("Illegal checkout transition", "reference", c.Reference.String(),
			"from", c.Status, "to", p.Status)
		return nil
	}

	c.Status = p.Status
	c.Signature = p.Signature
	c.Reason = p.Reason

	if err := s.store.UpdateCheckout(ctx, c); err != nil {
		return err
	}

	s.log.Info("Checkout status changed", "reference", c.Reference.String(), "status", c.Status)

	if c.Status.IsTerminal() {
		s.finalize(ctx, c)
	}
	return nil
}

func (s *Service) finalize(ctx context.Context, c *types.Checkout) {
	if c.Redeems() {
		s.releaseLock(ctx, c)
	}

	if s.journal == nil || c.Status == types.StatusExpired {
		return
	}
	if err := s.journal.PersistReceipt(ctx, types.NewReceipt(c)); err != nil {
		s.log.Error("couldn't persist receipt", "reference", c.Reference.String(), "error", err)
	}
}

func (s *Service) releaseLock(ctx context.Context, c *types.Checkout) {
	if err := s.store.ReleaseLoyaltyLock(ctx, c.Buyer, c.Reference); err != nil {
		s.log.Error("couldn't release loyalty lock", "buyer", c.Buyer.String(), "error", err)
	}
}

// watch verifies c in the background until it is terminal or expires.
const finalCheckTimeout = 10 * time.Second

func (s *Service) watch(c *types.Checkout) {
	if !s.config.WatchInBackground {
		return
	}

	s.mu.Lock()
	ctx := s.watchCtx
	if ctx != nil {
		s.watchers.Add(1)
	}
	s.mu.Unlock()

	if ctx == nil {
		return
	}

	go func() {
		defer s.watchers.Done()

		ctx, cancel := context.WithDeadline(ctx, c.ExpiresAt)
		defer cancel()

		p, err := s.verifier.Watch(ctx, expectation(c), func(p payment.Progress) {
			if err := s.apply(ctx, c, p); err != nil {
				s.log.Error("couldn't record checkout status", "reference", c.Reference.String(), "error", err)
			}
		})
		if err != nil && p.Status == types.StatusPending && stderrors.Is(err, context.DeadlineExceeded) {
			// One last look before expiring, as a poll would.
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalCheckTimeout)
			defer cancel()
			if err := s.advance(final, c); err != nil {
				s.log.Error("couldn't settle checkout at deadline", "reference", c.Reference.String(), "error", err)
			}
		}
	}()
}
