package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/queue"
	"github.com/openbuilders/loyalty-checkout/internal/types"
)

type Config struct {
	BatchSize    int64
	PollInterval time.Duration
	DBTimeout    time.Duration
}

const (
	PatternPaymentStatus = "payment-status"
)

type PaymentStatusData struct {
	EventID      string               `json:"event_id"`
	Reference    string               `json:"reference"`
	Buyer        string               `json:"buyer"`
	Signature    string               `json:"signature,omitempty"`
	Status       types.CheckoutStatus `json:"status"`
	Amount       string               `json:"amount"`
	Coupons      string               `json:"coupons"`
	CouponAmount uint64               `json:"coupon_amount"`
	Reason       string               `json:"reason,omitempty"`
}

type PaymentStatusNotification struct {
	Pattern string            `json:"pattern"`
	Data    PaymentStatusData `json:"data"`
}

type Repository interface {
	GetUnannouncedReceipts(context.Context, int64) ([]types.Receipt, error)
	MarkReceiptsAnnounced(context.Context, []string) error
}

type Publisher interface {
	Publish(queue.QueueName, []byte) error
}

type Notifier struct {
	config *Config
	queue  Publisher
	repo   Repository
	log    *slog.Logger
}

func New(config *Config, publisher Publisher, repo Repository) *Notifier {
	return &Notifier{
		config: config,
		queue:  publisher,
		repo:   repo,
		log:    slog.With("component", "notifier"),
	}
}

func (n *Notifier) Start(ctx context.Context) error {
	n.log.Info("Starting notifier...")

	pollInterval := time.Duration(0)

	for {
		select {
		case <-ctx.Done():
			n.log.Info("Stopping notifier.")
			return nil

		case <-time.After(pollInterval):
			pollInterval = n.config.PollInterval
			n.poll(ctx)
		}
	}
}

// poll publishes one batch of receipts. Receipts are only marked as announced
// up to the first publish failure, so the rest are retried on the next poll.
func (n *Notifier) poll(ctx context.Context) {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancel()

	receipts, err := n.repo.GetUnannouncedReceipts(ctxWithTimeout, n.config.BatchSize)
	if err != nil {
		n.log.Error("couldn't get receipts", "error", err)
		return
	}

	announced := make([]string, 0, len(receipts))

	for _, r := range receipts {
		payload := PaymentStatusNotification{
			Pattern: PatternPaymentStatus,
			Data: PaymentStatusData{
				EventID:      r.ID.String(),
				Reference:    r.Reference,
				Buyer:        r.Buyer,
				Signature:    r.Signature,
				Status:       r.Status,
				Amount:       r.Amount.String(),
				Coupons:      r.Coupons,
				CouponAmount: r.CouponAmount,
				Reason:       r.Reason,
			},
		}

		jsonData, err := json.Marshal(payload)
		if err != nil {
			n.log.Error("error marshaling JSON", "reference", r.Reference, "error", err)
			break
		}

		n.log.Debug("Sending notification", "payload", string(jsonData))

		if err := n.queue.Publish(queue.QueueMainService, jsonData); err != nil {
			n.log.Error("couldn't enqueue message", "reference", r.Reference, "error", err)
			break
		}

		announced = append(announced, r.Reference)
	}

	if len(announced) == 0 {
		return
	}

	markCtx, cancelMark := context.WithTimeout(ctx, n.config.DBTimeout)
	defer cancelMark()

	if err := n.repo.MarkReceiptsAnnounced(markCtx, announced); err != nil {
		n.log.Error("couldn't persist notification results",
			"references", announced, "error", err)
		return
	}

	n.log.Debug("Announced a batch of receipts", "references", announced)
}
