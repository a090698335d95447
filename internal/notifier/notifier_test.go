package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/openbuilders/loyalty-checkout/internal/queue"
	"github.com/openbuilders/loyalty-checkout/internal/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu        sync.Mutex
	receipts  []types.Receipt
	announced map[string]bool
}

func (m *memRepo) GetUnannouncedReceipts(_ context.Context, limit int64) ([]types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.Receipt
	for _, r := range m.receipts {
		if !m.announced[r.Reference] && int64(len(out)) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memRepo) MarkReceiptsAnnounced(_ context.Context, refs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ref := range refs {
		m.announced[ref] = true
	}
	return nil
}

type memPublisher struct {
	mu       sync.Mutex
	messages [][]byte
	failFrom int
}

func (p *memPublisher) Publish(name queue.QueueName, msg []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if name != queue.QueueMainService {
		return assert.AnError
	}
	if p.failFrom > 0 && len(p.messages) >= p.failFrom {
		return assert.AnError
	}
	p.messages = append(p.messages, msg)
	return nil
}

func newRepo(refs ...string) *memRepo {
	repo := &memRepo{announced: map[string]bool{}}
	for _, ref := range refs {
		repo.receipts = append(repo.receipts, types.Receipt{
			ID:        uuid.New(),
			Reference: ref,
			Status:    types.StatusValidated,
			Amount:    decimal.RequireFromString("10"),
			Coupons:   "issue",
		})
	}
	return repo
}

func TestPollPublishesAndMarks(t *testing.T) {
	repo := newRepo("r1", "r2")
	pub := &memPublisher{}
	n := New(&Config{BatchSize: 10, DBTimeout: time.Second}, pub, repo)

	n.poll(context.Background())

	require.Len(t, pub.messages, 2)
	var msg PaymentStatusNotification
	require.NoError(t, json.Unmarshal(pub.messages[0], &msg))
	assert.Equal(t, PatternPaymentStatus, msg.Pattern)
	assert.Equal(t, "r1", msg.Data.Reference)
	assert.Equal(t, types.StatusValidated, msg.Data.Status)
	assert.Equal(t, "10", msg.Data.Amount)

	assert.True(t, repo.announced["r1"])
	assert.True(t, repo.announced["r2"])

	n.poll(context.Background())
	assert.Len(t, pub.messages, 2, "announced receipts are not sent again")
}

func TestPollStopsAtPublishFailure(t *testing.T) {
	repo := newRepo("r1", "r2", "r3")
	pub := &memPublisher{failFrom: 1}
	n := New(&Config{BatchSize: 10, DBTimeout: time.Second}, pub, repo)

	n.poll(context.Background())

	assert.True(t, repo.announced["r1"])
	assert.False(t, repo.announced["r2"])
	assert.False(t, repo.announced["r3"])
}

func TestStartStops(t *testing.T) {
	repo := newRepo("r1")
	pub := &memPublisher{}
	n := New(&Config{BatchSize: 10, DBTimeout: time.Second, PollInterval: 5 * time.Millisecond}, pub, repo)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, n.Start(ctx))
	assert.Len(t, pub.messages, 1)
}
