package billing

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rebill/pkg/cycle"
)

// memStore is an in-memory Store
type memStore struct {
	mu     sync.Mutex
	subs   map[int64]*Subscription
	nextID int64

	dueErr    error
	getErr    error
	recordErr error

	updatedAmounts map[int64]decimal.Decimal
	replacedCards  map[int64]int64
	records        []OutcomeRecord
}

func newMemStore(subs ...*Subscription) *memStore {
	s := &memStore{
		subs:           make(map[int64]*Subscription),
		updatedAmounts: make(map[int64]decimal.Decimal),
		replacedCards:  make(map[int64]int64),
	}
	for _, sub := range subs {
		s.put(sub)
	}
	return s
}

func (s *memStore) put(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		s.nextID++
		sub.ID = s.nextID
	}
	if sub.ID > s.nextID {
		s.nextID = sub.ID
	}
	if sub.Status == "" {
		sub.Status = StatusScheduled
	}
	s.subs[sub.ID] = sub
}

func (s *memStore) DueSubscriptionIDs(ctx context.Context, today time.Time) ([]int64, error) {
	if s.dueErr != nil {
		return nil, s.dueErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for id, sub := range s.subs {
		if sub.Status == StatusScheduled && !sub.NextPaymentDate.After(today) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memStore) GetSubscription(ctx context.Context, id int64) (*Subscription, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %d: %w", id, ErrNotFound)
	}
	cp := *sub
	cp.Attributes = sub.Attributes.Clone()
	return &cp, nil
}

func (s *memStore) History(ctx context.Context, lineage, beforeID int64) ([]Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Attempt
	for _, sub := range s.subs {
		if sub.OriginalOrderLineID != lineage || sub.ID >= beforeID || sub.Status == StatusScheduled {
			continue
		}
		out = append(out, Attempt{SubscriptionID: sub.ID, Status: sub.Status, Skipped: sub.Skipped, NextPaymentDate: sub.NextPaymentDate})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriptionID > out[j].SubscriptionID })
	return out, nil
}

func (s *memStore) UpdateAmount(ctx context.Context, id int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id].Amount = amount
	s.updatedAmounts[id] = amount
	return nil
}

func (s *memStore) ReplaceCard(ctx context.Context, id, cardID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[id].CardID = cardID
	s.replacedCards[id] = cardID
	return nil
}

func (s *memStore) RecordOutcome(ctx context.Context, rec OutcomeRecord) (int64, error) {
	if s.recordErr != nil {
		return 0, s.recordErr
	}
	s.mu.Lock()
	cur := s.subs[rec.SubscriptionID]
	if cur.Status != StatusScheduled {
		s.mu.Unlock()
		return 0, ErrAlreadyProcessed
	}
	cur.Status = rec.Status
	cur.Skipped = rec.Skipped
	cur.SkipNextPayment = false
	cur.TransactionID = rec.TransactionID
	cur.ErrorMessage = rec.ErrorMessage
	cur.ChargedAmount = rec.ChargedAmount
	processed := rec.ProcessedAt
	cur.ProcessedAt = &processed
	s.records = append(s.records, rec)
	s.mu.Unlock()

	if rec.Next == nil {
		return 0, nil
	}
	next := *rec.Next
	s.put(&next)
	return next.ID, nil
}

func (s *memStore) get(id int64) *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subs[id]
}

func (s *memStore) scheduled() []*Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Status == StatusScheduled {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// mockGateway is a PaymentGateway with a pluggable charge func
type mockGateway struct {
	chargeFunc func(req ChargeRequest) (ChargeResult, error)
	requests   []ChargeRequest
}

func (m *mockGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	m.requests = append(m.requests, req)
	if m.chargeFunc != nil {
		return m.chargeFunc(req)
	}
	return ChargeResult{Success: true, TransactionID: fmt.Sprintf("txn-%d", req.SubscriptionID)}, nil
}

func declineAll(msg string) func(ChargeRequest) (ChargeResult, error) {
	return func(ChargeRequest) (ChargeResult, error) {
		return ChargeResult{Success: false, ErrorMessage: msg}, nil
	}
}

// mockShop implements OrderService, PricingService and GroupPricingManager
type mockShop struct {
	totalsFunc      func(sub *Subscription) (Totals, error)
	createOrderFunc func(req OrderRequest) (int64, error)

	orders              []OrderRequest
	orderCards          []int64
	licenses            []License
	cancelled           []int64
	groupPricing        []int64
	cancellationChecked []int64
	nextOrderID         int64
}

func (m *mockShop) CreateOrder(ctx context.Context, req OrderRequest, cardID int64) (int64, error) {
	if m.createOrderFunc != nil {
		return m.createOrderFunc(req)
	}
	m.orders = append(m.orders, req)
	m.orderCards = append(m.orderCards, cardID)
	m.nextOrderID++
	return 1000 + m.nextOrderID, nil
}

func (m *mockShop) AddLicense(ctx context.Context, l License) error {
	m.licenses = append(m.licenses, l)
	return nil
}

func (m *mockShop) CancelSubscription(ctx context.Context, lineage int64) error {
	m.cancelled = append(m.cancelled, lineage)
	return nil
}

func (m *mockShop) RecomputeTotals(ctx context.Context, sub *Subscription) (Totals, error) {
	if m.totalsFunc != nil {
		return m.totalsFunc(sub)
	}
	return Totals{Subtotal: sub.Amount, Total: sub.Amount}, nil
}

func (m *mockShop) CreateGroupPricing(ctx context.Context, productID, customerID int64) error {
	m.groupPricing = append(m.groupPricing, productID)
	return nil
}

func (m *mockShop) ScheduleCancellationIfEligible(ctx context.Context, customerID, productID int64) error {
	m.cancellationChecked = append(m.cancellationChecked, productID)
	return nil
}

// mockCards is a CardDirectory over a fixed set of cards
type mockCards struct {
	cards       map[int64]*Card
	findErr     error
	invalidated []int64
}

func newMockCards(cards ...*Card) *mockCards {
	m := &mockCards{cards: make(map[int64]*Card)}
	for _, c := range cards {
		m.cards[c.ID] = c
	}
	return m
}

func (m *mockCards) GetCard(ctx context.Context, id int64) (*Card, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *mockCards) Invalidate(id int64) {
	m.invalidated = append(m.invalidated, id)
}

func (m *mockCards) FindReplacementCard(ctx context.Context, customerID int64, asOf time.Time) (*Card, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	ids := make([]int64, 0, len(m.cards))
	for id := range m.cards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		c := m.cards[id]
		if c.CustomerID != customerID {
			continue
		}
		if v, _ := Evaluate(c, asOf); v == CardOK {
			return c, nil
		}
	}
	return nil, ErrNotFound
}

// recordingNotifier keeps every notification
type recordingNotifier struct {
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(ctx context.Context, note Notification) error {
	n.sent = append(n.sent, note)
	return n.err
}

func (n *recordingNotifier) kinds() []NotificationKind {
	out := make([]NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

type fixture struct {
	store    *memStore
	gateway  *mockGateway
	shop     *mockShop
	cards    *mockCards
	notifier *recordingNotifier
	engine   *Engine
}

func newFixture(subs ...*Subscription) *fixture {
	f := &fixture{
		store:    newMemStore(subs...),
		gateway:  &mockGateway{},
		shop:     &mockShop{},
		cards:    newMockCards(&Card{ID: 1, CustomerID: 7, Brand: "visa", LastFour: "4242", Expiry: "1230"}),
		notifier: &recordingNotifier{},
	}
	f.engine = NewEngine(Dependencies{
		Store:    f.store,
		Gateway:  f.gateway,
		Orders:   f.shop,
		Pricing:  f.shop,
		Cards:    f.cards,
		Groups:   f.shop,
		Notifier: f.notifier,
		Logger:   quietLogger(),
		Now:      func() time.Time { return time.Date(2025, 3, 15, 9, 0, 0, 0, time.UTC) },
	})
	return f
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func date(s string) time.Time {
	d, err := cycle.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func monthly(id int64, next string) *Subscription {
	return &Subscription{
		ID:                  id,
		CustomerID:          7,
		ProductID:           42,
		ProductName:         "Pro Hosting",
		ProductModel:        "PRO-1",
		OriginalOrderLineID: 500,
		Amount:              decimal.RequireFromString("19.99"),
		Currency:            "USD",
		Period:              "Monthly",
		Frequency:           1,
		NextPaymentDate:     date(next),
		CardID:              1,
		Status:              StatusScheduled,
		Attributes: ScheduleAttributes{
			Period:    "Monthly",
			Frequency: 1,
			Domain:    "example.com",
		},
	}
}

func runContext(today string) RunContext {
	return RunContext{RunID: "test-run", Today: date(today), MaxFailuresAllowed: 3}
}
