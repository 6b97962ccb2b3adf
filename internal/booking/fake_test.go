package booking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nekogravitycat/campsite-booking-backend/internal/notification"
	"github.com/nekogravitycat/campsite-booking-backend/internal/payment"
	"github.com/nekogravitycat/campsite-booking-backend/internal/spot"
)

// memRepo is an in-memory Repository with the same atomicity as the
// Postgres one: each write runs under a single lock.
type memRepo struct {
	mu       sync.Mutex
	bookings map[string]Booking
	txns     map[string]Transaction // by booking id
	refs     map[string]string      // payment ref -> booking id
	now      func() time.Time

	// updateErr forces UpdateStatus to fail for a booking id.
	updateErr map[string]error
}

func newMemRepo() *memRepo {
	return &memRepo{
		bookings:  map[string]Booking{},
		txns:      map[string]Transaction{},
		refs:      map[string]string{},
		now:       time.Now,
		updateErr: map[string]error{},
	}
}

func (r *memRepo) CreateWithTransaction(_ context.Context, b *Booking, txn *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if txn != nil && txn.PaymentRef != "" {
		if _, ok := r.refs[txn.PaymentRef]; ok {
			return ErrAlreadyProcessed
		}
	}
	if b.Status.IsBlocking() && r.overlapLocked(b.SpotID, b.StartDate, b.EndDate, "") {
		return ErrConflict
	}

	b.ID = uuid.NewString()
	b.CreatedAt = r.now()
	b.UpdatedAt = b.CreatedAt
	r.bookings[b.ID] = *b

	if txn != nil {
		txn.ID = uuid.NewString()
		txn.BookingID = b.ID
		txn.CreatedAt = b.CreatedAt
		txn.UpdatedAt = b.CreatedAt
		r.txns[b.ID] = *txn
		if txn.PaymentRef != "" {
			r.refs[txn.PaymentRef] = b.ID
		}
	}
	return nil
}

func (r *memRepo) ConfirmWithTransaction(_ context.Context, id string, txn *Transaction) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if txn.PaymentRef != "" {
		if _, ok := r.refs[txn.PaymentRef]; ok {
			return nil, ErrAlreadyProcessed
		}
	}
	if r.overlapLocked(b.SpotID, b.StartDate, b.EndDate, id) {
		return nil, ErrConflict
	}
	if b.Status != StatusPending {
		return nil, ErrStatusChanged
	}

	b.Status = StatusConfirmed
	b.UpdatedAt = r.now()
	r.bookings[id] = b

	txn.ID = uuid.NewString()
	txn.BookingID = id
	txn.CreatedAt = b.UpdatedAt
	txn.UpdatedAt = b.UpdatedAt
	r.txns[id] = *txn
	if txn.PaymentRef != "" {
		r.refs[txn.PaymentRef] = id
	}
	return &b, nil
}

func (r *memRepo) overlapLocked(spotID string, start, end time.Time, excludeID string) bool {
	for id, b := range r.bookings {
		if id == excludeID || b.SpotID != spotID || !b.Status.IsBlocking() {
			continue
		}
		if Overlaps(start, end, b.StartDate, b.EndDate) {
			return true
		}
	}
	return false
}

func (r *memRepo) GetByID(_ context.Context, id string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (r *memRepo) GetByPaymentRef(_ context.Context, ref string) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.refs[ref]
	if !ok {
		return nil, ErrNotFound
	}
	b := r.bookings[id]
	return &b, nil
}

func (r *memRepo) GetTransaction(_ context.Context, bookingID string) (*Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txns[bookingID]
	if !ok {
		return nil, ErrTxnNotFound
	}
	return &t, nil
}

func (r *memRepo) List(_ context.Context, f Filter) ([]*Booking, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Booking
	for _, b := range r.bookings {
		switch {
		case f.Status != "" && b.Status != f.Status,
			f.RenterID != "" && b.RenterID != f.RenterID,
			f.SpotID != "" && b.SpotID != f.SpotID,
			f.EndBefore != nil && !b.EndDate.Before(*f.EndBefore),
			f.CreatedBefore != nil && !b.CreatedAt.Before(*f.CreatedBefore),
			f.From != nil && !b.EndDate.After(*f.From),
			f.To != nil && !b.StartDate.Before(*f.To):
			continue
		}
		b := b
		out = append(out, &b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].ID < out[j].ID
	})

	total := len(out)
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	lo := (f.Page-1)*f.PageSize + f.Offset
	if lo > total {
		lo = total
	}
	hi := lo + f.PageSize
	if hi > total {
		hi = total
	}
	return out[lo:hi], total, nil
}

func (r *memRepo) ListOverlapping(_ context.Context, spotID string, start, end time.Time, statuses []Status) ([]*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Booking
	for _, b := range r.bookings {
		if b.SpotID != spotID || !Overlaps(start, end, b.StartDate, b.EndDate) || !containsStatus(statuses, b.Status) {
			continue
		}
		b := b
		out = append(out, &b)
	}
	return out, nil
}

func (r *memRepo) UpdateStatus(_ context.Context, id string, from, to Status) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.updateErr[id]; err != nil {
		return nil, err
	}
	b, ok := r.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	if b.Status != from {
		return nil, ErrStatusChanged
	}
	if to.IsBlocking() && !from.IsBlocking() && r.overlapLocked(b.SpotID, b.StartDate, b.EndDate, id) {
		return nil, ErrConflict
	}

	b.Status = to
	b.UpdatedAt = r.now()
	r.bookings[id] = b
	if t, ok := r.txns[id]; ok && t.Status != TransactionVoid {
		t.Status = TransactionStatusFor(to)
		r.txns[id] = t
	}
	return &b, nil
}

// insert stores a booking as-is, bypassing the overlap check, for seeding.
func (r *memRepo) insert(b Booking) *Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = r.now()
	}
	r.bookings[b.ID] = b
	return &b
}

func (r *memRepo) count() (bookings, txns int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bookings), len(r.txns)
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type memSpots map[string]*spot.Spot

func (m memSpots) GetByID(_ context.Context, id string) (*spot.Spot, error) {
	sp, ok := m[id]
	if !ok {
		return nil, spot.ErrNotFound
	}
	return sp, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notification.Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, e notification.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	return n.err
}

func (n *recordingNotifier) ofType(t notification.EventType) []notification.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notification.Event
	for _, e := range n.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

const validSignature = "t=1,v1=valid"

// fakeGateway keeps sessions in memory. Webhook payloads are session ids.
type fakeGateway struct {
	mu          sync.Mutex
	sessions    map[string]*payment.Session
	requests    []payment.CheckoutRequest
	retrieveErr error
	eventType   payment.EventType
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: map[string]*payment.Session{}, eventType: payment.EventCheckoutCompleted}
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	id := fmt.Sprintf("cs_test_%d", len(g.requests))
	g.sessions[id] = &payment.Session{ID: id, AmountTotal: req.Amount, Currency: req.Currency, Metadata: req.Metadata}
	return &payment.CheckoutSession{ID: id, RedirectURL: "https://pay.test/" + id}, nil
}

// pay marks a session as paid, as the customer completing checkout would.
func (g *fakeGateway) pay(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id].Paid = true
}

// addSession registers a paid session with the given intent, skipping checkout.
func (g *fakeGateway) addSession(id string, in *Intent) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id] = &payment.Session{ID: id, Paid: true, AmountTotal: in.Total, Currency: "usd", Metadata: in.Metadata()}
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (*payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	s, ok := g.sessions[id]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*payment.WebhookEvent, error) {
	if signature != validSignature {
		return nil, payment.ErrInvalidSignature.WithCause(errors.New("signature mismatch"))
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	ev := &payment.WebhookEvent{ID: "evt_" + string(payload), Type: g.eventType}
	if s, ok := g.sessions[string(payload)]; ok {
		cp := *s
		ev.Session = &cp
	}
	return ev, nil
}

func date(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func fixedClock(s string) func() time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return func() time.Time { return t }
}
