package service

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/tutor-core-api/internal/models"
	"github.com/noah-isme/tutor-core-api/pkg/jobs"
	"github.com/noah-isme/tutor-core-api/pkg/payment"
)

// memState is everything a transaction can roll back.
type memState struct {
	windows       map[string]models.RecurringWindow
	reservations  map[string]models.Reservation
	subscriptions map[string]models.Subscription
	sessions      map[string]models.LiveSession
	wallets       map[string]models.Wallet
	txns          []models.WalletTransaction
	revenues      map[string]models.PlatformRevenue
}

func (s memState) clone() memState {
	out := memState{
		windows:       make(map[string]models.RecurringWindow, len(s.windows)),
		reservations:  make(map[string]models.Reservation, len(s.reservations)),
		subscriptions: make(map[string]models.Subscription, len(s.subscriptions)),
		sessions:      make(map[string]models.LiveSession, len(s.sessions)),
		wallets:       make(map[string]models.Wallet, len(s.wallets)),
		txns:          append([]models.WalletTransaction(nil), s.txns...),
		revenues:      make(map[string]models.PlatformRevenue, len(s.revenues)),
	}
	for k, v := range s.windows {
		out.windows[k] = v
	}
	for k, v := range s.reservations {
		out.reservations[k] = v
	}
	for k, v := range s.subscriptions {
		out.subscriptions[k] = v
	}
	for k, v := range s.sessions {
		out.sessions[k] = v
	}
	for k, v := range s.wallets {
		out.wallets[k] = v
	}
	for k, v := range s.revenues {
		out.revenues[k] = v
	}
	return out
}

// memDB is an in-memory stand-in for the Postgres schema. WithinTx serialises
// transactions and restores the pre-transaction state when fn fails.
type memDB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state memState

	teachers map[string]models.Teacher
	packages map[string]models.Package

	bulkCreateErr error
	commits       int
	rollbacks     int
	locked        []string
}

func newMemDB() *memDB {
	return &memDB{
		state:    memState{}.clone(),
		teachers: map[string]models.Teacher{},
		packages: map[string]models.Package{},
	}
}

func (db *memDB) WithinTx(ctx context.Context, opts *sql.TxOptions, fn func(exec sqlx.ExtContext) error) error {
	db.txMu.Lock()
	defer db.txMu.Unlock()

	db.mu.Lock()
	snapshot := db.state.clone()
	db.mu.Unlock()

	if err := fn(nil); err != nil {
		db.mu.Lock()
		db.state = snapshot
		db.rollbacks++
		db.mu.Unlock()
		return err
	}
	db.mu.Lock()
	db.commits++
	db.mu.Unlock()
	return nil
}

func (db *memDB) LockTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.locked = append(db.locked, teacherID)
	return nil
}

func (db *memDB) addTeacher(id string, rate string) {
	db.teachers[id] = models.Teacher{ID: id, HourlyRate: decimal.RequireFromString(rate), IsActive: true}
}

func (db *memDB) addPackage(id string, price string) {
	db.packages[id] = models.Package{ID: id, Name: id, Price: decimal.RequireFromString(price), Currency: "USD", IsActive: true}
}

func (db *memDB) addWindow(teacherID string, day models.Weekday, start, end string) models.RecurringWindow {
	from, _ := models.ParseClock(start)
	to, _ := models.ParseClock(end)
	window := models.RecurringWindow{ID: uuid.NewString(), TeacherID: teacherID, DayOfWeek: day, StartTime: from, EndTime: to, IsActive: true}
	db.mu.Lock()
	db.state.windows[window.ID] = window
	db.mu.Unlock()
	return window
}

func (db *memDB) putReservation(r models.Reservation) models.Reservation {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	db.mu.Lock()
	db.state.reservations[r.ID] = r
	db.mu.Unlock()
	return r
}

func (db *memDB) reservationCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.state.reservations)
}

func (db *memDB) reservation(id string) models.Reservation {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.state.reservations[id]
}

func (db *memDB) subscriptionCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.state.subscriptions)
}

type memCatalog struct{ db *memDB }

func (c memCatalog) FindTeacher(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Teacher, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	teacher, ok := c.db.teachers[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &teacher, nil
}

func (c memCatalog) FindPackage(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Package, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()
	pkg, ok := c.db.packages[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &pkg, nil
}

type memWindows struct{ db *memDB }

func (w memWindows) ListByTeacher(ctx context.Context, exec sqlx.ExtContext, filter models.RecurringWindowFilter) ([]models.RecurringWindow, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	var out []models.RecurringWindow
	for _, window := range w.db.state.windows {
		if window.TeacherID != filter.TeacherID {
			continue
		}
		if filter.DayOfWeek != nil && window.DayOfWeek != *filter.DayOfWeek {
			continue
		}
		if filter.ActiveOnly && !window.IsActive {
			continue
		}
		out = append(out, window)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DayOfWeek != out[j].DayOfWeek {
			return out[i].DayOfWeek < out[j].DayOfWeek
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out, nil
}

func (w memWindows) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.RecurringWindow, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	window, ok := w.db.state.windows[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &window, nil
}

func (w memWindows) Create(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error {
	if window.ID == "" {
		window.ID = uuid.NewString()
	}
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	w.db.state.windows[window.ID] = *window
	return nil
}

func (w memWindows) Update(ctx context.Context, exec sqlx.ExtContext, window *models.RecurringWindow) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if _, ok := w.db.state.windows[window.ID]; !ok {
		return sql.ErrNoRows
	}
	w.db.state.windows[window.ID] = *window
	return nil
}

type memReservations struct{ db *memDB }

func (r memReservations) ListActiveInRange(ctx context.Context, exec sqlx.ExtContext, teacherID string, from, to models.Date) ([]models.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.db.state.reservations {
		if res.TeacherID != teacherID || res.Status.IsTerminal() {
			continue
		}
		if res.Date.Time.Before(from.Time) || res.Date.Time.After(to.Time) {
			continue
		}
		out = append(out, res)
	}
	return out, nil
}

func (r memReservations) Create(ctx context.Context, exec sqlx.ExtContext, reservation *models.Reservation) error {
	if reservation.ID == "" {
		reservation.ID = uuid.NewString()
	}
	reservation.CreatedAt = time.Now().UTC()
	reservation.UpdatedAt = reservation.CreatedAt
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	r.db.state.reservations[reservation.ID] = *reservation
	return nil
}

func (r memReservations) BulkCreate(ctx context.Context, exec sqlx.ExtContext, reservations []models.Reservation) error {
	for i := range reservations {
		if r.db.bulkCreateErr != nil && i == len(reservations)-1 {
			return r.db.bulkCreateErr
		}
		if err := r.Create(ctx, exec, &reservations[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r memReservations) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, ok := r.db.state.reservations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &res, nil
}

func (r memReservations) ListBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string) ([]models.Reservation, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.db.state.reservations {
		if res.SubscriptionID != nil && *res.SubscriptionID == subscriptionID {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt().Before(out[j].StartsAt()) })
	return out, nil
}

func (r memReservations) List(ctx context.Context, filter models.ReservationFilter) ([]models.Reservation, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Reservation
	for _, res := range r.db.state.reservations {
		if filter.TeacherID != "" && res.TeacherID != filter.TeacherID {
			continue
		}
		if filter.StudentID != "" && res.StudentID != filter.StudentID {
			continue
		}
		out = append(out, res)
	}
	return out, len(out), nil
}

func (r memReservations) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, change models.ReservationStatusChange) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	res, ok := r.db.state.reservations[change.ID]
	if !ok || res.Status != change.From {
		return sql.ErrNoRows
	}
	r.db.state.reservations[change.ID] = applyChange(res, change)
	return nil
}

func (r memReservations) TransitionBySubscription(ctx context.Context, exec sqlx.ExtContext, subscriptionID string, change models.ReservationStatusChange) (int64, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var moved int64
	for id, res := range r.db.state.reservations {
		if res.SubscriptionID == nil || *res.SubscriptionID != subscriptionID || res.Status != change.From {
			continue
		}
		r.db.state.reservations[id] = applyChange(res, change)
		moved++
	}
	return moved, nil
}

func applyChange(res models.Reservation, change models.ReservationStatusChange) models.Reservation {
	at := change.At
	actor := change.ActorID
	res.Status = change.To
	res.UpdatedAt = at
	switch change.To {
	case models.ReservationStatusConfirmed:
		res.ConfirmedAt = &at
		if change.PaymentID != nil {
			res.PaymentID = change.PaymentID
		}
	case models.ReservationStatusCompleted:
		res.CompletedAt = &at
	case models.ReservationStatusCancelled:
		res.CancelledAt = &at
		res.CancelledBy = &actor
		res.CancelReason = change.CancelReason
	case models.ReservationStatusRejected:
		res.RejectedAt = &at
		res.RejectedBy = &actor
		res.CancelReason = change.CancelReason
	}
	return res
}

type memSubscriptions struct{ db *memDB }

func (s memSubscriptions) Create(ctx context.Context, exec sqlx.ExtContext, subscription *models.Subscription) error {
	if subscription.ID == "" {
		subscription.ID = uuid.NewString()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.state.subscriptions[subscription.ID] = *subscription
	return nil
}

func (s memSubscriptions) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub, ok := s.db.state.subscriptions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &sub, nil
}

func (s memSubscriptions) FindByPaymentReferenceForUpdate(ctx context.Context, exec sqlx.ExtContext, reference string) (*models.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	for _, sub := range s.db.state.subscriptions {
		if sub.PaymentReference != nil && *sub.PaymentReference == reference {
			return &sub, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s memSubscriptions) ListByStudent(ctx context.Context, studentID string) ([]models.Subscription, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	var out []models.Subscription
	for _, sub := range s.db.state.subscriptions {
		if sub.StudentID == studentID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (s memSubscriptions) UpdatePayment(ctx context.Context, exec sqlx.ExtContext, id, reference, url string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub, ok := s.db.state.subscriptions[id]
	if !ok {
		return sql.ErrNoRows
	}
	sub.PaymentReference = &reference
	sub.PaymentURL = &url
	s.db.state.subscriptions[id] = sub
	return nil
}

func (s memSubscriptions) TransitionStatus(ctx context.Context, exec sqlx.ExtContext, id string, from, to models.SubscriptionStatus) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	sub, ok := s.db.state.subscriptions[id]
	if !ok || sub.Status != from {
		return sql.ErrNoRows
	}
	sub.Status = to
	s.db.state.subscriptions[id] = sub
	return nil
}

type memSessions struct{ db *memDB }

func (s memSessions) FindByReservation(ctx context.Context, exec sqlx.ExtContext, reservationID string) (*models.LiveSession, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.state.sessions[reservationID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &session, nil
}

func (s memSessions) MarkStarted(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error) {
	return s.mark(reservationID, func(session *models.LiveSession) {
		if session.StartedAt == nil {
			session.StartedAt = &at
		}
	})
}

func (s memSessions) MarkEnded(ctx context.Context, exec sqlx.ExtContext, reservationID string, at time.Time) (*models.LiveSession, error) {
	return s.mark(reservationID, func(session *models.LiveSession) {
		if session.EndedAt == nil {
			session.EndedAt = &at
		}
	})
}

func (s memSessions) mark(reservationID string, apply func(*models.LiveSession)) (*models.LiveSession, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	session, ok := s.db.state.sessions[reservationID]
	if !ok {
		session = models.LiveSession{ID: uuid.NewString(), ReservationID: reservationID}
	}
	apply(&session)
	s.db.state.sessions[reservationID] = session
	return &session, nil
}

type memWallets struct{ db *memDB }

func (w memWallets) Ensure(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, wallet := range w.db.state.wallets {
		if wallet.TeacherID == teacherID {
			return &wallet, nil
		}
	}
	wallet := models.Wallet{ID: uuid.NewString(), TeacherID: teacherID, IsActive: true}
	w.db.state.wallets[wallet.ID] = wallet
	return &wallet, nil
}

func (w memWallets) FindByTeacher(ctx context.Context, exec sqlx.ExtContext, teacherID string) (*models.Wallet, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, wallet := range w.db.state.wallets {
		if wallet.TeacherID == teacherID {
			return &wallet, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (w memWallets) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Wallet, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	wallet, ok := w.db.state.wallets[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &wallet, nil
}

func (w memWallets) ListIDs(ctx context.Context) ([]string, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	ids := make([]string, 0, len(w.db.state.wallets))
	for id := range w.db.state.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (w memWallets) InsertTransaction(ctx context.Context, exec sqlx.ExtContext, txn *models.WalletTransaction) (bool, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	for _, existing := range w.db.state.txns {
		if existing.WalletID != txn.WalletID {
			continue
		}
		if txn.BookingID != nil && existing.BookingID != nil && *existing.BookingID == *txn.BookingID {
			return false, nil
		}
		if txn.PaymentID != nil && existing.PaymentID != nil && *existing.PaymentID == *txn.PaymentID {
			return false, nil
		}
	}
	if txn.ID == "" {
		txn.ID = uuid.NewString()
	}
	w.db.state.txns = append(w.db.state.txns, *txn)
	return true, nil
}

func (w memWallets) ApplyIncrement(ctx context.Context, exec sqlx.ExtContext, walletID string, inc models.WalletIncrement) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	wallet, ok := w.db.state.wallets[walletID]
	if !ok {
		return sql.ErrNoRows
	}
	wallet.Balance = wallet.Balance.Add(inc.Balance)
	wallet.TotalEarned = wallet.TotalEarned.Add(inc.TotalEarned)
	wallet.TotalHours = wallet.TotalHours.Add(inc.TotalHours)
	w.db.state.wallets[walletID] = wallet
	return nil
}

func (w memWallets) InsertPlatformRevenue(ctx context.Context, exec sqlx.ExtContext, revenue *models.PlatformRevenue) (bool, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	if _, exists := w.db.state.revenues[revenue.BookingID]; exists {
		return false, nil
	}
	w.db.state.revenues[revenue.BookingID] = *revenue
	return true, nil
}

func (w memWallets) SumLedger(ctx context.Context, exec sqlx.ExtContext, walletID string) (models.LedgerTotals, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	totals := models.LedgerTotals{Credits: decimal.Zero, Debits: decimal.Zero}
	for _, txn := range w.db.state.txns {
		if txn.WalletID != walletID {
			continue
		}
		switch {
		case txn.Type.IsCredit():
			totals.Credits = totals.Credits.Add(txn.Amount)
		case txn.Type.IsDebit():
			totals.Debits = totals.Debits.Add(txn.Amount)
		}
	}
	return totals, nil
}

func (w memWallets) OverwriteAggregates(ctx context.Context, exec sqlx.ExtContext, walletID string, balance, totalEarned decimal.Decimal) error {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	wallet, ok := w.db.state.wallets[walletID]
	if !ok {
		return sql.ErrNoRows
	}
	wallet.Balance = balance
	wallet.TotalEarned = totalEarned
	w.db.state.wallets[walletID] = wallet
	return nil
}

func (w memWallets) ListTransactions(ctx context.Context, filter models.WalletTransactionFilter) ([]models.WalletTransaction, int, error) {
	w.db.mu.Lock()
	defer w.db.mu.Unlock()
	var out []models.WalletTransaction
	for _, txn := range w.db.state.txns {
		if txn.WalletID == filter.WalletID {
			out = append(out, txn)
		}
	}
	return out, len(out), nil
}

func (w memWallets) wallet(teacherID string) models.Wallet {
	wallet, _ := w.FindByTeacher(context.Background(), nil, teacherID)
	if wallet == nil {
		return models.Wallet{}
	}
	return *wallet
}

type fakeGateway struct {
	mu    sync.Mutex
	err   error
	calls []payment.CheckoutRequest
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Checkout{ID: "chk_" + req.Reference, RedirectURL: "https://pay.example/" + req.Reference, Status: "CREATED"}, nil
}

type recordingInvalidator struct {
	mu       sync.Mutex
	teachers []string
}

func (r *recordingInvalidator) InvalidateTeacher(ctx context.Context, teacherID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teachers = append(r.teachers, teacherID)
}

type recordingDispatcher struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDispatcher) DispatchSettlement(ctx context.Context, reservationID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, reservationID)
	return nil
}

type recordingEnqueuer struct {
	jobs []jobs.Job
	err  error
}

func (e *recordingEnqueuer) Enqueue(ctx context.Context, job jobs.Job) error {
	if e.err != nil {
		return e.err
	}
	e.jobs = append(e.jobs, job)
	return nil
}

func mustDate(raw string) models.Date {
	date, err := models.ParseDate(raw)
	if err != nil {
		panic(err)
	}
	return date
}

func mustClock(raw string) models.Clock {
	clock, err := models.ParseClock(raw)
	if err != nil {
		panic(err)
	}
	return clock
}

var (
	studentActor = models.Actor{UserID: "student-1", Role: models.RoleStudent}
	teacherActor = models.Actor{UserID: "teacher-1", Role: models.RoleTeacher}
	adminActor   = models.Actor{UserID: "admin-1", Role: models.RoleAdmin}
)

func mustDecimal(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
