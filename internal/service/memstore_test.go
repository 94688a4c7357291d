package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gruasrd/walletops/internal/domain"
)

// memStore is an in-memory domain.Storage for exercising the ledger logic
// without Postgres. WithTx runs the closure directly; rollback behavior is
// covered by the real store.
type memStore struct {
	mu          sync.Mutex
	wallets     map[string]*domain.Wallet
	debts       map[string]*domain.Debt
	txns        []domain.Transaction
	servicios   map[string]*domain.Servicio
	conductores map[string]*domain.Conductor

	sweepRunning bool
	sweepHistory []string
}

func newMemStore() *memStore {
	return &memStore{
		wallets:     make(map[string]*domain.Wallet),
		debts:       make(map[string]*domain.Debt),
		servicios:   make(map[string]*domain.Servicio),
		conductores: make(map[string]*domain.Conductor),
	}
}

func (m *memStore) WithTx(ctx context.Context, fn func(domain.Storage) error) error {
	return fn(m)
}

func (m *memStore) WalletByConductor(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.ConductorID == conductorID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, domain.ErrWalletNotFound
}

func (m *memStore) WalletByID(ctx context.Context, walletID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *memStore) WalletByIDForUpdate(ctx context.Context, walletID string) (*domain.Wallet, error) {
	return m.WalletByID(ctx, walletID)
}

func (m *memStore) CreateWallet(ctx context.Context, conductorID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	w := &domain.Wallet{
		ID:          uuid.New().String(),
		ConductorID: conductorID,
		Balance:     decimal.Zero,
		TotalDebt:   decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.wallets[w.ID] = w
	cp := *w
	return &cp, nil
}

func (m *memStore) UpdateWallet(ctx context.Context, w *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[w.ID]; !ok {
		return domain.ErrWalletNotFound
	}
	cp := *w
	cp.UpdatedAt = time.Now()
	m.wallets[w.ID] = &cp
	return nil
}

func (m *memStore) CreateDebt(ctx context.Context, d *domain.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	cp := *d
	m.debts[d.ID] = &cp
	return nil
}

func (m *memStore) UpdateDebt(ctx context.Context, d *domain.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.debts[d.ID]; !ok {
		return domain.ErrDebtNotFound
	}
	cp := *d
	m.debts[d.ID] = &cp
	return nil
}

func (m *memStore) debtsWhere(pred func(*domain.Debt) bool) []domain.Debt {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Debt
	for _, d := range m.debts {
		if pred(d) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

func (m *memStore) OpenDebts(ctx context.Context, walletID string) ([]domain.Debt, error) {
	return m.debtsWhere(func(d *domain.Debt) bool {
		return d.WalletID == walletID && d.Status != domain.DebtPaid && d.RemainingAmount.GreaterThan(decimal.Zero)
	}), nil
}

func (m *memStore) PendingDebts(ctx context.Context, walletID string) ([]domain.Debt, error) {
	return m.debtsWhere(func(d *domain.Debt) bool {
		return d.WalletID == walletID && d.Status != domain.DebtPaid
	}), nil
}

func (m *memStore) OverdueCandidates(ctx context.Context, asOf time.Time) ([]domain.Debt, error) {
	return m.debtsWhere(func(d *domain.Debt) bool {
		return d.DueDate.Before(asOf) && d.Status != domain.DebtPaid
	}), nil
}

func (m *memStore) DebtsNearDue(ctx context.Context, asOf time.Time, withinDays int) ([]domain.Debt, error) {
	limit := asOf.AddDate(0, 0, withinDays)
	return m.debtsWhere(func(d *domain.Debt) bool {
		return (d.Status == domain.DebtPending || d.Status == domain.DebtPartial) &&
			d.DueDate.After(asOf) && !d.DueDate.After(limit)
	}), nil
}

func (m *memStore) CreateTransaction(ctx context.Context, t *domain.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	m.txns = append(m.txns, *t)
	return nil
}

func (m *memStore) TransactionByPaymentIntent(ctx context.Context, paymentIntentID string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.txns {
		if m.txns[i].PaymentIntentID != nil && *m.txns[i].PaymentIntentID == paymentIntentID {
			cp := m.txns[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) TransactionsByWallet(ctx context.Context, walletID string, limit int) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for i := len(m.txns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.txns[i].WalletID == walletID {
			out = append(out, m.txns[i])
		}
	}
	return out, nil
}

func (m *memStore) TransactionsInPeriod(ctx context.Context, walletID string, from, to time.Time) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txns {
		if t.WalletID == walletID && !t.CreatedAt.Before(from) && !t.CreatedAt.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStore) ServicioByIDForUpdate(ctx context.Context, servicioID string) (*domain.Servicio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.servicios[servicioID]
	if !ok {
		return nil, domain.ErrServicioNotFound
	}
	cp := *sv
	return &cp, nil
}

func (m *memStore) MarkCommissionProcessed(ctx context.Context, servicioID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sv, ok := m.servicios[servicioID]
	if !ok {
		return domain.ErrServicioNotFound
	}
	sv.CommissionProcessed = true
	return nil
}

func (m *memStore) CompletedServices(ctx context.Context, conductorID string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, sv := range m.servicios {
		if sv.ConductorID != nil && *sv.ConductorID == conductorID && sv.CommissionProcessed {
			count++
		}
	}
	return count, nil
}

func (m *memStore) ConductorByID(ctx context.Context, conductorID string) (*domain.Conductor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conductores[conductorID]
	if !ok {
		return nil, domain.ErrConductorNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) BeginSweep(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepRunning {
		return "", domain.ErrSweepRunning
	}
	m.sweepRunning = true
	runID := uuid.New().String()
	m.sweepHistory = append(m.sweepHistory, runID)
	return runID, nil
}

func (m *memStore) FinishSweep(ctx context.Context, runID string, sweptDebts int, runErr error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepRunning = false
	return nil
}

// test fixture helpers

func (m *memStore) addConductor(id, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conductores[id] = &domain.Conductor{ID: id, UserID: userID}
}

func (m *memStore) addServicio(id, conductorID string, costo decimal.Decimal, metodo domain.PaymentMethod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servicios[id] = &domain.Servicio{
		ID:          id,
		ConductorID: &conductorID,
		CostoTotal:  costo,
		MetodoPago:  metodo,
	}
}

func (m *memStore) addWallet(w domain.Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := w
	m.wallets[w.ID] = &cp
}

func (m *memStore) addDebt(d domain.Debt) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.debts[d.ID] = &cp
}

func (m *memStore) wallet(id string) domain.Wallet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.wallets[id]
}

func (m *memStore) debt(id string) domain.Debt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.debts[id]
}

func (m *memStore) transactionsOfType(tt domain.TransactionType) []domain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for _, t := range m.txns {
		if t.Type == tt {
			out = append(out, t)
		}
	}
	return out
}

// openDebtTotal is the invariant check: totalDebt must equal the sum of
// remaining amounts over non-paid debts.
func (m *memStore) openDebtTotal(walletID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := decimal.Zero
	for _, d := range m.debts {
		if d.WalletID == walletID && d.Status != domain.DebtPaid {
			total = total.Add(d.RemainingAmount)
		}
	}
	return total
}

// recorderNotifier captures notifications for assertions.
type recorderNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

type sentNotification struct {
	UserID string
	Title  string
	Body   string
}

func (r *recorderNotifier) Send(ctx context.Context, userID, title, body string, metadata map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{UserID: userID, Title: title, Body: body})
}

func (r *recorderNotifier) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.Title)
	}
	return out
}
