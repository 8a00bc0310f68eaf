package production

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/shared"
)

type ledgerKey struct {
	vendorID   int64
	vendorType ledger.VendorType
	orderID    int64
	lot        string
}

type memoryState struct {
	orders    map[int64]orders.Order
	lots      []Lot
	stitching []StitchingEvent
	washing   []WashingEvent
	finishing []FinishingEvent
	balances  map[ledgerKey]ledger.Balance
}

func (s memoryState) clone() memoryState {
	c := memoryState{
		orders:    make(map[int64]orders.Order, len(s.orders)),
		lots:      append([]Lot(nil), s.lots...),
		stitching: append([]StitchingEvent(nil), s.stitching...),
		washing:   append([]WashingEvent(nil), s.washing...),
		finishing: append([]FinishingEvent(nil), s.finishing...),
		balances:  make(map[ledgerKey]ledger.Balance, len(s.balances)),
	}
	for k, v := range s.orders {
		v.StageHistory = append([]orders.StageChange(nil), v.StageHistory...)
		c.orders[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	return c
}

var errInjected = errors.New("injected failure")

// memoryRepo is an in-memory Repository. By default it is a single writer: WithTx holds
// the mutex for the whole unit of work and restores a snapshot when fn fails.
//
// In interleaved mode every call takes the mutex on its own, so concurrent units of work
// overlap the way separate connections do. Failed units are undone call by call. With
// rowLocks set, GetForUpdate holds a per-order lock until the unit ends.
type memoryRepo struct {
	mu    sync.Mutex
	state memoryState
	ids   int64

	interleaved bool
	rowLocks    bool
	// unguarded drops the stitched-counter check in AddStitched.
	unguarded bool
	// readPause widens the window between SumStitchedForOrder and the writes after it.
	readPause time.Duration
	// failOn names one write that returns errInjected: insertStitching, insertWashing,
	// insertFinishing, addStitched, appendStage or accrue.
	failOn string
	rows   map[int64]*sync.Mutex
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		state: memoryState{orders: map[int64]orders.Order{}, balances: map[ledgerKey]ledger.Balance{}},
		rows:  map[int64]*sync.Mutex{},
	}
}

func newInterleavedRepo(rowLocks, unguarded bool) *memoryRepo {
	m := newMemoryRepo()
	m.interleaved = true
	m.rowLocks = rowLocks
	m.unguarded = unguarded
	m.readPause = 2 * time.Millisecond
	return m
}

func (m *memoryRepo) nextID() int64 {
	m.ids++
	return m.ids
}

func (m *memoryRepo) addOrder(total int64) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	o := orders.Order{
		ID:            id,
		Code:          fmt.Sprintf("ORD-20240501-%04d", id),
		TotalQuantity: total,
		ThreadColors:  []orders.ThreadColor{{Color: "red", Quantity: total * 6 / 10}, {Color: "blue", Quantity: total - total*6/10}},
		Stage:         orders.StagePlaced,
		StageHistory:  []orders.StageChange{{Stage: orders.StagePlaced, ChangedAt: now}},
		CreatedAt:     now,
	}
	m.state.orders[id] = o
	return o
}

func (m *memoryRepo) order(id int64) orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.orders[id]
}

func (m *memoryRepo) balance(vendorID int64, vt ledger.VendorType, orderID int64, lot string) (ledger.Balance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.balances[ledgerKey{vendorID, vt, orderID, lot}]
	return b, ok
}

func (m *memoryRepo) snapshot() memoryState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memoryRepo) setFailOn(step string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = step
}

func (m *memoryRepo) rowLock(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		l = &sync.Mutex{}
		m.rows[id] = l
	}
	return l
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if m.interleaved {
		tx := &memoryTx{repo: m, interleaved: true, held: map[int64]*sync.Mutex{}}
		err := fn(ctx, tx)
		if err != nil {
			m.mu.Lock()
			for i := len(tx.undo) - 1; i >= 0; i-- {
				tx.undo[i]()
			}
			m.mu.Unlock()
		}
		for _, l := range tx.held {
			l.Unlock()
		}
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *memoryRepo) GetLot(_ context.Context, id int64) (Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.state.lots {
		if l.ID == id {
			return l, nil
		}
	}
	return Lot{}, shared.NotFoundf("lot %d not found", id)
}

func (m *memoryRepo) ListLots(_ context.Context, orderID *int64) ([]Lot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Lot
	for _, l := range m.state.lots {
		if orderID == nil || l.OrderID == *orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memoryRepo) LotNumbers(ctx context.Context, orderID *int64) ([]string, error) {
	lots, _ := m.ListLots(ctx, orderID)
	out := make([]string, 0, len(lots))
	for _, l := range lots {
		out = append(out, l.LotNumber)
	}
	return out, nil
}

func (m *memoryRepo) GetStitching(_ context.Context, id int64) (StitchingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.state.stitching {
		if ev.ID == id {
			return ev, nil
		}
	}
	return StitchingEvent{}, shared.NotFoundf("stitching record %d not found", id)
}

func (m *memoryRepo) ListStitching(_ context.Context, f EventFilter) ([]StitchingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StitchingEvent
	for _, ev := range m.state.stitching {
		if f.OrderID != nil && ev.OrderID != *f.OrderID {
			continue
		}
		if f.LotNumber != "" && ev.LotNumber != f.LotNumber {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memoryRepo) GetWashing(_ context.Context, id int64) (WashingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.state.washing {
		if ev.ID == id {
			return ev, nil
		}
	}
	return WashingEvent{}, shared.NotFoundf("washing record %d not found", id)
}

func (m *memoryRepo) ListWashing(_ context.Context, f EventFilter) ([]WashingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []WashingEvent
	for _, ev := range m.state.washing {
		if f.OrderID != nil && ev.OrderID != *f.OrderID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memoryRepo) GetFinishing(_ context.Context, id int64) (FinishingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ev := range m.state.finishing {
		if ev.ID == id {
			return ev, nil
		}
	}
	return FinishingEvent{}, shared.NotFoundf("finishing record %d not found", id)
}

func (m *memoryRepo) ListFinishing(_ context.Context, f EventFilter) ([]FinishingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []FinishingEvent
	for _, ev := range m.state.finishing {
		if f.OrderID != nil && ev.OrderID != *f.OrderID {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

type memoryTx struct {
	repo        *memoryRepo
	interleaved bool
	undo        []func()
	held        map[int64]*sync.Mutex
}

// lock takes the repo mutex for one call in interleaved mode. The serial WithTx already holds it.
func (t *memoryTx) lock() func() {
	if !t.interleaved {
		return func() {}
	}
	t.repo.mu.Lock()
	return t.repo.mu.Unlock
}

func (t *memoryTx) onRollback(fn func()) {
	if t.interleaved {
		t.undo = append(t.undo, fn)
	}
}

func (t *memoryTx) fail(step string) error {
	if t.repo.failOn == step {
		return errInjected
	}
	return nil
}

func (t *memoryTx) Orders() orders.TxStore { return memoryOrders{t} }

func (t *memoryTx) Ledger() ledger.TxStore { return memoryLedger{t} }

func (t *memoryTx) FindLotByInvoice(_ context.Context, invoice, orderID int64) (Lot, bool, error) {
	defer t.lock()()
	for _, l := range t.repo.state.lots {
		if l.InvoiceNumber == invoice && l.OrderID == orderID {
			return l, true, nil
		}
	}
	return Lot{}, false, nil
}

func (t *memoryTx) FindLotByNumber(_ context.Context, lotNumber string, orderID int64) (Lot, bool, error) {
	defer t.lock()()
	for _, l := range t.repo.state.lots {
		if l.LotNumber == lotNumber && l.OrderID == orderID {
			return l, true, nil
		}
	}
	return Lot{}, false, nil
}

func (t *memoryTx) InsertLot(_ context.Context, lot *Lot) error {
	defer t.lock()()
	for _, l := range t.repo.state.lots {
		if l.LotNumber == lot.LotNumber {
			return shared.DuplicateKey("lotNumber", lot.LotNumber)
		}
	}
	lot.ID = t.repo.nextID()
	t.repo.state.lots = append(t.repo.state.lots, *lot)
	id := lot.ID
	t.onRollback(func() { t.repo.state.lots = removeByID(t.repo.state.lots, id, func(l Lot) int64 { return l.ID }) })
	return nil
}

func (t *memoryTx) SumStitchedForOrder(_ context.Context, orderID int64) (int64, error) {
	total := func() int64 {
		defer t.lock()()
		var total int64
		for _, ev := range t.repo.state.stitching {
			if ev.OrderID == orderID {
				total += ev.Quantity
			}
		}
		return total
	}()
	if t.interleaved && t.repo.readPause > 0 {
		time.Sleep(t.repo.readPause)
	}
	return total, nil
}

func (t *memoryTx) SumStitchedForLot(_ context.Context, lotID int64) (int, int64, error) {
	defer t.lock()()
	var (
		count int
		total int64
	)
	for _, ev := range t.repo.state.stitching {
		if ev.LotID == lotID {
			count++
			total += ev.Quantity
		}
	}
	return count, total, nil
}

func (t *memoryTx) InsertStitching(_ context.Context, ev *StitchingEvent) error {
	defer t.lock()()
	if err := t.fail("insertStitching"); err != nil {
		return err
	}
	ev.ID = t.repo.nextID()
	t.repo.state.stitching = append(t.repo.state.stitching, *ev)
	id := ev.ID
	t.onRollback(func() {
		t.repo.state.stitching = removeByID(t.repo.state.stitching, id, func(e StitchingEvent) int64 { return e.ID })
	})
	return nil
}

func (t *memoryTx) InsertWashing(_ context.Context, ev *WashingEvent) error {
	defer t.lock()()
	if err := t.fail("insertWashing"); err != nil {
		return err
	}
	ev.ID = t.repo.nextID()
	t.repo.state.washing = append(t.repo.state.washing, *ev)
	id := ev.ID
	t.onRollback(func() {
		t.repo.state.washing = removeByID(t.repo.state.washing, id, func(e WashingEvent) int64 { return e.ID })
	})
	return nil
}

func (t *memoryTx) InsertFinishing(_ context.Context, ev *FinishingEvent) error {
	defer t.lock()()
	if err := t.fail("insertFinishing"); err != nil {
		return err
	}
	ev.ID = t.repo.nextID()
	t.repo.state.finishing = append(t.repo.state.finishing, *ev)
	id := ev.ID
	t.onRollback(func() {
		t.repo.state.finishing = removeByID(t.repo.state.finishing, id, func(e FinishingEvent) int64 { return e.ID })
	})
	return nil
}

func (t *memoryTx) SetStitchOutDate(_ context.Context, id int64, at time.Time) (StitchingEvent, error) {
	defer t.lock()()
	for i, ev := range t.repo.state.stitching {
		if ev.ID == id {
			prev := ev.StitchOutDate
			t.repo.state.stitching[i].StitchOutDate = &at
			t.onRollback(func() { setStitchOut(t.repo, id, prev) })
			return t.repo.state.stitching[i], nil
		}
	}
	return StitchingEvent{}, shared.NotFoundf("stitching record %d not found", id)
}

func (t *memoryTx) SetWashOutDate(_ context.Context, id int64, at time.Time) (WashingEvent, error) {
	defer t.lock()()
	for i, ev := range t.repo.state.washing {
		if ev.ID == id {
			prev := ev.WashOutDate
			t.repo.state.washing[i].WashOutDate = &at
			t.onRollback(func() { setWashOut(t.repo, id, prev) })
			return t.repo.state.washing[i], nil
		}
	}
	return WashingEvent{}, shared.NotFoundf("washing record %d not found", id)
}

func (t *memoryTx) SetFinishOutDate(_ context.Context, id int64, at time.Time) (FinishingEvent, error) {
	defer t.lock()()
	for i, ev := range t.repo.state.finishing {
		if ev.ID == id {
			prev := ev.FinishOutDate
			t.repo.state.finishing[i].FinishOutDate = &at
			t.onRollback(func() { setFinishOut(t.repo, id, prev) })
			return t.repo.state.finishing[i], nil
		}
	}
	return FinishingEvent{}, shared.NotFoundf("finishing record %d not found", id)
}

func removeByID[T any](items []T, id int64, idOf func(T) int64) []T {
	out := items[:0:0]
	for _, it := range items {
		if idOf(it) != id {
			out = append(out, it)
		}
	}
	return out
}

func setStitchOut(m *memoryRepo, id int64, at *time.Time) {
	for i := range m.state.stitching {
		if m.state.stitching[i].ID == id {
			m.state.stitching[i].StitchOutDate = at
		}
	}
}

func setWashOut(m *memoryRepo, id int64, at *time.Time) {
	for i := range m.state.washing {
		if m.state.washing[i].ID == id {
			m.state.washing[i].WashOutDate = at
		}
	}
}

func setFinishOut(m *memoryRepo, id int64, at *time.Time) {
	for i := range m.state.finishing {
		if m.state.finishing[i].ID == id {
			m.state.finishing[i].FinishOutDate = at
		}
	}
}

type memoryOrders struct {
	tx *memoryTx
}

func (o memoryOrders) Insert(_ context.Context, order *orders.Order) error {
	defer o.tx.lock()()
	repo := o.tx.repo
	order.ID = repo.nextID()
	repo.state.orders[order.ID] = *order
	id := order.ID
	o.tx.onRollback(func() { delete(repo.state.orders, id) })
	return nil
}

func (o memoryOrders) GetForUpdate(_ context.Context, id int64) (orders.Order, error) {
	if o.tx.interleaved && o.tx.repo.rowLocks {
		if _, ok := o.tx.held[id]; !ok {
			l := o.tx.repo.rowLock(id)
			l.Lock()
			o.tx.held[id] = l
		}
	}
	defer o.tx.lock()()
	order, ok := o.tx.repo.state.orders[id]
	if !ok {
		return orders.Order{}, shared.NotFoundf("order %d not found", id)
	}
	order.StageHistory = append([]orders.StageChange(nil), order.StageHistory...)
	return order, nil
}

func (o memoryOrders) UpdateDetails(_ context.Context, order orders.Order) error {
	defer o.tx.lock()()
	repo := o.tx.repo
	prev := repo.state.orders[order.ID]
	repo.state.orders[order.ID] = order
	o.tx.onRollback(func() { repo.state.orders[order.ID] = prev })
	return nil
}

func (o memoryOrders) AppendStage(_ context.Context, id int64, change orders.StageChange) error {
	defer o.tx.lock()()
	if err := o.tx.fail("appendStage"); err != nil {
		return err
	}
	repo := o.tx.repo
	order, ok := repo.state.orders[id]
	if !ok {
		return shared.NotFoundf("order %d not found", id)
	}
	prev := order.Stage
	order.Stage = change.Stage
	order.StageHistory = append(append([]orders.StageChange(nil), order.StageHistory...), change)
	repo.state.orders[id] = order
	o.tx.onRollback(func() {
		cur := repo.state.orders[id]
		cur.Stage = prev
		if n := len(cur.StageHistory); n > 0 {
			cur.StageHistory = cur.StageHistory[:n-1]
		}
		repo.state.orders[id] = cur
	})
	return nil
}

func (o memoryOrders) AddStitched(_ context.Context, id int64, qty int64) error {
	defer o.tx.lock()()
	if err := o.tx.fail("addStitched"); err != nil {
		return err
	}
	repo := o.tx.repo
	order, ok := repo.state.orders[id]
	if !ok {
		return shared.NotFoundf("order %d not found", id)
	}
	if !repo.unguarded && order.StitchedQuantity+qty > order.TotalQuantity {
		return shared.Validationf("stitched quantity would exceed total")
	}
	order.StitchedQuantity += qty
	repo.state.orders[id] = order
	o.tx.onRollback(func() {
		cur := repo.state.orders[id]
		cur.StitchedQuantity -= qty
		repo.state.orders[id] = cur
	})
	return nil
}

type memoryLedger struct {
	tx *memoryTx
}

func (l memoryLedger) Accrue(_ context.Context, a ledger.Accrual) (ledger.Balance, error) {
	defer l.tx.lock()()
	if err := l.tx.fail("accrue"); err != nil {
		return ledger.Balance{}, err
	}
	if err := a.Validate(); err != nil {
		return ledger.Balance{}, err
	}
	repo := l.tx.repo
	key := ledgerKey{a.VendorID, a.VendorType, a.OrderID, a.LotNumber}
	b, existed := repo.state.balances[key]
	if !existed {
		b = ledger.Balance{ID: repo.nextID(), VendorID: a.VendorID, VendorType: a.VendorType, OrderID: a.OrderID, LotNumber: a.LotNumber}
	}
	amount := a.Amount()
	b.TotalAmount = b.TotalAmount.Add(amount)
	b.RemainingBalance = b.RemainingBalance.Add(amount)
	b.LastUpdated = a.At
	repo.state.balances[key] = b
	l.tx.onRollback(func() {
		if !existed {
			delete(repo.state.balances, key)
			return
		}
		cur := repo.state.balances[key]
		cur.TotalAmount = cur.TotalAmount.Sub(amount)
		cur.RemainingBalance = cur.RemainingBalance.Sub(amount)
		repo.state.balances[key] = cur
	})
	return b, nil
}

func (l memoryLedger) ApplyPayment(_ context.Context, req ledger.PaymentRequest, at time.Time) ([]ledger.Balance, error) {
	defer l.tx.lock()()
	repo := l.tx.repo
	var out []ledger.Balance
	for k, b := range repo.state.balances {
		if k.vendorID == req.VendorID && k.vendorType == req.VendorType && k.lot == req.LotNumber {
			b.PaymentsMade = b.PaymentsMade.Add(req.Amount)
			b.RemainingBalance = b.RemainingBalance.Sub(req.Amount)
			b.LastUpdated = at
			repo.state.balances[k] = b
			out = append(out, b)
			key := k
			l.tx.onRollback(func() {
				cur := repo.state.balances[key]
				cur.PaymentsMade = cur.PaymentsMade.Sub(req.Amount)
				cur.RemainingBalance = cur.RemainingBalance.Add(req.Amount)
				repo.state.balances[key] = cur
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (l memoryLedger) InsertPayment(_ context.Context, p *ledger.Payment) error {
	defer l.tx.lock()()
	p.ID = l.tx.repo.nextID()
	return nil
}
