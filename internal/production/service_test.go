package production

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/garmentflow/garmentflow/internal/ledger"
	"github.com/garmentflow/garmentflow/internal/observability"
	"github.com/garmentflow/garmentflow/internal/orders"
	"github.com/garmentflow/garmentflow/internal/platform/cache"
	"github.com/garmentflow/garmentflow/internal/shared"
)

var day = time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC)

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, log.Action)
	return nil
}

type countingCache struct {
	mu    sync.Mutex
	bumps int
}

func (c *countingCache) InvalidateCache(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bumps++
}

func newTestService(opts ...Option) (*Service, *memoryRepo) {
	repo := newMemoryRepo()
	return NewService(repo, nil, opts...), repo
}

func stitchReq(orderID int64, lot string, invoice string, qty int64) StitchingRequest {
	return StitchingRequest{
		LotNumber:     lot,
		OrderID:       orderID,
		InvoiceNumber: InvoiceNumber(invoice),
		VendorID:      11,
		Quantity:      qty,
		Rate:          decimal.NewFromInt(5),
		Date:          day,
	}
}

func washReq(orderID int64, lot string, quantities ...int64) WashingRequest {
	req := WashingRequest{
		LotNumber:     lot,
		OrderID:       orderID,
		InvoiceNumber: "7",
		VendorID:      21,
		Rate:          decimal.RequireFromString("1.5"),
		Date:          day,
	}
	for i, q := range quantities {
		req.WashDetails = append(req.WashDetails, WashDetail{Color: fmt.Sprintf("shade-%d", i), CreationType: "stone", Quantity: q})
	}
	return req
}

func TestStitchingConservesOrderQuantity(t *testing.T) {
	audit := &recordingAudit{}
	balances := &countingCache{}
	svc, repo := newTestService(WithAudit(audit), WithBalanceCache(balances))
	ctx := context.Background()
	order := repo.addOrder(100)

	ev, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 100))
	require.NoError(t, err)
	require.NotZero(t, ev.ID)
	require.Equal(t, "A/1", ev.LotNumber)
	require.Equal(t, int64(7), ev.InvoiceNumber)

	stored := repo.order(order.ID)
	require.Equal(t, orders.StageStitching, stored.Stage)
	require.Len(t, stored.StageHistory, 2)
	require.Equal(t, int64(100), stored.StitchedQuantity)

	_, err = svc.RecordStitching(ctx, stitchReq(order.ID, "A/2", "8", 1))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "101")
	require.Contains(t, err.Error(), "100")

	events, err := svc.ListStitching(ctx, EventFilter{OrderID: &order.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	lots, err := svc.ListLots(ctx, &order.ID)
	require.NoError(t, err)
	require.Len(t, lots, 1, "rejected record must not create its lot")

	require.Equal(t, []string{"LOT_CREATE", "STITCHING_CREATE"}, audit.actions)
	require.Equal(t, 1, balances.bumps)
}

func TestStitchingAccruesVendorBalance(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)

	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 10))
	require.NoError(t, err)
	_, err = svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 4))
	require.NoError(t, err)

	b, ok := repo.balance(11, ledger.VendorStitching, order.ID, "A/1")
	require.True(t, ok)
	require.Equal(t, "70", b.TotalAmount.String())
	require.Equal(t, "70", b.RemainingBalance.String())
	require.True(t, b.PaymentsMade.IsZero())

	lots, err := svc.ListLots(ctx, &order.ID)
	require.NoError(t, err)
	require.Len(t, lots, 1)
}

func TestStitchingValidation(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)

	cases := map[string]func(*StitchingRequest){
		"missing lot":       func(r *StitchingRequest) { r.LotNumber = "" },
		"malformed lot":     func(r *StitchingRequest) { r.LotNumber = "lot-one" },
		"missing invoice":   func(r *StitchingRequest) { r.InvoiceNumber = "" },
		"invoice not int":   func(r *StitchingRequest) { r.InvoiceNumber = "INV-7" },
		"zero quantity":     func(r *StitchingRequest) { r.Quantity = 0 },
		"negative rate":     func(r *StitchingRequest) { r.Rate = decimal.NewFromInt(-1) },
		"negative shortage": func(r *StitchingRequest) { r.QuantityShort = -2 },
		"missing vendor":    func(r *StitchingRequest) { r.VendorID = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := stitchReq(order.ID, "A/1", "7", 10)
			mutate(&req)
			_, err := svc.RecordStitching(ctx, req)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	_, err := svc.RecordStitching(ctx, stitchReq(999, "A/1", "7", 10))
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.state.stitching)
}

func TestStitchingZeroRateIsAllowed(t *testing.T) {
	svc, repo := newTestService()
	order := repo.addOrder(10)
	req := stitchReq(order.ID, "A/1", "7", 10)
	req.Rate = decimal.Zero
	_, err := svc.RecordStitching(context.Background(), req)
	require.NoError(t, err)
	b, ok := repo.balance(11, ledger.VendorStitching, order.ID, "A/1")
	require.True(t, ok)
	require.True(t, b.TotalAmount.IsZero())
}

func TestLotResolutionIsIdempotent(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)

	first, err := svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "B/4", InvoiceNumber: "12", OrderID: order.ID, Date: day})
	require.NoError(t, err)
	second, err := svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "b/4", InvoiceNumber: "12", OrderID: order.ID})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, repo.state.lots, 1)

	_, err = svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "B/5", InvoiceNumber: "12", OrderID: order.ID})
	require.ErrorIs(t, err, shared.ErrValidation)

	other := repo.addOrder(50)
	_, err = svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "B/4", InvoiceNumber: "3", OrderID: other.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "lotNumber")
	require.Contains(t, err.Error(), "B/4")

	_, err = svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "B/6", InvoiceNumber: "x", OrderID: order.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "B/6", InvoiceNumber: "1", OrderID: 404})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWashingRequiresExactStitchedQuantity(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)

	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "L/1", "7", 50))
	require.NoError(t, err)

	_, err = svc.RecordWashing(ctx, washReq(order.ID, "L/1", 30, 10))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "40")
	require.Contains(t, err.Error(), "50")

	_, err = svc.RecordWashing(ctx, washReq(order.ID, "L/1", 30, 21))
	require.ErrorIs(t, err, shared.ErrValidation, "more than stitched is rejected as well")
	require.Empty(t, repo.state.washing)
	require.Equal(t, orders.StageStitching, repo.order(order.ID).Stage)

	ev, err := svc.RecordWashing(ctx, washReq(order.ID, "L/1", 30, 20))
	require.NoError(t, err)
	require.Equal(t, int64(50), ev.Quantity)
	require.Len(t, ev.WashDetails, 2)
	require.Equal(t, orders.StageWashing, repo.order(order.ID).Stage)

	b, ok := repo.balance(21, ledger.VendorWashing, order.ID, "L/1")
	require.True(t, ok)
	require.Equal(t, "75", b.TotalAmount.String())
}

func TestWashingWithoutStitchingIsNotFound(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)

	_, err := svc.RecordWashing(ctx, washReq(order.ID, "Q/1", 10))
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.ResolveOrCreateLot(ctx, LotRequest{LotNumber: "Q/1", InvoiceNumber: "7", OrderID: order.ID})
	require.NoError(t, err)
	_, err = svc.RecordWashing(ctx, washReq(order.ID, "Q/1", 10))
	require.ErrorIs(t, err, shared.ErrNotFound, "a lot without stitching is still missing its prerequisite")
}

func TestWashingDoesNotRegressLaterStage(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 20))
	require.NoError(t, err)
	_, err = svc.RecordFinishing(ctx, FinishingRequest{InvoiceNumber: "7", OrderID: order.ID, VendorID: 31, Quantity: 20, Rate: decimal.NewFromInt(2), Date: day})
	require.NoError(t, err)
	require.Equal(t, orders.StageFinishing, repo.order(order.ID).Stage)

	_, err = svc.RecordWashing(ctx, washReq(order.ID, "A/1", 20))
	require.NoError(t, err)
	require.Equal(t, orders.StageFinishing, repo.order(order.ID).Stage)
	require.Len(t, repo.order(order.ID).StageHistory, 3)
}

func TestFinishingWithoutLotIsNotFound(t *testing.T) {
	svc, repo := newTestService()
	order := repo.addOrder(100)

	_, err := svc.RecordFinishing(context.Background(), FinishingRequest{InvoiceNumber: "99", OrderID: order.ID, VendorID: 31, Quantity: 5, Rate: decimal.NewFromInt(1), Date: day})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.state.finishing)
	require.Empty(t, repo.state.balances)
}

func TestFinishingAdvancesAndCompletes(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 40))
	require.NoError(t, err)

	ev, err := svc.RecordFinishing(ctx, FinishingRequest{InvoiceNumber: "7", OrderID: order.ID, VendorID: 31, Quantity: 38, QuantityShort: 2, Rate: decimal.RequireFromString("0.75"), Date: day})
	require.NoError(t, err)
	require.Equal(t, "A/1", ev.LotNumber)
	require.Equal(t, orders.StageFinishing, repo.order(order.ID).Stage)

	b, ok := repo.balance(31, ledger.VendorFinishing, order.ID, "A/1")
	require.True(t, ok)
	require.Equal(t, "28.5", b.TotalAmount.String())

	out := day.Add(48 * time.Hour)
	ev, err = svc.SetFinishOutDate(ctx, ev.ID, out)
	require.NoError(t, err)
	require.NotNil(t, ev.FinishOutDate)
	require.True(t, ev.FinishOutDate.Equal(out))
	require.Equal(t, orders.StageComplete, repo.order(order.ID).Stage)

	_, err = svc.SetFinishOutDate(ctx, 12345, out)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestFinishingWithOutDateCompletesImmediately(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 40))
	require.NoError(t, err)

	out := day.Add(24 * time.Hour)
	_, err = svc.RecordFinishing(ctx, FinishingRequest{InvoiceNumber: "7", OrderID: order.ID, VendorID: 31, Quantity: 40, Rate: decimal.NewFromInt(1), Date: day, FinishOutDate: &out})
	require.NoError(t, err)
	stored := repo.order(order.ID)
	require.Equal(t, orders.StageComplete, stored.Stage)
	require.Len(t, stored.StageHistory, 4)
}

func TestCancelledOrderIsNotAdvanced(t *testing.T) {
	svc, repo := newTestService()
	order := repo.addOrder(100)
	cancelled := repo.order(order.ID)
	cancelled.Stage = orders.StageCancelled
	repo.state.orders[order.ID] = cancelled

	_, err := svc.RecordStitching(context.Background(), stitchReq(order.ID, "A/1", "7", 10))
	require.NoError(t, err)
	require.Equal(t, orders.StageCancelled, repo.order(order.ID).Stage)
}

func TestOutDateUpdates(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	st, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 30))
	require.NoError(t, err)
	wa, err := svc.RecordWashing(ctx, washReq(order.ID, "A/1", 30))
	require.NoError(t, err)

	out := day.Add(72 * time.Hour)
	st, err = svc.SetStitchOutDate(ctx, st.ID, out)
	require.NoError(t, err)
	require.True(t, st.StitchOutDate.Equal(out))
	wa, err = svc.SetWashOutDate(ctx, wa.ID, out)
	require.NoError(t, err)
	require.True(t, wa.WashOutDate.Equal(out))
	require.Equal(t, orders.StageWashing, repo.order(order.ID).Stage, "out dates before finishing do not move the stage")

	_, err = svc.SetStitchOutDate(ctx, 777, out)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.SetWashOutDate(ctx, 777, out)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.SetWashOutDate(ctx, wa.ID, time.Time{})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestSuggestLotNumber(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	first := repo.addOrder(100)
	second := repo.addOrder(100)

	next, err := svc.SuggestLotNumber(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, "A/1", next.LotNumber)

	_, err = svc.RecordStitching(ctx, stitchReq(first.ID, "A/99", "1", 10))
	require.NoError(t, err)
	_, err = svc.RecordStitching(ctx, stitchReq(first.ID, "A/100", "2", 10))
	require.NoError(t, err)

	next, err = svc.SuggestLotNumber(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, NextLotResponse{LotNumber: "B/1", Series: "B", Batch: 1}, next)

	next, err = svc.SuggestLotNumber(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, "B/1", next.LotNumber, "an order without lots continues the global series")

	_, err = svc.SuggestLotNumber(ctx, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestListEventsMatchesCanonicalLotNumber(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 10))
	require.NoError(t, err)
	_, err = svc.RecordStitching(ctx, stitchReq(order.ID, "A/2", "8", 10))
	require.NoError(t, err)

	events, err := svc.ListStitching(ctx, EventFilter{LotNumber: " a/01 "})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "A/1", events[0].LotNumber)

	events, err = svc.ListStitching(ctx, EventFilter{LotNumber: "  "})
	require.NoError(t, err)
	require.Len(t, events, 2)

	_, err = svc.ListWashing(ctx, EventFilter{LotNumber: "lot-1"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

// raceStitching fires ten 15-piece stitching requests at one 100-piece order.
func raceStitching(t *testing.T, svc *Service, orderID int64) (accepted, rejected int) {
	t.Helper()
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.RecordStitching(context.Background(), stitchReq(orderID, fmt.Sprintf("A/%d", i), fmt.Sprint(i), 15))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				accepted++
				return
			}
			if isValidation(err) {
				rejected++
			}
		}(i)
	}
	wg.Wait()
	return accepted, rejected
}

func stitchedEvents(state memoryState, orderID int64) int64 {
	var total int64
	for _, ev := range state.stitching {
		if ev.OrderID == orderID {
			total += ev.Quantity
		}
	}
	return total
}

func TestConcurrentStitchingSerialisedByOrderLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	// No row lock and no counter check: the distributed lock alone keeps the total in bounds.
	repo := newInterleavedRepo(false, true)
	svc := NewService(repo, nil, WithLocker(cache.NewLocker(client, 5*time.Second)))
	order := repo.addOrder(100)

	accepted, rejected := raceStitching(t, svc, order.ID)

	require.Equal(t, 6, accepted)
	require.Equal(t, 4, rejected)
	state := repo.snapshot()
	require.Equal(t, int64(90), stitchedEvents(state, order.ID))
	require.Equal(t, int64(90), state.orders[order.ID].StitchedQuantity)
	require.Len(t, state.lots, 6)
}

func TestConcurrentStitchingSerialisedByRowLock(t *testing.T) {
	repo := newInterleavedRepo(true, true)
	svc := NewService(repo, nil)
	order := repo.addOrder(100)

	accepted, rejected := raceStitching(t, svc, order.ID)

	require.Equal(t, 6, accepted)
	require.Equal(t, 4, rejected)
	state := repo.snapshot()
	require.Equal(t, int64(90), stitchedEvents(state, order.ID))
	require.Equal(t, int64(90), state.orders[order.ID].StitchedQuantity)
}

func TestStitchedCounterCheckRollsBackRacingWrites(t *testing.T) {
	repo := newInterleavedRepo(false, false)
	svc := NewService(repo, nil)
	order := repo.addOrder(100)

	accepted, rejected := raceStitching(t, svc, order.ID)

	require.Equal(t, 10, accepted+rejected)
	require.GreaterOrEqual(t, accepted, 1)
	require.LessOrEqual(t, accepted, 6)
	state := repo.snapshot()
	stitched := state.orders[order.ID].StitchedQuantity
	require.Equal(t, int64(15*accepted), stitched)
	require.Equal(t, stitched, stitchedEvents(state, order.ID), "rejected writes leave no events behind")
	require.Len(t, state.lots, accepted)
	require.Len(t, state.balances, accepted)
}

func requireSameState(t *testing.T, before, after memoryState) {
	t.Helper()
	require.Len(t, after.lots, len(before.lots))
	require.Len(t, after.stitching, len(before.stitching))
	require.Len(t, after.washing, len(before.washing))
	require.Len(t, after.finishing, len(before.finishing))
	require.Len(t, after.balances, len(before.balances))
	for k, b := range before.balances {
		got, ok := after.balances[k]
		require.True(t, ok, "balance %v", k)
		require.True(t, b.TotalAmount.Equal(got.TotalAmount), "total of %v", k)
		require.True(t, b.RemainingBalance.Equal(got.RemainingBalance), "remaining of %v", k)
	}
	for id, o := range before.orders {
		got := after.orders[id]
		require.Equal(t, o.Stage, got.Stage)
		require.Len(t, got.StageHistory, len(o.StageHistory))
		require.Equal(t, o.StitchedQuantity, got.StitchedQuantity)
	}
}

func TestRecorderFailureLeavesNoPartialWrites(t *testing.T) {
	out := day.Add(24 * time.Hour)
	cases := []struct {
		name   string
		failOn string
		setup  func(t *testing.T, svc *Service, orderID int64)
		run    func(svc *Service, orderID int64) error
	}{
		{
			name:   "stitching accrual",
			failOn: "accrue",
			run: func(svc *Service, orderID int64) error {
				_, err := svc.RecordStitching(context.Background(), stitchReq(orderID, "A/1", "7", 20))
				return err
			},
		},
		{
			name:   "stitching stage",
			failOn: "appendStage",
			run: func(svc *Service, orderID int64) error {
				_, err := svc.RecordStitching(context.Background(), stitchReq(orderID, "A/1", "7", 20))
				return err
			},
		},
		{
			name:   "washing accrual",
			failOn: "accrue",
			setup: func(t *testing.T, svc *Service, orderID int64) {
				_, err := svc.RecordStitching(context.Background(), stitchReq(orderID, "A/1", "7", 20))
				require.NoError(t, err)
			},
			run: func(svc *Service, orderID int64) error {
				_, err := svc.RecordWashing(context.Background(), washReq(orderID, "A/1", 20))
				return err
			},
		},
		{
			name:   "finishing accrual after completing",
			failOn: "accrue",
			setup: func(t *testing.T, svc *Service, orderID int64) {
				_, err := svc.RecordStitching(context.Background(), stitchReq(orderID, "A/1", "7", 20))
				require.NoError(t, err)
				_, err = svc.RecordWashing(context.Background(), washReq(orderID, "A/1", 20))
				require.NoError(t, err)
			},
			run: func(svc *Service, orderID int64) error {
				_, err := svc.RecordFinishing(context.Background(), FinishingRequest{
					InvoiceNumber: "7", OrderID: orderID, VendorID: 31, Quantity: 20,
					Rate: decimal.NewFromInt(1), Date: day, FinishOutDate: &out,
				})
				return err
			},
		},
	}
	repos := map[string]func() *memoryRepo{
		"serial":      newMemoryRepo,
		"interleaved": func() *memoryRepo { return newInterleavedRepo(true, false) },
	}
	for mode, newRepo := range repos {
		for _, tc := range cases {
			t.Run(mode+"/"+tc.name, func(t *testing.T) {
				repo := newRepo()
				audit := &recordingAudit{}
				balances := &countingCache{}
				svc := NewService(repo, nil, WithAudit(audit), WithBalanceCache(balances))
				order := repo.addOrder(100)
				if tc.setup != nil {
					tc.setup(t, svc, order.ID)
				}
				before := repo.snapshot()
				audits, bumps := len(audit.actions), balances.bumps

				repo.setFailOn(tc.failOn)
				err := tc.run(svc, order.ID)
				require.ErrorIs(t, err, errInjected)

				requireSameState(t, before, repo.snapshot())
				require.Len(t, audit.actions, audits, "nothing is audited for a rolled back event")
				require.Equal(t, bumps, balances.bumps)
			})
		}
	}
}

func TestWashingRejectsInvoiceOfAnotherLot(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 30))
	require.NoError(t, err)

	req := washReq(order.ID, "A/1", 30)
	req.InvoiceNumber = "99"
	_, err = svc.RecordWashing(ctx, req)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "99")
	require.Empty(t, repo.state.washing)

	ev, err := svc.RecordWashing(ctx, washReq(order.ID, "a/01", 30))
	require.NoError(t, err)
	require.Equal(t, int64(7), ev.InvoiceNumber)
	require.Equal(t, "A/1", ev.LotNumber)
}

func TestStitchingHugeQuantityIsValidation(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	order := repo.addOrder(100)
	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 10))
	require.NoError(t, err)

	_, err = svc.RecordStitching(ctx, stitchReq(order.ID, "A/2", "8", math.MaxInt64))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, int64(10), repo.order(order.ID).StitchedQuantity)
}

// retryingRepo replays a failed unit of work once, as db.WithTx does on serialization failures.
type retryingRepo struct {
	*memoryRepo
}

func (r retryingRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if err := r.memoryRepo.WithTx(ctx, fn); err == nil {
		return nil
	}
	return r.memoryRepo.WithTx(ctx, fn)
}

func TestRejectionCountedOncePerRequest(t *testing.T) {
	repo := newMemoryRepo()
	metrics := observability.NewMetrics()
	svc := NewService(retryingRepo{repo}, nil, WithMetrics(metrics))
	ctx := context.Background()
	order := repo.addOrder(10)

	_, err := svc.RecordStitching(ctx, stitchReq(order.ID, "A/1", "7", 11))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.RecordWashing(ctx, washReq(order.ID, "A/1", 5))
	require.ErrorIs(t, err, shared.ErrNotFound)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	require.Contains(t, body, `garmentflow_production_rejections_total{reason="over_allocation",stage="stitching"} 1`)
	require.Contains(t, body, `garmentflow_production_rejections_total{reason="missing_stitching",stage="washing"} 1`)
}

func isValidation(err error) bool {
	var e *shared.Error
	return err != nil && errors.As(err, &e) && e.Kind == shared.ErrValidation
}
