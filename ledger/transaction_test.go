package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stock-ledger/ledger"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreateTransaction_StartsBookedWithNumberedLines(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		tax := ledger.MustPercent("5")
		in := sale(
			line(wh1, itemA, "2", "100.00"),
			ledger.NewLineItem{ItemID: itemB, WarehouseID: wh2, Quantity: qty("1.5"),
				UnitPrice: money("10.00"), TaxPercent: &tax, Discount: money("1.00")},
		)
		in.PaymentMethodID = pm(cashPM)
		in.BillNumber = "INV-001"
		in.Transport = &ledger.TransportDetail{TransportName: "Blue Dart", LRNumber: "LR-9"}
		in.Attachments = []ledger.Attachment{{FilePath: "/bills/inv-001.pdf", FileType: "pdf"}}

		txn := f.create(t, in)
		assert.Equal(t, ledger.StatusBooked, txn.Status)
		assert.Equal(t, clerk, txn.CreatedBy)
		require.Len(t, txn.Items, 2)
		assert.Equal(t, 1, txn.Items[0].LineNo)
		assert.Equal(t, 2, txn.Items[1].LineNo)

		// 200.00 + (15.00 + 0.75 - 1.00)
		requireMoney(t, "214.75", txn.Total())

		got, err := f.eng.Transaction(f.ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, "INV-001", got.BillNumber)
		require.NotNil(t, got.Transport)
		assert.Equal(t, "LR-9", got.Transport.LRNumber)
		require.Len(t, got.Attachments, 1)
		assert.NotEmpty(t, got.Attachments[0].ID)
		requireMoney(t, "214.75", got.Total())
		assert.True(t, got.BillDate.IsZero())
	})
}

func TestCreateTransaction_Validation(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		cases := []struct {
			name string
			in   ledger.NewTransaction
			want error
		}{
			{"no lines", purchase(), ledger.ErrInvalidInput},
			{"zero quantity", purchase(line(wh1, itemA, "0", "1.00")), ledger.ErrInvalidInput},
			{"negative price", purchase(line(wh1, itemA, "1", "-1.00")), ledger.ErrInvalidInput},
			{"unknown item", purchase(line(wh1, "nope", "1", "1.00")), ledger.ErrUnknownEntity},
			{"foreign warehouse", purchase(line(whOther, itemA, "1", "1.00")), ledger.ErrUnknownEntity},
			{"return without original", ledger.NewTransaction{BranchID: branch1, PartyID: customer,
				Type: ledger.TypeReturn, Items: []ledger.NewLineItem{line(wh1, itemA, "1", "1.00")}}, ledger.ErrInvalidInput},
		}
		for _, tc := range cases {
			_, err := f.eng.CreateTransaction(f.ctx, tc.in, clerkActor)
			assert.ErrorIs(t, err, tc.want, tc.name)
		}

		in := purchase(line(wh1, itemA, "1", "1.00"))
		in.PaymentMethodID = pm("pm-missing")
		_, err := f.eng.CreateTransaction(f.ctx, in, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)

		// Employee must carry the employee type.
		in = purchase(line(wh1, itemA, "1", "1.00"))
		notEmployee := supplier
		in.EmployeeID = &notEmployee
		_, err = f.eng.CreateTransaction(f.ctx, in, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)

		_, err = f.eng.CreateTransaction(f.ctx, purchase(line(wh1, itemA, "1", "1.00")), ledger.Actor{})
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	})
}

// =============================================================================
// TRANSITIONS AND STOCK
// =============================================================================

func TestPurchase_BilledThenCancelled(t *testing.T) {
	// GIVEN: A booked purchase of 10
	// WHEN: Billed, then cancelled
	// THEN: Stock goes 0 -> 10 -> 0, with one movement per edge

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		txn := f.create(t, purchase(line(wh1, itemA, "10", "5.00")))
		requireQty(t, "0", f.quantity(t, k))

		txn = f.walk(t, txn, ledger.StatusBilled)
		requireQty(t, "10", f.quantity(t, k))
		assert.Equal(t, businessDay, txn.BillDate)

		txn = f.walk(t, txn, ledger.StatusCancelled)
		requireQty(t, "0", f.quantity(t, k))
		assert.Equal(t, ledger.StatusCancelled, txn.Status)

		ms := f.movements(t, k)
		require.Len(t, ms, 2)
		assert.Equal(t, ledger.TransitionRef(txn.ID, ledger.StatusBooked, ledger.StatusBilled), ms[0].Ref)
		assert.Equal(t, ledger.TransitionRef(txn.ID, ledger.StatusBilled, ledger.StatusCancelled), ms[1].Ref)
		f.requireLedgerConsistent(t, k)
	})
}

func TestPurchase_CancelledBeforeBillingMovesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.create(t, purchase(line(wh1, itemA, "10", "5.00")))
		f.walk(t, txn, ledger.StatusOnHold, ledger.StatusBooked, ledger.StatusCancelled)
		requireQty(t, "0", f.quantity(t, key(wh1, itemA)))
		assert.Empty(t, f.movements(t, key(wh1, itemA)))
	})
}

func TestSales_ShippedThenReturned(t *testing.T) {
	// GIVEN: 10 on hand and a sale of 4
	// WHEN: The sale ships, then comes back as returned
	// THEN: Stock goes 10 -> 6 -> 10

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")

		txn := f.create(t, sale(line(wh1, itemA, "4", "25.00")))
		txn = f.walk(t, txn, ledger.StatusBilled)
		requireQty(t, "10", f.quantity(t, k))

		txn = f.walk(t, txn, ledger.StatusShipped)
		requireQty(t, "6", f.quantity(t, k))
		assert.Equal(t, businessDay, txn.ShippedDate)

		f.walk(t, txn, ledger.StatusReturned)
		requireQty(t, "10", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

func TestSales_FullLifecycleMovesOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")

		txn := f.create(t, sale(line(wh1, itemA, "3", "25.00"), line(wh1, itemA, "2", "25.00")))
		f.walk(t, txn, ledger.StatusBilled, ledger.StatusShipped, ledger.StatusReachedLorry,
			ledger.StatusDeliveryTaken, ledger.StatusAllOK)

		// Lines on the same key are aggregated into one movement.
		requireQty(t, "5", f.quantity(t, k))
		assert.Len(t, f.movements(t, k), 2)
	})
}

func TestSales_ShippingMoreThanOnHandIsRejected(t *testing.T) {
	// GIVEN: 3 on hand, a billed sale of 5
	// WHEN: Shipping
	// THEN: InsufficientStock and the status stays billed

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.stockUp(t, wh1, itemA, "3")
		txn := f.walk(t, f.create(t, sale(line(wh1, itemA, "5", "1.00"))), ledger.StatusBilled)

		_, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusShipped, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInsufficientStock)

		got, err := f.eng.Transaction(f.ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusBilled, got.Status)
		requireQty(t, "3", f.quantity(t, key(wh1, itemA)))
	})
}

func TestTransition_MultiKeyIsAllOrNothing(t *testing.T) {
	// GIVEN: Item A well stocked, item B empty, a sale of both
	// WHEN: Shipping fails on item B
	// THEN: Item A is untouched too

	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.stockUp(t, wh1, itemA, "10")
		txn := f.walk(t, f.create(t, sale(line(wh1, itemA, "1", "1.00"), line(wh1, itemB, "1", "1.00"))),
			ledger.StatusBilled)

		_, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusShipped, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInsufficientStock)

		requireQty(t, "10", f.quantity(t, key(wh1, itemA)))
		assert.Len(t, f.movements(t, key(wh1, itemA)), 1)
	})
}

func TestTransition_InvalidEdgeIsRejected(t *testing.T) {
	// GIVEN: A booked purchase
	// WHEN: Jumping straight to shipped
	// THEN: InvalidTransition, no status change, no movement

	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.create(t, purchase(line(wh1, itemA, "10", "5.00")))

		_, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusShipped, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInvalidTransition)

		var ite *ledger.InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, ledger.StatusBooked, ite.From)
		assert.Equal(t, ledger.StatusShipped, ite.To)

		got, err := f.eng.Transaction(f.ctx, txn.ID)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusBooked, got.Status)
		assert.Empty(t, f.movements(t, key(wh1, itemA)))
	})
}

func TestTransition_TerminalStatusesHaveNoExits(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.walk(t, f.create(t, purchase(line(wh1, itemA, "1", "1.00"))), ledger.StatusCancelled)
		_, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusBooked, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	})
}

func TestTransition_RepeatedTargetIsNoOp(t *testing.T) {
	// GIVEN: A purchase already billed
	// WHEN: Transitioning to billed again
	// THEN: Success, still exactly one movement

	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.stockUp(t, wh1, itemA, "10")
		again, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusBilled, clerkActor)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusBilled, again.Status)

		requireQty(t, "10", f.quantity(t, key(wh1, itemA)))
		assert.Len(t, f.movements(t, key(wh1, itemA)), 1)
	})
}

func TestTransition_ConcurrentSameTargetAppliesOnce(t *testing.T) {
	// GIVEN: A booked purchase of 10
	// WHEN: 8 goroutines bill it at once
	// THEN: All succeed and stock rises by exactly 10

	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.create(t, purchase(line(wh1, itemA, "10", "5.00")))

		var g errgroup.Group
		for i := 0; i < 8; i++ {
			g.Go(func() error {
				_, err := f.eng.TransitionTransaction(f.ctx, txn.ID, ledger.StatusBilled, clerkActor)
				return err
			})
		}
		require.NoError(t, g.Wait())

		requireQty(t, "10", f.quantity(t, key(wh1, itemA)))
		assert.Len(t, f.movements(t, key(wh1, itemA)), 1)
	})
}

func TestTransition_ConcurrentConflictingTargets(t *testing.T) {
	// GIVEN: A billed purchase of 10
	// WHEN: One goroutine ships it while another cancels it
	// THEN: Exactly one wins; stock is consistent with the final status

	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.stockUp(t, wh1, itemA, "10")

		errs := make([]error, 2)
		var g errgroup.Group
		for i, target := range []ledger.Status{ledger.StatusShipped, ledger.StatusCancelled} {
			i, target := i, target
			g.Go(func() error {
				_, errs[i] = f.eng.TransitionTransaction(f.ctx, txn.ID, target, clerkActor)
				return nil
			})
		}
		require.NoError(t, g.Wait())

		got, err := f.eng.Transaction(f.ctx, txn.ID)
		require.NoError(t, err)

		failures := 0
		for _, err := range errs {
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
				failures++
			}
		}
		assert.Equal(t, 1, failures)

		switch got.Status {
		case ledger.StatusShipped:
			requireQty(t, "10", f.quantity(t, key(wh1, itemA)))
		case ledger.StatusCancelled:
			requireQty(t, "0", f.quantity(t, key(wh1, itemA)))
		default:
			t.Fatalf("unexpected final status %s", got.Status)
		}
		f.requireLedgerConsistent(t, key(wh1, itemA))
	})
}

func TestTransition_ConcurrentTransactionsOnOneKeySum(t *testing.T) {
	// GIVEN: 20 on hand, four billed sales of 2 and four booked purchases of 3
	// WHEN: All sales ship and all purchases are billed at once
	// THEN: Stock ends at 20 - 8 + 12, whatever the interleaving

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "20")

		type move struct {
			txn    *ledger.Transaction
			target ledger.Status
		}
		var moves []move
		for i := 0; i < 4; i++ {
			s := f.walk(t, f.create(t, sale(line(wh1, itemA, "2", "10.00"))), ledger.StatusBilled)
			moves = append(moves, move{s, ledger.StatusShipped})
			moves = append(moves, move{f.create(t, purchase(line(wh1, itemA, "3", "4.00"))), ledger.StatusBilled})
		}

		var g errgroup.Group
		for _, m := range moves {
			m := m
			g.Go(func() error {
				_, err := f.eng.TransitionTransaction(f.ctx, m.txn.ID, m.target, clerkActor)
				return err
			})
		}
		require.NoError(t, g.Wait())

		requireQty(t, "24", f.quantity(t, k))
		assert.Len(t, f.movements(t, k), 9)
		f.requireLedgerConsistent(t, k)
	})
}

func TestTransition_UnknownTransaction(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		_, err := f.eng.TransitionTransaction(f.ctx, "missing", ledger.StatusBilled, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)

		_, err = f.eng.TransitionTransaction(f.ctx, "missing", "teleported", clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
	})
}

// =============================================================================
// RETURNS
// =============================================================================

func TestReturn_OfSaleRestocksOnAllOK(t *testing.T) {
	// GIVEN: A delivered sale of 4 from 10 on hand
	// WHEN: A return of 3 is created and reaches all_ok
	// THEN: Stock goes 6 -> 9, and only at all_ok

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")
		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))),
			ledger.StatusBilled, ledger.StatusShipped)
		requireQty(t, "6", f.quantity(t, k))

		ret := f.create(t, returnOf(orig, line(wh1, itemA, "3", "25.00")))
		ret = f.walk(t, ret, ledger.StatusBilled, ledger.StatusShipped, ledger.StatusReachedLorry, ledger.StatusDeliveryTaken)
		requireQty(t, "6", f.quantity(t, k))

		f.walk(t, ret, ledger.StatusAllOK)
		requireQty(t, "9", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

func TestReturn_OfPurchaseRemovesStock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		orig := f.stockUp(t, wh1, itemA, "10")

		ret := f.create(t, returnOf(orig, line(wh1, itemA, "4", "1.00")))
		f.walk(t, ret, ledger.StatusBilled, ledger.StatusShipped, ledger.StatusReachedLorry,
			ledger.StatusDeliveryTaken, ledger.StatusAllOK)
		requireQty(t, "6", f.quantity(t, k))
	})
}

func TestReturn_Constraints(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		f.stockUp(t, wh1, itemA, "10")
		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"), line(wh1, itemA, "1", "25.00"))),
			ledger.StatusBilled, ledger.StatusShipped)

		// Aggregated limit is 5.
		_, err := f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "5.001", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)

		_, err = f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemB, "1", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)

		ret := f.create(t, returnOf(orig, line(wh1, itemA, "1", "25.00")))
		_, err = f.eng.CreateTransaction(f.ctx, returnOf(ret, line(wh1, itemA, "1", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, "return of a return")

		// The open return of 1 leaves 4.
		_, err = f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "4.001", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		f.create(t, returnOf(orig, line(wh1, itemA, "4", "25.00")))

		missing := ledger.TransactionID("missing")
		in := returnOf(orig, line(wh1, itemA, "1", "25.00"))
		in.ReturnOf = &missing
		_, err = f.eng.CreateTransaction(f.ctx, in, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrUnknownEntity)

		in = purchase(line(wh1, itemA, "1", "1.00"))
		in.ReturnOf = &orig.ID
		_, err = f.eng.CreateTransaction(f.ctx, in, clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput, "purchase with an original")
	})
}

var returnPath = []ledger.Status{
	ledger.StatusBilled, ledger.StatusShipped, ledger.StatusReachedLorry,
	ledger.StatusDeliveryTaken, ledger.StatusAllOK,
}

func TestReturn_OriginalWithoutStockEffectIsRejected(t *testing.T) {
	// GIVEN: A booked sale, a billed sale and a sale shipped then returned
	// WHEN: A return of each is created
	// THEN: All are rejected and stock stays at 10

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")

		booked := f.create(t, sale(line(wh1, itemA, "4", "25.00")))
		billed := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))), ledger.StatusBilled)
		bounced := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))),
			ledger.StatusBilled, ledger.StatusShipped, ledger.StatusReturned)
		requireQty(t, "10", f.quantity(t, k))

		for _, orig := range []*ledger.Transaction{booked, billed, bounced} {
			_, err := f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "4", "25.00")), clerkActor)
			assert.ErrorIs(t, err, ledger.ErrInvalidInput, "return of a %s sale", orig.Status)
		}
		requireQty(t, "10", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

func TestReturn_SameSaleCannotBeReturnedTwice(t *testing.T) {
	// GIVEN: A shipped sale of 4 from 10 on hand, fully returned
	// WHEN: Another return of it is created
	// THEN: Rejected; stock is 10, not 14

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")
		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))), ledger.StatusBilled, ledger.StatusShipped)

		f.walk(t, f.create(t, returnOf(orig, line(wh1, itemA, "4", "25.00"))), returnPath...)
		requireQty(t, "10", f.quantity(t, k))

		_, err := f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "4", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)
		_, err = f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "0.001", "25.00")), clerkActor)
		assert.ErrorIs(t, err, ledger.ErrInvalidInput)

		requireQty(t, "10", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

func TestReturn_CancelledReturnFreesItsQuantity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")
		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))), ledger.StatusBilled, ledger.StatusShipped)

		first := f.create(t, returnOf(orig, line(wh1, itemA, "4", "25.00")))
		_, err := f.eng.CreateTransaction(f.ctx, returnOf(orig, line(wh1, itemA, "1", "25.00")), clerkActor)
		require.ErrorIs(t, err, ledger.ErrInvalidInput)

		f.walk(t, first, ledger.StatusCancelled)
		f.walk(t, f.create(t, returnOf(orig, line(wh1, itemA, "4", "25.00"))), returnPath...)
		requireQty(t, "10", f.quantity(t, k))
	})
}

func TestReturn_OriginalWithOpenReturnCannotReverse(t *testing.T) {
	// GIVEN: A delivered sale of 4 with a return of 1 at all_ok
	// WHEN: The sale itself is marked returned
	// THEN: InvalidTransition; the returned unit would otherwise come back twice

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")
		delivered := []ledger.Status{ledger.StatusBilled, ledger.StatusShipped,
			ledger.StatusReachedLorry, ledger.StatusDeliveryTaken}

		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))), delivered...)
		f.walk(t, f.create(t, returnOf(orig, line(wh1, itemA, "1", "25.00"))), returnPath...)
		requireQty(t, "7", f.quantity(t, k))

		_, err := f.eng.TransitionTransaction(f.ctx, orig.ID, ledger.StatusReturned, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInvalidTransition)
		var ite *ledger.InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.NotEmpty(t, ite.Reason)
		requireQty(t, "7", f.quantity(t, k))

		// A pending return blocks the reversal until it is cancelled.
		other := f.walk(t, f.create(t, sale(line(wh1, itemA, "2", "25.00"))), delivered...)
		pending := f.create(t, returnOf(other, line(wh1, itemA, "2", "25.00")))
		_, err = f.eng.TransitionTransaction(f.ctx, other.ID, ledger.StatusReturned, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInvalidTransition)

		f.walk(t, pending, ledger.StatusCancelled)
		f.walk(t, other, ledger.StatusReturned)
		requireQty(t, "7", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

func TestReturn_AllOKRechecksOpenReturns(t *testing.T) {
	// GIVEN: A shipped sale of 4 and two full returns of it, the second
	//        written straight to the store as two racing creates would leave it
	// WHEN: One return enters all_ok while the other is open
	// THEN: Rejected; once the other is closed it goes through, stock ends at 10

	forEachBackend(t, func(t *testing.T, f *fixture) {
		k := key(wh1, itemA)
		f.stockUp(t, wh1, itemA, "10")
		orig := f.walk(t, f.create(t, sale(line(wh1, itemA, "4", "25.00"))), ledger.StatusBilled, ledger.StatusShipped)

		first := f.walk(t, f.create(t, returnOf(orig, line(wh1, itemA, "4", "25.00"))), returnPath[:4]...)

		now := f.clock.Now()
		raced := &ledger.Transaction{
			ID:       "ret-raced",
			BranchID: branch1,
			PartyID:  customer,
			Type:     ledger.TypeReturn,
			Status:   ledger.StatusBooked,
			ReturnOf: &orig.ID,
			Items: []ledger.LineItem{{LineNo: 1, ItemID: itemA, WarehouseID: wh1,
				Quantity: qty("4"), UnitPrice: money("25.00")}},
			CreatedBy: clerk,
			CreatedAt: now,
			UpdatedAt: now,
		}
		require.NoError(t, f.store.InsertTransaction(f.ctx, raced))
		raced = f.walk(t, raced, returnPath[:4]...)

		_, err := f.eng.TransitionTransaction(f.ctx, first.ID, ledger.StatusAllOK, clerkActor)
		require.ErrorIs(t, err, ledger.ErrInvalidTransition)
		requireQty(t, "6", f.quantity(t, k))

		f.walk(t, raced, ledger.StatusReturned)
		f.walk(t, first, ledger.StatusAllOK)
		requireQty(t, "10", f.quantity(t, k))
		f.requireLedgerConsistent(t, k)
	})
}

// =============================================================================
// AUDIT STAMP
// =============================================================================

func TestAuditTransaction_StampsOnce(t *testing.T) {
	forEachBackend(t, func(t *testing.T, f *fixture) {
		txn := f.create(t, purchase(line(wh1, itemA, "1", "1.00")))

		first, err := f.eng.AuditTransaction(f.ctx, txn.ID, auditorActor)
		require.NoError(t, err)
		require.True(t, first.Audited)
		require.NotNil(t, first.AuditedAt)
		assert.Equal(t, auditor, *first.AuditedBy)

		second, err := f.eng.AuditTransaction(f.ctx, txn.ID, clerkActor)
		require.NoError(t, err)
		assert.Equal(t, auditor, *second.AuditedBy)
		assert.True(t, first.AuditedAt.Equal(*second.AuditedAt))
	})
}
