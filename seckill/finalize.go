package seckill

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/stampede/lock"
	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/queue"
	"github.com/unkn0wn-root/stampede/store"
)

// Order is an admitted purchase as carried by the queue.
type Order struct {
	ID        int64
	UserID    int64
	VoucherID int64
}

// DecodeOrder reads the id/userId/voucherId fields written by admission.
func DecodeOrder(m queue.Message) (Order, error) {
	var o Order
	for _, f := range []struct {
		name string
		dst  *int64
	}{
		{"id", &o.ID},
		{"userId", &o.UserID},
		{"voucherId", &o.VoucherID},
	} {
		n, err := strconv.ParseInt(m.Field(f.name), 10, 64)
		if err != nil || n <= 0 {
			return Order{}, errors.Wrapf(ErrMalformedEntry, "entry %s field %s=%q", m.ID, f.name, m.Field(f.name))
		}
		*f.dst = n
	}
	return o, nil
}

// OrderStore is the relational side of finalize. *store.Store implements it.
type OrderStore interface {
	HasOrder(ctx context.Context, userID, voucherID int64) (bool, error)
	PlaceOrder(ctx context.Context, o *store.VoucherOrder) error
}

type Finalizer struct {
	orders  OrderStore
	locker  lock.Locker
	lockTTL time.Duration
	log     log.Logger
}

func NewFinalizer(orders OrderStore, locker lock.Locker, lockTTL time.Duration, logger log.Logger) *Finalizer {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &Finalizer{orders: orders, locker: locker, lockTTL: lockTTL, log: log.OrNop(logger)}
}

// Finalize persists o. Calling it again for an already persisted order is a
// no-op, which is what makes at-least-once delivery safe.
func (f *Finalizer) Finalize(ctx context.Context, o Order) error {
	lease, err := f.locker.Acquire(ctx, "order:"+itoa(o.UserID), f.lockTTL)
	if errors.Is(err, lock.ErrBusy) {
		f.log.Info("finalize already in flight for user", log.Fields{"user": o.UserID, "order": o.ID})
		return ErrOrderInFlight
	}
	if err != nil {
		return errors.Wrapf(err, "seckill: lock user %d", o.UserID)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			f.log.Warn("order lock release failed", log.Fields{"user": o.UserID, "err": err})
		}
	}()

	has, err := f.orders.HasOrder(ctx, o.UserID, o.VoucherID)
	if err != nil {
		return err
	}
	if has {
		f.log.Debug("order already persisted", log.Fields{"order": o.ID, "user": o.UserID})
		return nil
	}

	err = f.orders.PlaceOrder(ctx, &store.VoucherOrder{ID: o.ID, UserID: o.UserID, VoucherID: o.VoucherID})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrDuplicateOrder):
		// lost a race with another finalize that got past HasOrder first
		return nil
	case errors.Is(err, store.ErrStockInconsistent):
		f.log.Error("relational stock exhausted for admitted order", log.Fields{
			"order": o.ID, "user": o.UserID, "voucher": o.VoucherID,
		})
		return errors.WithSecondaryError(
			errors.Wrapf(ErrPersistenceInconsistency, "order %d voucher %d", o.ID, o.VoucherID), err)
	default:
		return err
	}
}
