package seckill

import (
	"strconv"

	"github.com/cockroachdb/errors"
)

var (
	// ErrOutOfStock: no stock left, or the voucher was never published.
	ErrOutOfStock = errors.New("seckill: out of stock")
	// ErrDuplicatePurchase: this user already holds an order for the voucher.
	ErrDuplicatePurchase = errors.New("seckill: duplicate purchase")
	// ErrPersistenceInconsistency: the relational stock could not be
	// decremented for an admitted order. Needs an operator; never retried.
	ErrPersistenceInconsistency = errors.New("seckill: persistence inconsistency")
	// ErrOrderInFlight: another finalize holds this user's lease. The entry
	// is left pending and retried.
	ErrOrderInFlight = errors.New("seckill: order in flight")
	// ErrMalformedEntry: a queue entry could not be decoded into an Order.
	ErrMalformedEntry = errors.New("seckill: malformed queue entry")
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
