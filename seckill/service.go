// Package seckill runs flash sales: admission in Redis at request time,
// persistence in the relational store off the request path.
//
//	Requested -> Admitted | Rejected(OutOfStock, DuplicatePurchase)
//	Admitted  -> Queued (same atomic step) -> Persisted | Failed (dead letter)
package seckill

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/provider"
	"github.com/unkn0wn-root/stampede/store"
)

// IDSource hands out order IDs. *idgen.Generator implements it.
type IDSource interface {
	Next(ctx context.Context, counterName string) (int64, error)
}

type VoucherStore interface {
	CreateVoucher(ctx context.Context, v *store.SeckillVoucher) error
}

type Service struct {
	rdb      redis.UniversalClient
	ids      IDSource
	vouchers VoucherStore
	stream   string
	log      log.Logger
}

type ServiceConfig struct {
	Client   redis.UniversalClient
	IDs      IDSource
	Vouchers VoucherStore // only needed for PublishVoucher
	Stream   string       // default "stream.orders"
	Logger   log.Logger
}

func NewService(cfg ServiceConfig) *Service {
	stream := cfg.Stream
	if stream == "" {
		stream = "stream.orders"
	}
	return &Service{
		rdb:      cfg.Client,
		ids:      cfg.IDs,
		vouchers: cfg.Vouchers,
		stream:   stream,
		log:      log.OrNop(cfg.Logger),
	}
}

// Seckill admits userID to buy one unit of voucherID and returns the order
// ID. The order is persisted asynchronously by the Worker.
func (s *Service) Seckill(ctx context.Context, voucherID, userID int64) (int64, error) {
	orderID, err := s.ids.Next(ctx, "order")
	if err != nil {
		return 0, err
	}

	keys := []string{StockKey(voucherID), OrderSetKey(voucherID), s.stream}
	code, err := admitScript.Run(ctx, s.rdb, keys, voucherID, userID, orderID).Int64()
	if err != nil {
		return 0, errors.Wrapf(provider.Unavailable(err), "seckill: admit voucher %d", voucherID)
	}

	switch code {
	case codeAdmitted:
		s.log.Debug("seckill admitted", log.Fields{"voucher": voucherID, "user": userID, "order": orderID})
		return orderID, nil
	case codeOutOfStock:
		return 0, ErrOutOfStock
	case codeDuplicate:
		return 0, ErrDuplicatePurchase
	default:
		return 0, errors.Newf("seckill: unexpected admission code %d", code)
	}
}

// PublishStock sets the admission stock counter for voucherID.
func (s *Service) PublishStock(ctx context.Context, voucherID int64, stock int) error {
	if stock < 0 {
		return errors.Newf("seckill: negative stock %d", stock)
	}
	if err := s.rdb.Set(ctx, StockKey(voucherID), stock, 0).Err(); err != nil {
		return errors.Wrapf(provider.Unavailable(err), "seckill: publish stock %d", voucherID)
	}
	return nil
}

// PublishVoucher stores v and then opens it for admission with v.Stock units.
func (s *Service) PublishVoucher(ctx context.Context, v *store.SeckillVoucher) error {
	if s.vouchers == nil {
		return errors.New("seckill: no voucher store configured")
	}
	if err := s.vouchers.CreateVoucher(ctx, v); err != nil {
		return err
	}
	return s.PublishStock(ctx, v.VoucherID, v.Stock)
}
