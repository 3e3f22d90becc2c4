// Package shop serves shop reads through the stampede cache and keeps the
// cache consistent on writes (database first, then delete the cached key).
package shop

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/unkn0wn-root/stampede"
	"github.com/unkn0wn-root/stampede/codec"
	"github.com/unkn0wn-root/stampede/log"
	"github.com/unkn0wn-root/stampede/store"
)

// Namespace of shop entries in the cache ("cache:shop:<id>").
const Namespace = "shop"

var (
	// ErrNotFound is stampede.ErrNotFound, so either can be matched.
	ErrNotFound = stampede.ErrNotFound
	// ErrInvalidShop rejects writes that do not identify a shop.
	ErrInvalidShop = errors.New("shop: id is required")
)

// Repository is the relational side. *store.Store implements it.
type Repository interface {
	ShopByID(ctx context.Context, id int64) (store.Shop, error)
	UpdateShop(ctx context.Context, sh store.Shop) error
	ListShops(ctx context.Context, typeID int64, offset, limit int) ([]store.Shop, error)
}

// Loader adapts repo to the cache's LoadFunc. A missing row is found=false,
// which the cache turns into a null marker.
func Loader(repo Repository) stampede.LoadFunc[store.Shop] {
	return func(ctx context.Context, key string) (store.Shop, bool, error) {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id <= 0 {
			return store.Shop{}, false, nil
		}
		sh, err := repo.ShopByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return store.Shop{}, false, nil
		}
		if err != nil {
			return store.Shop{}, false, err
		}
		return sh, true, nil
	}
}

// NewCache fills the shop specific parts of opts (namespace, loader and a
// JSON codec unless one is set) and builds the cache.
func NewCache(opts stampede.Options[store.Shop], repo Repository) (stampede.Cache[store.Shop], error) {
	opts.Namespace = Namespace
	opts.Load = Loader(repo)
	if opts.Codec == nil {
		opts.Codec = codec.JSON[store.Shop]{}
	}
	return stampede.New(opts)
}

type Service struct {
	cache stampede.Cache[store.Shop]
	repo  Repository
	log   log.Logger
}

func NewService(cache stampede.Cache[store.Shop], repo Repository, logger log.Logger) *Service {
	return &Service{cache: cache, repo: repo, log: log.OrNop(logger)}
}

func key(id int64) string { return strconv.FormatInt(id, 10) }

// QueryByID returns the shop using the cache's configured strategy.
func (s *Service) QueryByID(ctx context.Context, id int64) (store.Shop, error) {
	if id <= 0 {
		return store.Shop{}, ErrNotFound
	}
	return s.cache.Get(ctx, key(id))
}

// Update writes sh to the database, then drops the cached copy. A failed
// drop is reported through the cache hooks, not returned.
func (s *Service) Update(ctx context.Context, sh store.Shop) error {
	if sh.ID <= 0 {
		return ErrInvalidShop
	}
	err := s.cache.Update(ctx, key(sh.ID), func(ctx context.Context) error {
		return s.repo.UpdateShop(ctx, sh)
	})
	if errors.Is(err, store.ErrNotFound) {
		return errors.Wrapf(ErrNotFound, "shop %d", sh.ID)
	}
	return err
}

// List pages shops of one type straight from the database.
func (s *Service) List(ctx context.Context, typeID int64, page, size int) ([]store.Shop, error) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 10
	}
	return s.repo.ListShops(ctx, typeID, (page-1)*size, size)
}

// Preheat loads ids and writes them as logical entries, for keys served with
// the LogicalExpire strategy. Missing shops are skipped. ttl 0 uses the
// cache's LogicalTTL.
func (s *Service) Preheat(ctx context.Context, ttl time.Duration, ids ...int64) error {
	var errs error
	for _, id := range ids {
		sh, err := s.repo.ShopByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			s.log.Warn("preheat: shop not found", log.Fields{"id": id})
			continue
		}
		if err == nil {
			err = s.cache.SetLogical(ctx, key(id), sh, ttl)
		}
		if err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "preheat shop %d", id))
			continue
		}
		s.log.Debug("preheat: shop cached", log.Fields{"id": id})
	}
	return errs
}
