package store

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("store: not found")
	// ErrStockInconsistent means the guarded decrement matched no row: the
	// voucher is missing or its stock is already zero even though admission
	// let the order through.
	ErrStockInconsistent = errors.New("store: stock inconsistent")
	// ErrDuplicateOrder means the (user, voucher) unique index rejected the
	// insert. The transaction was rolled back, stock included.
	ErrDuplicateOrder = errors.New("store: duplicate order")
)

// Store groups the relational operations the rest of the system needs.
// It is safe for concurrent use.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) ShopByID(ctx context.Context, id int64) (Shop, error) {
	var sh Shop
	err := s.db.WithContext(ctx).First(&sh, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Shop{}, ErrNotFound
	}
	if err != nil {
		return Shop{}, errors.Wrapf(err, "store: shop %d", id)
	}
	return sh, nil
}

// ListShops pages shops of one type ordered by id.
func (s *Store) ListShops(ctx context.Context, typeID int64, offset, limit int) ([]Shop, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	var out []Shop
	err := s.db.WithContext(ctx).
		Where("type_id = ?", typeID).
		Order("id").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrap(err, "store: list shops")
	}
	return out, nil
}

func (s *Store) CreateShop(ctx context.Context, sh *Shop) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(sh).Error, "store: create shop")
}

// UpdateShop overwrites every column of the row identified by sh.ID.
func (s *Store) UpdateShop(ctx context.Context, sh Shop) error {
	res := s.db.WithContext(ctx).
		Model(&Shop{ID: sh.ID}).
		Select("*").
		Omit("id", "created_at").
		Updates(&sh)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "store: update shop %d", sh.ID)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateVoucher(ctx context.Context, v *SeckillVoucher) error {
	return errors.Wrap(s.db.WithContext(ctx).Create(v).Error, "store: create voucher")
}

func (s *Store) VoucherByID(ctx context.Context, voucherID int64) (SeckillVoucher, error) {
	var v SeckillVoucher
	err := s.db.WithContext(ctx).First(&v, "voucher_id = ?", voucherID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SeckillVoucher{}, ErrNotFound
	}
	if err != nil {
		return SeckillVoucher{}, errors.Wrapf(err, "store: voucher %d", voucherID)
	}
	return v, nil
}

// CountOrders counts orders of userID for voucherID.
func (s *Store) CountOrders(ctx context.Context, userID, voucherID int64) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&VoucherOrder{}).
		Where("user_id = ? AND voucher_id = ?", userID, voucherID).
		Count(&n).Error
	if err != nil {
		return 0, errors.Wrap(err, "store: count orders")
	}
	return n, nil
}

func (s *Store) HasOrder(ctx context.Context, userID, voucherID int64) (bool, error) {
	n, err := s.CountOrders(ctx, userID, voucherID)
	return n > 0, err
}

// DecrementStock takes one unit of stock if any is left.
func (s *Store) DecrementStock(ctx context.Context, voucherID int64) error {
	return decrementStock(s.db.WithContext(ctx), voucherID)
}

func decrementStock(db *gorm.DB, voucherID int64) error {
	res := db.Model(&SeckillVoucher{}).
		Where("voucher_id = ? AND stock > 0", voucherID).
		Update("stock", gorm.Expr("stock - 1"))
	if res.Error != nil {
		return errors.Wrapf(res.Error, "store: decrement stock %d", voucherID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrStockInconsistent, "voucher %d", voucherID)
	}
	return nil
}

// PlaceOrder decrements stock and inserts o in one transaction.
func (s *Store) PlaceOrder(ctx context.Context, o *VoucherOrder) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := decrementStock(tx, o.VoucherID); err != nil {
			return err
		}
		if err := tx.Create(o).Error; err != nil {
			if isDuplicate(err) {
				return errors.Wrapf(ErrDuplicateOrder, "user %d voucher %d", o.UserID, o.VoucherID)
			}
			return errors.Wrap(err, "store: insert order")
		}
		return nil
	})
}

// isDuplicate recognises unique violations. TranslateError covers drivers
// that implement it; the message check covers the rest.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
