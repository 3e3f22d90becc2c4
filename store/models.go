package store

import "time"

// Shop is the cached read model served by the shop service.
type Shop struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	TypeID    int64     `gorm:"index;not null" json:"typeId"`
	Images    string    `gorm:"size:1024" json:"images"`
	Area      string    `gorm:"size:128" json:"area"`
	Address   string    `gorm:"size:255" json:"address"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	AvgPrice  int64     `json:"avgPrice"`
	Sold      int       `json:"sold"`
	Comments  int       `json:"comments"`
	Score     int       `json:"score"`
	OpenHours string    `gorm:"size:32" json:"openHours"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`
}

// SeckillVoucher holds the authoritative stock of a flash-sale voucher.
type SeckillVoucher struct {
	VoucherID int64     `gorm:"primaryKey;autoIncrement:false" json:"voucherId"`
	ShopID    int64     `gorm:"index" json:"shopId"`
	Title     string    `gorm:"size:255" json:"title"`
	Stock     int       `gorm:"not null;check:stock >= 0" json:"stock"`
	BeginTime time.Time `json:"beginTime"`
	EndTime   time.Time `json:"endTime"`
	CreatedAt time.Time `json:"createTime"`
	UpdatedAt time.Time `json:"updateTime"`
}

// VoucherOrder is one persisted seckill purchase. ID comes from idgen.
type VoucherOrder struct {
	ID        int64     `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID    int64     `gorm:"not null;uniqueIndex:idx_order_user_voucher" json:"userId"`
	VoucherID int64     `gorm:"not null;uniqueIndex:idx_order_user_voucher" json:"voucherId"`
	CreatedAt time.Time `json:"createTime"`
}
