package seckill

import "github.com/redis/go-redis/v9"

// Admission result codes returned by admitScript.
const (
	codeAdmitted   = 0
	codeOutOfStock = 1
	codeDuplicate  = 2
)

// admitScript checks stock and one-per-user eligibility, then reserves the
// unit and enqueues the order, all in one atomic step.
//
// KEYS[1] stock key      seckill:stock:<voucherId>
// KEYS[2] buyers set     seckill:order:<voucherId>
// KEYS[3] order stream   stream.orders
// ARGV[1] voucherId  ARGV[2] userId  ARGV[3] orderId
//
// A missing stock key reads as out of stock.
var admitScript = redis.NewScript(`
local stock = tonumber(redis.call('get', KEYS[1]))
if stock == nil or stock <= 0 then
	return 1
end
if redis.call('sismember', KEYS[2], ARGV[2]) == 1 then
	return 2
end
redis.call('incrby', KEYS[1], -1)
redis.call('sadd', KEYS[2], ARGV[2])
redis.call('xadd', KEYS[3], '*', 'userId', ARGV[2], 'voucherId', ARGV[1], 'id', ARGV[3])
return 0
`)

func StockKey(voucherID int64) string    { return "seckill:stock:" + itoa(voucherID) }
func OrderSetKey(voucherID int64) string { return "seckill:order:" + itoa(voucherID) }
