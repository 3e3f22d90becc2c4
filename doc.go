// Package stampede is a cache-aside layer that keeps a relational store
// standing under read storms.
//
// Reads go through one of three strategies:
//
//   - PassThrough: a miss loads from the store; keys the store does not have
//     are remembered with a short-lived null marker so repeated lookups for
//     them never reach the store (cache penetration).
//   - Mutex: like PassThrough, but only the holder of a per-key lease loads.
//     Everyone else waits RetryDelay and re-reads the cache (breakdown).
//   - LogicalExpire: entries never expire in the store; the frame carries an
//     expireAt. Stale reads return immediately while one caller rebuilds in
//     the background on a bounded pool (hot keys).
//
// Keys:
//
//	cache:<ns>:<key>  - cached frame (value, null marker or logical)
//	lock:<ns>:<key>   - rebuild lease
//
// Writes go to the store first, then delete the cached key:
//
//	err := cache.Update(ctx, "42", func(ctx context.Context) error {
//	    return repo.UpdateShop(ctx, shop)
//	})
package stampede
