package counter

import "github.com/redis/go-redis/v9"

// The four scripts below are the store's entire mutation surface for holds
// and reserved counters. Redis executes each one atomically, which is what
// guarantees that reserved always equals the sum of live hold quantities and
// that availability checks never interleave with concurrent reservations.
//
// All scripts reply with a cjson-encoded object so the Go side decodes one
// shape regardless of outcome. Time is passed in as now_ms by the caller so
// the engine and the reaper share a single clock.
//
// The expiry index orders holds by deadline; holds sharing the same
// millisecond deadline come back in the index's lexicographic member order,
// which is safe because releasing expired holds is commutative.

// reserveScript creates a hold after an atomic availability check.
// Replaying an identical (cart, sku, qty) refreshes the lease instead of
// double-counting; a replay with a different qty is a conflict.
var reserveScript = redis.NewScript(`
-- KEYS: inv:{sku}, hold:{cart_id}:{sku}, event stream (may be empty), holds:exp
-- ARGV: hold_id, sku, cart_id, qty, ttl_ms, now_ms
local invKey  = KEYS[1]
local holdKey = KEYS[2]
local stream  = KEYS[3]
local zsetKey = KEYS[4]
local holdId  = ARGV[1]
local sku     = ARGV[2]
local cartId  = ARGV[3]
local qty     = tonumber(ARGV[4])
local ttlMs   = tonumber(ARGV[5])
local nowMs   = tonumber(ARGV[6])

-- Lua numbers are doubles; past 2^53 integer arithmetic stops being exact.
if nowMs + ttlMs >= 2^53 then
  return redis.error_reply('expiry overflow')
end

if redis.call('EXISTS', holdKey) == 1 then
  local cur = tonumber(redis.call('HGET', holdKey, 'qty')) or 0
  if cur ~= qty then
    return cjson.encode({ok=false, reason='conflict', existing_qty=cur})
  end
  -- Idempotent replay: refresh the lease, leave reserved untouched.
  local exp = nowMs + ttlMs
  redis.call('HSET', holdKey, 'expires_at', exp)
  redis.call('ZADD', zsetKey, exp, holdId)
  local vals = redis.call('HMGET', invKey, 'total', 'reserved')
  local total    = tonumber(vals[1]) or 0
  local reserved = tonumber(vals[2]) or 0
  return cjson.encode({ok=true, idempotent=true, expires_at=exp, available=total-reserved})
end

local vals = redis.call('HMGET', invKey, 'total', 'reserved')
local total     = tonumber(vals[1]) or 0
local reserved  = tonumber(vals[2]) or 0
local available = total - reserved
if available < qty then
  return cjson.encode({ok=false, reason='insufficient', available=available})
end

local exp = nowMs + ttlMs
redis.call('HINCRBY', invKey, 'reserved', qty)
redis.call('HSET', holdKey,
  'cart_id', cartId,
  'sku', sku,
  'qty', qty,
  'created_at', nowMs,
  'expires_at', exp)
redis.call('ZADD', zsetKey, exp, holdId)

if #stream > 0 then
  redis.call('XADD', stream, '*',
    'kind', 'hold_created', 'sku', sku, 'cart_id', cartId,
    'qty', qty, 'ts', nowMs, 'expires_at', exp)
end

return cjson.encode({ok=true, expires_at=exp, available=available-qty})
`)

// extendScript pushes a hold's expiry forward. The new deadline is based on
// max(current, now) so an extension can never move a deadline backwards.
var extendScript = redis.NewScript(`
-- KEYS: hold:{cart_id}:{sku}, holds:exp, event stream (may be empty)
-- ARGV: hold_id, sku, cart_id, add_ms, now_ms
local holdKey = KEYS[1]
local zsetKey = KEYS[2]
local stream  = KEYS[3]
local holdId  = ARGV[1]
local sku     = ARGV[2]
local cartId  = ARGV[3]
local addMs   = tonumber(ARGV[4])
local nowMs   = tonumber(ARGV[5])

if redis.call('EXISTS', holdKey) == 0 then
  return cjson.encode({ok=false, reason='no_hold'})
end

local cur = tonumber(redis.call('HGET', holdKey, 'expires_at')) or nowMs
local newExp = math.max(cur, nowMs) + addMs
if newExp >= 2^53 then
  return redis.error_reply('expiry overflow')
end
redis.call('HSET', holdKey, 'expires_at', newExp)
redis.call('ZADD', zsetKey, newExp, holdId)

if #stream > 0 then
  local qty = tonumber(redis.call('HGET', holdKey, 'qty')) or 0
  redis.call('XADD', stream, '*',
    'kind', 'hold_extended', 'sku', sku, 'cart_id', cartId,
    'qty', qty, 'ts', nowMs, 'expires_at', newExp)
end

return cjson.encode({ok=true, expires_at=newExp})
`)

// commitLocalScript settles a hold after the durable store has already been
// decremented: it returns the hold's capacity to the reserved counter and
// deletes the lease. It never touches total.
var commitLocalScript = redis.NewScript(`
-- KEYS: inv:{sku}, hold:{cart_id}:{sku}, event stream (may be empty), holds:exp
-- ARGV: hold_id, sku, cart_id, now_ms
local invKey  = KEYS[1]
local holdKey = KEYS[2]
local stream  = KEYS[3]
local zsetKey = KEYS[4]
local holdId  = ARGV[1]
local sku     = ARGV[2]
local cartId  = ARGV[3]
local nowMs   = tonumber(ARGV[4])

if redis.call('EXISTS', holdKey) == 0 then
  return cjson.encode({ok=false, reason='no_hold'})
end

local qty      = tonumber(redis.call('HGET', holdKey, 'qty')) or 0
local reserved = tonumber(redis.call('HGET', invKey, 'reserved')) or 0
-- Clamp at zero; under correct operation qty never exceeds reserved.
if qty >= reserved then
  redis.call('HSET', invKey, 'reserved', 0)
else
  redis.call('HINCRBY', invKey, 'reserved', -qty)
end
redis.call('DEL', holdKey)
redis.call('ZREM', zsetKey, holdId)

if #stream > 0 then
  redis.call('XADD', stream, '*',
    'kind', 'hold_committed', 'sku', sku, 'cart_id', cartId,
    'qty', qty, 'ts', nowMs)
end

return cjson.encode({ok=true, qty=qty})
`)

// releaseScript returns a hold's capacity and deletes the lease. Releasing a
// missing hold is an idempotent no-op; the index entry is still cleaned up so
// the reaper never loops on a stale member.
var releaseScript = redis.NewScript(`
-- KEYS: inv:{sku}, hold:{cart_id}:{sku}, event stream (may be empty), holds:exp
-- ARGV: hold_id, sku, cart_id, reason, now_ms
local invKey  = KEYS[1]
local holdKey = KEYS[2]
local stream  = KEYS[3]
local zsetKey = KEYS[4]
local holdId  = ARGV[1]
local sku     = ARGV[2]
local cartId  = ARGV[3]
local reason  = ARGV[4]
local nowMs   = tonumber(ARGV[5])

if redis.call('EXISTS', holdKey) == 0 then
  redis.call('ZREM', zsetKey, holdId)
  return cjson.encode({ok=true, absent=true})
end

local qty      = tonumber(redis.call('HGET', holdKey, 'qty')) or 0
local reserved = tonumber(redis.call('HGET', invKey, 'reserved')) or 0
if qty >= reserved then
  redis.call('HSET', invKey, 'reserved', 0)
else
  redis.call('HINCRBY', invKey, 'reserved', -qty)
end
redis.call('DEL', holdKey)
redis.call('ZREM', zsetKey, holdId)

if #stream > 0 then
  redis.call('XADD', stream, '*',
    'kind', 'hold_released', 'sku', sku, 'cart_id', cartId,
    'qty', qty, 'ts', nowMs, 'reason', reason)
end

return cjson.encode({ok=true, qty=qty})
`)
