// Copyright 2025 James Ross
package redisqueue

import "github.com/redis/go-redis/v9"

// enqueueScript atomically reserves an idempotency key (if any) and either
// returns the job already reserved under it, or records the new job and
// schedules it into the pending or scheduled zset.
//
// KEYS[1] job key
// KEYS[2] target zset (pending or scheduled)
// KEYS[3] per-queue sequence counter key
// KEYS[4] idempotency key ("" to skip)
// ARGV[1] jobID
// ARGV[2] record JSON
// ARGV[3] priority tier (0=Critical .. 3=Low, lower sorts first)
// ARGV[4] "sched" or "pending"
// ARGV[5] run_at unix nanos (used when ARGV[4]=="sched")
// ARGV[6] idempotency TTL seconds (0 = no expiry)
var enqueueScript = redis.NewScript(`
local idem_key = KEYS[4]
if idem_key ~= "" then
	local existing = redis.call('GET', idem_key)
	if existing then
		return existing
	end
end

local score
if ARGV[4] == "sched" then
	score = tonumber(ARGV[5])
else
	local seq = redis.call('INCR', KEYS[3])
	score = tonumber(ARGV[3]) * 1e15 + seq
end

redis.call('SET', KEYS[1], ARGV[2])
redis.call('ZADD', KEYS[2], score, ARGV[1])

if idem_key ~= "" then
	redis.call('SET', idem_key, ARGV[1])
	if tonumber(ARGV[6]) > 0 then
		redis.call('EXPIRE', idem_key, ARGV[6])
	end
end

return ARGV[1]
`)

// dequeueScript promotes due scheduled jobs into pending, then atomically
// pops the highest-priority, earliest-enqueued pending jobID across the
// given queues (checked in order) and marks it leased in the processing
// zset. It does not mutate the job's own JSON blob; the caller re-reads,
// mutates, and writes that back with a plain SET.
//
// KEYS[1..2n] alternating (pendingKey, scheduledKey) per queue, in order
// KEYS[2n+1]  processing zset key
// ARGV[1] now unix nanos
// ARGV[2] lease_until unix nanos
// ARGV[3] number of queues (n)
// ARGV[4] job key prefix, e.g. "dogqueue:tenant-a:job:"
var dequeueScript = redis.NewScript(`
local n = tonumber(ARGV[3])
local now = tonumber(ARGV[1])
local lease_until = ARGV[2]
local prefix = ARGV[4]

for i = 1, n do
	local pending = KEYS[(i - 1) * 2 + 1]
	local scheduled = KEYS[(i - 1) * 2 + 2]

	local ready = redis.call('ZRANGEBYSCORE', scheduled, '-inf', now)
	for _, jobID in ipairs(ready) do
		redis.call('ZREM', scheduled, jobID)
		redis.call('ZADD', pending, now, jobID)
	end

	local popped = redis.call('ZRANGE', pending, 0, 0)
	if popped[1] then
		local jobID = popped[1]
		redis.call('ZREM', pending, jobID)
		local data = redis.call('GET', prefix .. jobID)
		if data then
			redis.call('ZADD', KEYS[2 * n + 1], lease_until, jobID)
			return {jobID, data}
		end
	end
end

return false
`)

// casScript writes newValue to key only if its current value is still
// oldValue, returning 1 on success and 0 on a concurrent modification.
//
// KEYS[1] job key
// ARGV[1] expected previous value
// ARGV[2] new value
var casScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[2])
	return 1
end
return 0
`)
