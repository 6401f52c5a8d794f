package redis

const (
	// setDailyUsageScript atomically stores a cumulative daily total.
	// Totals never go down within a date; a smaller value is ignored.
	setDailyUsageScript = `
local usage_key = KEYS[1]     -- {prefix}dailyAppUsage

local field = ARGV[1]         -- {package}_{date}
local package_id = ARGV[2]
local date = ARGV[3]
local minutes = tonumber(ARGV[4])
local updated_at = ARGV[5]

local previous = 0
local raw = redis.call('HGET', usage_key, field)
if raw then
  local record = cjson.decode(raw)
  previous = tonumber(record['cumulative_minutes']) or 0
end

local current = previous
if (not raw) or minutes >= previous then
  current = minutes
  local record = {
    package_id = package_id,
    date = date,
    cumulative_minutes = current,
    last_updated = updated_at
  }
  redis.call('HSET', usage_key, field, cjson.encode(record))
end

return {previous, current}
`

	// deleteStaleUsageScript removes usage fields that still hold the value
	// observed by the caller. A record rewritten in between is kept.
	deleteStaleUsageScript = `
local usage_key = KEYS[1]     -- {prefix}dailyAppUsage

-- ARGV holds field, observed value pairs
local deleted = 0
for i = 1, #ARGV, 2 do
  local field = ARGV[i]
  local observed = ARGV[i + 1]
  if redis.call('HGET', usage_key, field) == observed then
    deleted = deleted + redis.call('HDEL', usage_key, field)
  end
end

return deleted
`

	// appendEventScript appends to the capped event list
	appendEventScript = `
local list_key = KEYS[1]      -- {prefix}thresholdEvents

local payload = ARGV[1]
local capacity = tonumber(ARGV[2])

redis.call('RPUSH', list_key, payload)
redis.call('LTRIM', list_key, -capacity, -1)

return redis.call('LLEN', list_key)
`
)
