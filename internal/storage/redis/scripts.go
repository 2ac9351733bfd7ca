package redis

const (
	// saveDescriptorScript replaces the mirrored descriptor unless it is an
	// older view of the same session. Returns STALE as an error reply when
	// total_pause_duration would move backwards.
	saveDescriptorScript = `
local key = KEYS[1]              -- ktrack:descriptor:current

local id = ARGV[1]
local total = tonumber(ARGV[2])
local payload = ARGV[3]
local saved_at = ARGV[4]

local stored_id = redis.call('HGET', key, 'id')
if stored_id == id then
  local stored_total = tonumber(redis.call('HGET', key, 'total_pause_duration'))
  if stored_total and total < stored_total then
    return redis.error_reply('STALE ' .. stored_total)
  end
end

redis.call('HSET', key,
  'id', id,
  'total_pause_duration', ARGV[2],
  'payload', payload,
  'saved_at', saved_at
)

return 'OK'
`
)
