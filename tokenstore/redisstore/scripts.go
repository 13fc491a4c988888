package redisstore

// Every script runs atomically on the server. Claim checks use the caller's
// clock, passed in milliseconds, so all processes must keep clocks roughly in
// sync (within a fraction of the claim timeout).
//
// Error replies are matched by prefix in replyError.

// fetchScript claims KEYS[1] for ARGV[1] at ARGV[2] with timeout ARGV[3] and returns the token.
const fetchScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
local owner = redis.call('HGET', KEYS[1], 'owner')
local ts = tonumber(redis.call('HGET', KEYS[1], 'ts') or '0')
if owner and owner ~= '' and owner ~= ARGV[1] and tonumber(ARGV[2]) - ts <= tonumber(ARGV[3]) then
  return redis.error_reply('CLAIMED ' .. owner)
end
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'ts', ARGV[2])
return redis.call('HGET', KEYS[1], 'token')
`

// storeScript writes token ARGV[3] when ARGV[1] owns KEYS[1].
const storeScript = `
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
  return redis.error_reply('NOT_OWNER')
end
redis.call('HSET', KEYS[1], 'token', ARGV[3], 'ts', ARGV[2])
return 1
`

// extendScript refreshes the claim timestamp when ARGV[1] owns KEYS[1].
const extendScript = `
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
  return redis.error_reply('NOT_OWNER')
end
redis.call('HSET', KEYS[1], 'ts', ARGV[2])
return 1
`

// releaseScript clears the owner when ARGV[1] owns KEYS[1]; returns 0 otherwise.
const releaseScript = `
if redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'owner', '', 'ts', ARGV[2])
  return 1
end
return 0
`

// initScript creates KEYS[1] unclaimed and adds segment ARGV[1] to the set KEYS[2].
const initScript = `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return redis.error_reply('EXISTS')
end
redis.call('HSET', KEYS[1], 'token', ARGV[2], 'owner', '', 'ts', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`

// deleteScript removes KEYS[1] and segment ARGV[2] from KEYS[2] when ARGV[1] owns it.
const deleteScript = `
if redis.call('EXISTS', KEYS[1]) == 0 then
  return redis.error_reply('NOT_FOUND')
end
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
  return redis.error_reply('NOT_OWNER')
end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`
