// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"

	"github.com/sentinovo/carbuildervin-auth/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	// DefaultConnectAttempts bounds the initial connection retries.
	DefaultConnectAttempts = 5
)

// minRecordTTL is the shortest Redis TTL applied to an expiring record.
const minRecordTTL = time.Second

// Key kinds.
const (
	keyClient         = "client"
	keyGrant          = "grant"
	keyUserGrants     = "grants"
	keyCode           = "code"
	keyCodeUsed       = "code_used"
	keyRefresh        = "refresh"
	keyRefreshRevoked = "refresh_revoked"
	keyRefreshPair    = "refresh_pair"
	keyConsent        = "consent"
)

// RedisConfig holds Redis connection configuration.
// Either Addr (standalone) or SentinelConfig must be set.
type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
	DB   int    `mapstructure:"db" yaml:"db"`

	SentinelConfig *SentinelConfig `mapstructure:"sentinel" yaml:"sentinel"`
	ACLUserConfig  *ACLUserConfig  `mapstructure:"acl" yaml:"acl"`

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`

	// ConnectAttempts bounds the initial ping retries. Defaults to DefaultConnectAttempts.
	ConnectAttempts uint `mapstructure:"connect_attempts" yaml:"connect_attempts"`
}

// SentinelConfig contains Redis Sentinel configuration.
type SentinelConfig struct {
	MasterName    string   `mapstructure:"master_name" yaml:"master_name"`
	SentinelAddrs []string `mapstructure:"addrs" yaml:"addrs"`
}

// ACLUserConfig contains Redis ACL user authentication configuration.
type ACLUserConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
}

// RedisStorage implements the Storage interface on Redis, standalone or
// behind Sentinel. Multi-key scripts assume a single keyspace and are not
// cluster-safe.
//
// Expiring records carry a Redis TTL, so the server keeps working even when
// PurgeExpired never runs. Used codes and revoked refresh tokens are tracked
// with separate marker keys sharing the record TTL, which lets the markers be
// set with SET NX for atomic state transitions.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage connects to Redis and verifies the connection, retrying
// with exponential backoff.
func NewRedisStorage(ctx context.Context, cfg RedisConfig) (*RedisStorage, error) {
	if err := validateRedisConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid redis configuration: %w", err)
	}

	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.ConnectAttempts == 0 {
		cfg.ConnectAttempts = DefaultConnectAttempts
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}

	var username, password string
	if cfg.ACLUserConfig != nil {
		username = cfg.ACLUserConfig.Username
		password = cfg.ACLUserConfig.Password
	}

	var client redis.UniversalClient
	if cfg.SentinelConfig != nil {
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.SentinelConfig.MasterName,
			SentinelAddrs: cfg.SentinelConfig.SentinelAddrs,
			DB:            cfg.DB,
			Username:      username,
			Password:      password,
			DialTimeout:   cfg.DialTimeout,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		client = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			DB:           cfg.DB,
			Username:     username,
			Password:     password,
			DialTimeout:  cfg.DialTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	_, err := backoff.Retry(ctx, func() (string, error) {
		return client.Ping(ctx).Result()
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(cfg.ConnectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warnw("redis not reachable, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStorageWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStorageWithClient creates a RedisStorage with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	return &RedisStorage{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func validateRedisConfig(cfg *RedisConfig) error {
	if cfg.SentinelConfig == nil {
		if cfg.Addr == "" {
			return errors.New("either addr or sentinel configuration is required")
		}
		return nil
	}
	if cfg.SentinelConfig.MasterName == "" {
		return errors.New("sentinel master name is required")
	}
	if len(cfg.SentinelConfig.SentinelAddrs) == 0 {
		return errors.New("at least one sentinel address is required")
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *RedisStorage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStorage) key(kind, id string) string {
	return s.keyPrefix + kind + ":" + id
}

// recordTTL derives a Redis TTL from the lifetime of a record rather than the
// wall clock, so records created under an injected clock still get a sane TTL.
func recordTTL(createdAt, expiresAt time.Time) time.Duration {
	var ttl time.Duration
	if createdAt.IsZero() {
		ttl = time.Until(expiresAt)
	} else {
		ttl = expiresAt.Sub(createdAt)
	}
	if ttl < minRecordTTL {
		ttl = minRecordTTL
	}
	return ttl
}

// -----------------------
// Clients
// -----------------------

// CreateClient stores a new client. Clients never expire.
func (s *RedisStorage) CreateClient(ctx context.Context, client *Client) error {
	if client == nil {
		return errNilRecord
	}
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(keyClient, client.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *RedisStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	data, err := s.client.Get(ctx, s.key(keyClient, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("client")
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	var client Client
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// DeactivateClient marks a client inactive. The read-modify-write runs under
// WATCH and is retried when another writer touches the key.
func (s *RedisStorage) DeactivateClient(ctx context.Context, id string) error {
	key := s.key(keyClient, id)
	deactivate := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return notFound("client")
			}
			return fmt.Errorf("failed to get client: %w", err)
		}
		var client Client
		if err := json.Unmarshal(data, &client); err != nil {
			return fmt.Errorf("failed to unmarshal client: %w", err)
		}
		if !client.Active {
			return nil
		}
		client.Active = false
		updated, err := json.Marshal(&client)
		if err != nil {
			return fmt.Errorf("failed to marshal client: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		return err
	}

	for range maxWatchRetries {
		err := s.client.Watch(ctx, deactivate, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to deactivate client: %w", err)
		}
		return err
	}
	return fmt.Errorf("failed to deactivate client: %w", redis.TxFailedErr)
}

// -----------------------
// Grants
// -----------------------

// Grants are hashes so created_at can be preserved with HSETNX inside a
// MULTI block. The per-user set indexes client IDs for ListGrants.
const (
	grantFieldUserID    = "user_id"
	grantFieldClientID  = "client_id"
	grantFieldScopes    = "scopes"
	grantFieldCreatedAt = "created_at"
	grantFieldUpdatedAt = "updated_at"
)

// UpsertGrant creates or replaces a grant, keeping the original CreatedAt.
func (s *RedisStorage) UpsertGrant(ctx context.Context, grant *Grant) error {
	if grant == nil {
		return errNilRecord
	}
	key := s.key(keyGrant, pairKey(grant.UserID, grant.ClientID))
	scopes, err := json.Marshal(grant.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal grant scopes: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, grantFieldCreatedAt, strconv.FormatInt(grant.CreatedAt.UnixNano(), 10))
		pipe.HSet(ctx, key,
			grantFieldUserID, grant.UserID,
			grantFieldClientID, grant.ClientID,
			grantFieldScopes, string(scopes),
			grantFieldUpdatedAt, strconv.FormatInt(grant.UpdatedAt.UnixNano(), 10),
		)
		pipe.SAdd(ctx, s.key(keyUserGrants, grant.UserID), grant.ClientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	return nil
}

// GetGrant retrieves the grant of a user for a client.
func (s *RedisStorage) GetGrant(ctx context.Context, userID, clientID string) (*Grant, error) {
	fields, err := s.client.HGetAll(ctx, s.key(keyGrant, pairKey(userID, clientID))).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	if len(fields) == 0 {
		return nil, notFound("grant")
	}
	return decodeGrant(fields)
}

func decodeGrant(fields map[string]string) (*Grant, error) {
	grant := &Grant{
		UserID:   fields[grantFieldUserID],
		ClientID: fields[grantFieldClientID],
	}
	if err := json.Unmarshal([]byte(fields[grantFieldScopes]), &grant.Scopes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant scopes: %w", err)
	}
	created, err := strconv.ParseInt(fields[grantFieldCreatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid grant created_at: %w", err)
	}
	updated, err := strconv.ParseInt(fields[grantFieldUpdatedAt], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid grant updated_at: %w", err)
	}
	grant.CreatedAt = time.Unix(0, created).UTC()
	grant.UpdatedAt = time.Unix(0, updated).UTC()
	return grant, nil
}

// ListGrants returns all grants of a user ordered by client ID.
func (s *RedisStorage) ListGrants(ctx context.Context, userID string) ([]*Grant, error) {
	setKey := s.key(keyUserGrants, userID)
	clientIDs, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	if len(clientIDs) == 0 {
		return nil, nil
	}
	slices.Sort(clientIDs)

	cmds := make([]*redis.MapStringStringCmd, len(clientIDs))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, clientID := range clientIDs {
			cmds[i] = pipe.HGetAll(ctx, s.key(keyGrant, pairKey(userID, clientID)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}

	var (
		grants []*Grant
		stale  []any
	)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, clientIDs[i])
			continue
		}
		grant, err := decodeGrant(fields)
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	if len(stale) > 0 {
		if err := s.client.SRem(ctx, setKey, stale...).Err(); err != nil {
			logger.Debugw("failed to prune grant index", "user_id", userID, "error", err)
		}
	}
	return grants, nil
}

// DeleteGrant removes the grant of a user for a client.
func (s *RedisStorage) DeleteGrant(ctx context.Context, userID, clientID string) error {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.key(keyGrant, pairKey(userID, clientID)))
		pipe.SRem(ctx, s.key(keyUserGrants, userID), clientID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if del.Val() == 0 {
		return notFound("grant")
	}
	return nil
}

// -----------------------
// Authorization codes
// -----------------------

// CreateAuthorizationCode stores a new authorization code.
func (s *RedisStorage) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil {
		return errNilRecord
	}
	stored := cloneCode(code)
	stored.Used = false
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to marshal authorization code: %w", err)
	}

	ttl := recordTTL(code.CreatedAt, code.ExpiresAt)
	ok, err := s.client.SetNX(ctx, s.key(keyCode, code.CodeHash), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store authorization code: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// GetAuthorizationCode retrieves a code by hash.
func (s *RedisStorage) GetAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	vals, err := s.client.MGet(ctx, s.key(keyCode, codeHash), s.key(keyCodeUsed, codeHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get authorization code: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, notFound("authorization code")
	}

	var code AuthorizationCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	code.Used = vals[1] != nil
	return &code, nil
}

// redeemCodeScript marks a code used and stores the refresh token minted for
// it in one step.
//
// KEYS: code, code_used, refresh, refresh_pair
// ARGV: refresh JSON, refresh TTL in ms, refresh hash
// Returns {status, code JSON}: 0 not found, 1 redeemed, 2 already used,
// 3 refresh token collision.
var redeemCodeScript = redis.NewScript(`
local code = redis.call('GET', KEYS[1])
if not code then
  return {0, ''}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {2, code}
end
if redis.call('EXISTS', KEYS[3]) == 1 then
  return {3, ''}
end
local pttl = redis.call('PTTL', KEYS[1])
if pttl > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', pttl)
else
  redis.call('SET', KEYS[2], '1')
end
local ttl = tonumber(ARGV[2])
redis.call('SET', KEYS[3], ARGV[1], 'PX', ttl)
redis.call('SADD', KEYS[4], ARGV[3])
if redis.call('PTTL', KEYS[4]) < ttl then
  redis.call('PEXPIRE', KEYS[4], ttl)
end
return {1, code}
`)

// maxWatchRetries bounds optimistic transactions that lose a WATCH race.
const maxWatchRetries = 3

const (
	scriptNotFound  = 0
	scriptOK        = 1
	scriptConflict  = 2
	scriptCollision = 3
)

// RedeemAuthorizationCode marks the code used and stores refresh atomically.
func (s *RedisStorage) RedeemAuthorizationCode(
	ctx context.Context, codeHash string, refresh *RefreshToken,
) (*AuthorizationCode, error) {
	if refresh == nil {
		return nil, errNilRecord
	}
	data, ttl, err := marshalRefreshToken(refresh)
	if err != nil {
		return nil, err
	}

	res, err := redeemCodeScript.Run(ctx, s.client,
		[]string{
			s.key(keyCode, codeHash),
			s.key(keyCodeUsed, codeHash),
			s.key(keyRefresh, refresh.TokenHash),
			s.key(keyRefreshPair, pairKey(refresh.UserID, refresh.ClientID)),
		},
		data, ttl.Milliseconds(), refresh.TokenHash,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("failed to redeem authorization code: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected redeem script result: %v", res)
	}

	status, _ := res[0].(int64)
	switch status {
	case scriptNotFound:
		return nil, notFound("authorization code")
	case scriptCollision:
		return nil, ErrAlreadyExists
	}

	raw, _ := res[1].(string)
	var code AuthorizationCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization code: %w", err)
	}
	code.Used = true

	if status == scriptConflict {
		return &code, ErrCodeAlreadyUsed
	}
	return &code, nil
}

// -----------------------
// Refresh tokens
// -----------------------

func marshalRefreshToken(token *RefreshToken) ([]byte, time.Duration, error) {
	stored := cloneRefreshToken(token)
	stored.Revoked = false
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal refresh token: %w", err)
	}
	return data, recordTTL(token.CreatedAt, token.ExpiresAt), nil
}

// GetRefreshToken retrieves a refresh token by hash.
func (s *RedisStorage) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	vals, err := s.client.MGet(ctx, s.key(keyRefresh, tokenHash), s.key(keyRefreshRevoked, tokenHash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get refresh token: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, notFound("refresh token")
	}

	var token RefreshToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, fmt.Errorf("failed to unmarshal refresh token: %w", err)
	}
	token.Revoked = vals[1] != nil
	return &token, nil
}

// rotateRefreshScript revokes a refresh token and stores its successor.
//
// KEYS: old refresh, old refresh_revoked, new refresh, new refresh_pair
// ARGV: new refresh JSON, new TTL in ms, new hash
var rotateRefreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
if redis.call('EXISTS', KEYS[2]) == 1 then
  return 2
end
if redis.call('EXISTS', KEYS[3]) == 1 then
  return 3
end
local pttl = redis.call('PTTL', KEYS[1])
if pttl > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', pttl)
else
  redis.call('SET', KEYS[2], '1')
end
local ttl = tonumber(ARGV[2])
redis.call('SET', KEYS[3], ARGV[1], 'PX', ttl)
redis.call('SADD', KEYS[4], ARGV[3])
if redis.call('PTTL', KEYS[4]) < ttl then
  redis.call('PEXPIRE', KEYS[4], ttl)
end
return 1
`)

// RotateRefreshToken revokes oldHash and stores next atomically.
func (s *RedisStorage) RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken) error {
	if next == nil {
		return errNilRecord
	}
	data, ttl, err := marshalRefreshToken(next)
	if err != nil {
		return err
	}

	status, err := rotateRefreshScript.Run(ctx, s.client,
		[]string{
			s.key(keyRefresh, oldHash),
			s.key(keyRefreshRevoked, oldHash),
			s.key(keyRefresh, next.TokenHash),
			s.key(keyRefreshPair, pairKey(next.UserID, next.ClientID)),
		},
		data, ttl.Milliseconds(), next.TokenHash,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	switch status {
	case scriptOK:
		return nil
	case scriptNotFound:
		return notFound("refresh token")
	case scriptConflict:
		return ErrTokenRevoked
	case scriptCollision:
		return ErrAlreadyExists
	default:
		return fmt.Errorf("unexpected rotate script result: %d", status)
	}
}

// revokeRefreshScript sets the revoked marker of a single token.
//
// KEYS: refresh, refresh_revoked
var revokeRefreshScript = redis.NewScript(`
local pttl = redis.call('PTTL', KEYS[1])
if pttl == -2 then
  return 0
end
if pttl > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', pttl)
else
  redis.call('SET', KEYS[2], '1')
end
return 1
`)

// RevokeRefreshToken revokes a single refresh token.
func (s *RedisStorage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	status, err := revokeRefreshScript.Run(ctx, s.client,
		[]string{s.key(keyRefresh, tokenHash), s.key(keyRefreshRevoked, tokenHash)},
	).Int()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if status == scriptNotFound {
		return notFound("refresh token")
	}
	return nil
}

// revokePairScript revokes every token in a pair index and prunes members
// whose token no longer exists. Token keys are derived from ARGV prefixes.
//
// KEYS: refresh_pair
// ARGV: refresh key prefix, refresh_revoked key prefix
var revokePairScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local n = 0
for _, h in ipairs(members) do
  local pttl = redis.call('PTTL', ARGV[1] .. h)
  if pttl == -2 then
    redis.call('SREM', KEYS[1], h)
  else
    local marker = ARGV[2] .. h
    if redis.call('EXISTS', marker) == 0 then
      if pttl > 0 then
        redis.call('SET', marker, '1', 'PX', pttl)
      else
        redis.call('SET', marker, '1')
      end
      n = n + 1
    end
  end
end
return n
`)

// RevokeRefreshTokensForUserClient revokes every refresh token of the pair.
func (s *RedisStorage) RevokeRefreshTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	n, err := revokePairScript.Run(ctx, s.client,
		[]string{s.key(keyRefreshPair, pairKey(userID, clientID))},
		s.key(keyRefresh, ""), s.key(keyRefreshRevoked, ""),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to revoke refresh tokens: %w", err)
	}
	return n, nil
}

// -----------------------
// Pending consents
// -----------------------

// StorePendingConsent stores a consent request awaiting a decision.
func (s *RedisStorage) StorePendingConsent(ctx context.Context, consent *PendingConsent) error {
	if consent == nil {
		return errNilRecord
	}
	data, err := json.Marshal(consent)
	if err != nil {
		return fmt.Errorf("failed to marshal pending consent: %w", err)
	}

	ttl := recordTTL(consent.CreatedAt, consent.ExpiresAt)
	ok, err := s.client.SetNX(ctx, s.key(keyConsent, consent.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store pending consent: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

// TakePendingConsent loads and deletes a consent request with GETDEL.
func (s *RedisStorage) TakePendingConsent(ctx context.Context, id string) (*PendingConsent, error) {
	data, err := s.client.GetDel(ctx, s.key(keyConsent, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, notFound("pending consent")
		}
		return nil, fmt.Errorf("failed to take pending consent: %w", err)
	}

	var consent PendingConsent
	if err := json.Unmarshal(data, &consent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending consent: %w", err)
	}
	return &consent, nil
}

// -----------------------
// Maintenance
// -----------------------

const scanBatch = 100

// expiring is implemented by every record with an expiry.
type expiring interface {
	IsExpired(now time.Time) bool
}

// PurgeExpired removes records whose stored expiry has passed, then prunes
// refresh pair indexes that point at missing tokens. Redis TTLs already
// bound record lifetime; this pass applies the caller's clock exactly.
func (s *RedisStorage) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	var res PurgeResult
	var err error

	res.AuthorizationCodes, err = s.purgeKind(ctx, now, keyCode, func() expiring { return &AuthorizationCode{} },
		func(id string, _ expiring) ([]string, error) {
			return []string{s.key(keyCode, id), s.key(keyCodeUsed, id)}, nil
		})
	if err != nil {
		return res, err
	}

	res.RefreshTokens, err = s.purgeKind(ctx, now, keyRefresh, func() expiring { return &RefreshToken{} },
		func(id string, rec expiring) ([]string, error) {
			token := rec.(*RefreshToken)
			if err := s.client.SRem(ctx, s.key(keyRefreshPair, pairKey(token.UserID, token.ClientID)), id).Err(); err != nil {
				return nil, fmt.Errorf("failed to prune refresh index: %w", err)
			}
			return []string{s.key(keyRefresh, id), s.key(keyRefreshRevoked, id)}, nil
		})
	if err != nil {
		return res, err
	}

	res.PendingConsents, err = s.purgeKind(ctx, now, keyConsent, func() expiring { return &PendingConsent{} },
		func(id string, _ expiring) ([]string, error) {
			return []string{s.key(keyConsent, id)}, nil
		})
	if err != nil {
		return res, err
	}

	return res, s.pruneRefreshPairs(ctx)
}

func (s *RedisStorage) purgeKind(
	ctx context.Context,
	now time.Time,
	kind string,
	newRecord func() expiring,
	keysFor func(id string, rec expiring) ([]string, error),
) (int, error) {
	prefix := s.key(kind, "")
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()

	removed := 0
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return removed, fmt.Errorf("failed to read %s record: %w", kind, err)
		}

		rec := newRecord()
		if err := json.Unmarshal(data, rec); err != nil {
			logger.Warnw("skipping undecodable record during purge", "key", key, "error", err)
			continue
		}
		if !rec.IsExpired(now) {
			continue
		}

		keys, err := keysFor(key[len(prefix):], rec)
		if err != nil {
			return removed, err
		}
		n, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return removed, fmt.Errorf("failed to delete %s record: %w", kind, err)
		}
		if n > 0 {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan %s records: %w", kind, err)
	}
	return removed, nil
}

func (s *RedisStorage) pruneRefreshPairs(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.key(keyRefreshPair, "")+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		setKey := iter.Val()
		members, err := s.client.SMembers(ctx, setKey).Result()
		if err != nil {
			return fmt.Errorf("failed to read refresh index: %w", err)
		}
		var stale []any
		for _, hash := range members {
			exists, err := s.client.Exists(ctx, s.key(keyRefresh, hash)).Result()
			if err != nil {
				return fmt.Errorf("failed to check refresh token: %w", err)
			}
			if exists == 0 {
				stale = append(stale, hash)
			}
		}
		if len(stale) > 0 {
			if err := s.client.SRem(ctx, setKey, stale...).Err(); err != nil {
				return fmt.Errorf("failed to prune refresh index: %w", err)
			}
		}
	}
	return iter.Err()
}

// Compile-time interface compliance check.
var _ Storage = (*RedisStorage)(nil)
