// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStorage implements the Storage interface with in-memory maps.
// It is safe for concurrent use and suitable for development, tests and
// single-replica deployments that accept losing state on restart.
//
// Records are cloned on the way in and out so callers never share memory
// with the store.
type MemoryStorage struct {
	mu sync.RWMutex

	clients map[string]*Client

	// grants maps pairKey(userID, clientID) -> Grant.
	grants map[string]*Grant

	// codes maps code hash -> code. Used codes stay until they expire so a
	// replay can still be recognised.
	codes map[string]*AuthorizationCode

	refreshTokens map[string]*RefreshToken

	// pairTokens indexes refresh token hashes by pairKey(userID, clientID)
	// for revoke-all.
	pairTokens map[string]map[string]struct{}

	consents map[string]*PendingConsent
}

// NewMemoryStorage creates a new MemoryStorage instance. Expired records are
// removed by PurgeExpired, which the service's cleanup loop drives.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:       make(map[string]*Client),
		grants:        make(map[string]*Grant),
		codes:         make(map[string]*AuthorizationCode),
		refreshTokens: make(map[string]*RefreshToken),
		pairTokens:    make(map[string]map[string]struct{}),
		consents:      make(map[string]*PendingConsent),
	}
}

// Ping is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage.
func (*MemoryStorage) Close() error {
	return nil
}

// pairKey builds an unambiguous composite key for (userID, clientID).
// The length prefix keeps "a:b"+"c" distinct from "a"+"b:c".
func pairKey(userID, clientID string) string {
	var b strings.Builder
	b.Grow(len(userID) + len(clientID) + 8)
	b.WriteString(strconv.Itoa(len(userID)))
	b.WriteByte(':')
	b.WriteString(userID)
	b.WriteByte(':')
	b.WriteString(clientID)
	return b.String()
}

// -----------------------
// Clients
// -----------------------

// CreateClient stores a new client.
func (s *MemoryStorage) CreateClient(_ context.Context, client *Client) error {
	if client == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.clients[client.ID]; ok {
		return ErrAlreadyExists
	}
	s.clients[client.ID] = cloneClient(client)
	return nil
}

// GetClient retrieves a client by ID.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		return nil, notFound("client")
	}
	return cloneClient(client), nil
}

// DeactivateClient marks a client inactive.
func (s *MemoryStorage) DeactivateClient(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	client, ok := s.clients[id]
	if !ok {
		return notFound("client")
	}
	client.Active = false
	return nil
}

// -----------------------
// Grants
// -----------------------

// UpsertGrant creates or replaces a grant, keeping the original CreatedAt.
func (s *MemoryStorage) UpsertGrant(_ context.Context, grant *Grant) error {
	if grant == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(grant.UserID, grant.ClientID)
	stored := cloneGrant(grant)
	if existing, ok := s.grants[key]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	s.grants[key] = stored
	return nil
}

// GetGrant retrieves the grant of a user for a client.
func (s *MemoryStorage) GetGrant(_ context.Context, userID, clientID string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[pairKey(userID, clientID)]
	if !ok {
		return nil, notFound("grant")
	}
	return cloneGrant(grant), nil
}

// ListGrants returns all grants of a user ordered by client ID.
func (s *MemoryStorage) ListGrants(_ context.Context, userID string) ([]*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Grant
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, cloneGrant(g))
		}
	}
	slices.SortFunc(out, func(a, b *Grant) int {
		return strings.Compare(a.ClientID, b.ClientID)
	})
	return out, nil
}

// DeleteGrant removes the grant of a user for a client.
func (s *MemoryStorage) DeleteGrant(_ context.Context, userID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(userID, clientID)
	if _, ok := s.grants[key]; !ok {
		return notFound("grant")
	}
	delete(s.grants, key)
	return nil
}

// -----------------------
// Authorization codes
// -----------------------

// CreateAuthorizationCode stores a new authorization code.
func (s *MemoryStorage) CreateAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	if code == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.codes[code.CodeHash]; ok {
		return ErrAlreadyExists
	}
	stored := cloneCode(code)
	stored.Used = false
	s.codes[code.CodeHash] = stored
	return nil
}

// GetAuthorizationCode retrieves a code by hash.
func (s *MemoryStorage) GetAuthorizationCode(_ context.Context, codeHash string) (*AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code, ok := s.codes[codeHash]
	if !ok {
		return nil, notFound("authorization code")
	}
	return cloneCode(code), nil
}

// RedeemAuthorizationCode marks the code used and stores refresh under one lock.
func (s *MemoryStorage) RedeemAuthorizationCode(
	_ context.Context, codeHash string, refresh *RefreshToken,
) (*AuthorizationCode, error) {
	if refresh == nil {
		return nil, errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[codeHash]
	if !ok {
		return nil, notFound("authorization code")
	}
	if code.Used {
		return cloneCode(code), ErrCodeAlreadyUsed
	}
	if _, exists := s.refreshTokens[refresh.TokenHash]; exists {
		return nil, ErrAlreadyExists
	}

	code.Used = true
	s.putRefreshTokenLocked(refresh)
	return cloneCode(code), nil
}

// -----------------------
// Refresh tokens
// -----------------------

func (s *MemoryStorage) putRefreshTokenLocked(token *RefreshToken) {
	stored := cloneRefreshToken(token)
	stored.Revoked = false
	s.refreshTokens[token.TokenHash] = stored

	key := pairKey(token.UserID, token.ClientID)
	idx, ok := s.pairTokens[key]
	if !ok {
		idx = make(map[string]struct{})
		s.pairTokens[key] = idx
	}
	idx[token.TokenHash] = struct{}{}
}

// GetRefreshToken retrieves a refresh token by hash.
func (s *MemoryStorage) GetRefreshToken(_ context.Context, tokenHash string) (*RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, notFound("refresh token")
	}
	return cloneRefreshToken(token), nil
}

// RotateRefreshToken revokes oldHash and stores next under one lock.
func (s *MemoryStorage) RotateRefreshToken(_ context.Context, oldHash string, next *RefreshToken) error {
	if next == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.refreshTokens[oldHash]
	if !ok {
		return notFound("refresh token")
	}
	if old.Revoked {
		return ErrTokenRevoked
	}
	if _, exists := s.refreshTokens[next.TokenHash]; exists {
		return ErrAlreadyExists
	}

	old.Revoked = true
	s.putRefreshTokenLocked(next)
	return nil
}

// RevokeRefreshToken revokes a single refresh token.
func (s *MemoryStorage) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.refreshTokens[tokenHash]
	if !ok {
		return notFound("refresh token")
	}
	token.Revoked = true
	return nil
}

// RevokeRefreshTokensForUserClient revokes every refresh token of the pair.
func (s *MemoryStorage) RevokeRefreshTokensForUserClient(_ context.Context, userID, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for hash := range s.pairTokens[pairKey(userID, clientID)] {
		token, ok := s.refreshTokens[hash]
		if !ok || token.Revoked {
			continue
		}
		token.Revoked = true
		revoked++
	}
	return revoked, nil
}

// -----------------------
// Pending consents
// -----------------------

// StorePendingConsent stores a consent request awaiting a decision.
func (s *MemoryStorage) StorePendingConsent(_ context.Context, consent *PendingConsent) error {
	if consent == nil {
		return errNilRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.consents[consent.ID]; ok {
		return ErrAlreadyExists
	}
	s.consents[consent.ID] = clonePendingConsent(consent)
	return nil
}

// TakePendingConsent loads and deletes a consent request.
func (s *MemoryStorage) TakePendingConsent(_ context.Context, id string) (*PendingConsent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	consent, ok := s.consents[id]
	if !ok {
		return nil, notFound("pending consent")
	}
	delete(s.consents, id)
	return consent, nil
}

// -----------------------
// Maintenance
// -----------------------

// PurgeExpired removes expired codes, refresh tokens and consent requests.
// Keys are collected under the read lock and deleted under the write lock,
// re-checking expiry since a record may have been replaced in between.
func (s *MemoryStorage) PurgeExpired(_ context.Context, now time.Time) (PurgeResult, error) {
	s.mu.RLock()
	var expiredCodes, expiredTokens, expiredConsents []string
	for k, v := range s.codes {
		if v.IsExpired(now) {
			expiredCodes = append(expiredCodes, k)
		}
	}
	for k, v := range s.refreshTokens {
		if v.IsExpired(now) {
			expiredTokens = append(expiredTokens, k)
		}
	}
	for k, v := range s.consents {
		if v.IsExpired(now) {
			expiredConsents = append(expiredConsents, k)
		}
	}
	s.mu.RUnlock()

	var res PurgeResult
	if len(expiredCodes)+len(expiredTokens)+len(expiredConsents) == 0 {
		return res, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range expiredCodes {
		if v, ok := s.codes[k]; ok && v.IsExpired(now) {
			delete(s.codes, k)
			res.AuthorizationCodes++
		}
	}
	for _, k := range expiredTokens {
		v, ok := s.refreshTokens[k]
		if !ok || !v.IsExpired(now) {
			continue
		}
		delete(s.refreshTokens, k)
		key := pairKey(v.UserID, v.ClientID)
		if idx, ok := s.pairTokens[key]; ok {
			delete(idx, k)
			if len(idx) == 0 {
				delete(s.pairTokens, key)
			}
		}
		res.RefreshTokens++
	}
	for _, k := range expiredConsents {
		if v, ok := s.consents[k]; ok && v.IsExpired(now) {
			delete(s.consents, k)
			res.PendingConsents++
		}
	}
	return res, nil
}

// Stats provides statistics about the in-memory store contents.
type Stats struct {
	Clients            int
	Grants             int
	AuthorizationCodes int
	RefreshTokens      int
	PendingConsents    int
}

// Stats returns current record counts.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Clients:            len(s.clients),
		Grants:             len(s.grants),
		AuthorizationCodes: len(s.codes),
		RefreshTokens:      len(s.refreshTokens),
		PendingConsents:    len(s.consents),
	}
}

// Compile-time interface compliance check.
var _ Storage = (*MemoryStorage)(nil)
