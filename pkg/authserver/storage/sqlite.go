// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sentinovo/carbuildervin-auth/pkg/oauth"
)

// DefaultBusyTimeout is how long SQLite waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string `mapstructure:"path" yaml:"path"`

	// BusyTimeout defaults to DefaultBusyTimeout.
	BusyTimeout time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// SQLiteStorage implements the Storage interface on an embedded SQLite
// database. All access goes through a single connection, so transactions
// are serialized and the conditional updates used for redemption and
// rotation cannot interleave.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens the database, applies migrations and returns the store.
func NewSQLiteStorage(ctx context.Context, cfg SQLiteConfig) (*SQLiteStorage, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = DefaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStorage{db: db}, nil
}

func sqliteDSN(cfg SQLiteConfig) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", cfg.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	if cfg.Path != ":memory:" {
		q.Add("_pragma", "journal_mode(WAL)")
	}
	return "file:" + cfg.Path + "?" + q.Encode()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func joinList(values []string) string {
	return strings.Join(values, " ")
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// -----------------------
// Clients
// -----------------------

const clientColumns = `id, secret_hash, name, redirect_uris, grant_types, response_types,
	scopes, token_endpoint_auth_method, confidential, active, created_at`

// CreateClient stores a new client.
func (s *SQLiteStorage) CreateClient(ctx context.Context, client *Client) error {
	if client == nil {
		return errNilRecord
	}
	redirects, err := json.Marshal(oauth.RedirectPatternStrings(client.RedirectURIs))
	if err != nil {
		return fmt.Errorf("encoding redirect uris: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID,
		client.SecretHash,
		client.Name,
		string(redirects),
		joinList(client.GrantTypes),
		joinList(client.ResponseTypes),
		joinList(client.Scopes),
		client.TokenEndpointAuthMethod,
		boolInt(client.Confidential),
		boolInt(client.Active),
		toUnix(client.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting client: %w", err)
	}
	return nil
}

// GetClient retrieves a client by ID.
func (s *SQLiteStorage) GetClient(ctx context.Context, id string) (*Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = ?`, id)

	var (
		c                                    Client
		redirects, grants, responses, scopes string
		confidential, active                 int
		createdAt                            int64
	)
	err := row.Scan(&c.ID, &c.SecretHash, &c.Name, &redirects, &grants, &responses,
		&scopes, &c.TokenEndpointAuthMethod, &confidential, &active, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("client")
		}
		return nil, fmt.Errorf("scanning client: %w", err)
	}

	var raw []string
	if err := json.Unmarshal([]byte(redirects), &raw); err != nil {
		return nil, fmt.Errorf("decoding redirect uris: %w", err)
	}
	c.RedirectURIs, err = oauth.ParseRedirectPatterns(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding redirect uris: %w", err)
	}
	c.GrantTypes = splitList(grants)
	c.ResponseTypes = splitList(responses)
	c.Scopes = splitList(scopes)
	c.Confidential = confidential != 0
	c.Active = active != 0
	c.CreatedAt = fromUnix(createdAt)
	return &c, nil
}

// DeactivateClient marks a client inactive.
func (s *SQLiteStorage) DeactivateClient(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE clients SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivating client: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivating client: %w", err)
	}
	if n == 0 {
		return notFound("client")
	}
	return nil
}

// -----------------------
// Grants
// -----------------------

// UpsertGrant creates or replaces a grant, keeping the original created_at.
func (s *SQLiteStorage) UpsertGrant(ctx context.Context, grant *Grant) error {
	if grant == nil {
		return errNilRecord
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (user_id, client_id, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scopes = excluded.scopes,
			updated_at = excluded.updated_at`,
		grant.UserID, grant.ClientID, joinList(grant.Scopes),
		toUnix(grant.CreatedAt), toUnix(grant.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting grant: %w", err)
	}
	return nil
}

func scanGrant(row rowScanner) (*Grant, error) {
	var (
		g                    Grant
		scopes               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&g.UserID, &g.ClientID, &scopes, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.Scopes = splitList(scopes)
	g.CreatedAt = fromUnix(createdAt)
	g.UpdatedAt = fromUnix(updatedAt)
	return &g, nil
}

// GetGrant retrieves the grant of a user for a client.
func (s *SQLiteStorage) GetGrant(ctx context.Context, userID, clientID string) (*Grant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, client_id, scopes, created_at, updated_at
		FROM grants WHERE user_id = ? AND client_id = ?`,
		userID, clientID,
	)
	g, err := scanGrant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("grant")
		}
		return nil, fmt.Errorf("scanning grant: %w", err)
	}
	return g, nil
}

// ListGrants returns all grants of a user ordered by client ID.
func (s *SQLiteStorage) ListGrants(ctx context.Context, userID string) ([]*Grant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, client_id, scopes, created_at, updated_at
		FROM grants WHERE user_id = ? ORDER BY client_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying grants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grants: %w", err)
	}
	return out, nil
}

// DeleteGrant removes the grant of a user for a client.
func (s *SQLiteStorage) DeleteGrant(ctx context.Context, userID, clientID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM grants WHERE user_id = ? AND client_id = ?`, userID, clientID)
	if err != nil {
		return fmt.Errorf("deleting grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking deleted grant: %w", err)
	}
	if n == 0 {
		return notFound("grant")
	}
	return nil
}

// -----------------------
// Authorization codes
// -----------------------

const codeColumns = `code_hash, user_id, username, client_id, redirect_uri, scopes,
	code_challenge, code_challenge_method, expires_at, used, created_at`

// CreateAuthorizationCode stores a new authorization code.
func (s *SQLiteStorage) CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error {
	if code == nil {
		return errNilRecord
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_codes (`+codeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		code.CodeHash, code.UserID, code.Username, code.ClientID, code.RedirectURI,
		joinList(code.Scopes), code.CodeChallenge, code.CodeChallengeMethod,
		toUnix(code.ExpiresAt), toUnix(code.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting authorization code: %w", err)
	}
	return nil
}

func scanCode(row rowScanner) (*AuthorizationCode, error) {
	var (
		c                    AuthorizationCode
		scopes               string
		expiresAt, createdAt int64
		used                 int
	)
	err := row.Scan(&c.CodeHash, &c.UserID, &c.Username, &c.ClientID, &c.RedirectURI, &scopes,
		&c.CodeChallenge, &c.CodeChallengeMethod, &expiresAt, &used, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Scopes = splitList(scopes)
	c.ExpiresAt = fromUnix(expiresAt)
	c.Used = used != 0
	c.CreatedAt = fromUnix(createdAt)
	return &c, nil
}

func getCode(ctx context.Context, q queryer, codeHash string) (*AuthorizationCode, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+codeColumns+` FROM authorization_codes WHERE code_hash = ?`, codeHash)
	c, err := scanCode(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("authorization code")
		}
		return nil, fmt.Errorf("scanning authorization code: %w", err)
	}
	return c, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// GetAuthorizationCode retrieves a code by hash.
func (s *SQLiteStorage) GetAuthorizationCode(ctx context.Context, codeHash string) (*AuthorizationCode, error) {
	return getCode(ctx, s.db, codeHash)
}

// RedeemAuthorizationCode flips used with a conditional update and inserts
// the refresh token in the same transaction.
func (s *SQLiteStorage) RedeemAuthorizationCode(
	ctx context.Context, codeHash string, refresh *RefreshToken,
) (*AuthorizationCode, error) {
	if refresh == nil {
		return nil, errNilRecord
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	code, err := getCode(ctx, tx, codeHash)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE authorization_codes SET used = 1 WHERE code_hash = ? AND used = 0`, codeHash)
	if err != nil {
		return nil, fmt.Errorf("marking authorization code used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking authorization code update: %w", err)
	}
	code.Used = true
	if n == 0 {
		return code, ErrCodeAlreadyUsed
	}

	if err := insertRefreshToken(ctx, tx, refresh); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return code, nil
}

// -----------------------
// Refresh tokens
// -----------------------

const refreshColumns = `token_hash, user_id, username, client_id, scopes, expires_at, revoked, created_at`

func insertRefreshToken(ctx context.Context, q queryer, token *RefreshToken) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO refresh_tokens (`+refreshColumns+`) VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		token.TokenHash, token.UserID, token.Username, token.ClientID,
		joinList(token.Scopes), toUnix(token.ExpiresAt), toUnix(token.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting refresh token: %w", err)
	}
	return nil
}

// GetRefreshToken retrieves a refresh token by hash.
func (s *SQLiteStorage) GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = ?`, tokenHash)

	var (
		t                    RefreshToken
		scopes               string
		expiresAt, createdAt int64
		revoked              int
	)
	err := row.Scan(&t.TokenHash, &t.UserID, &t.Username, &t.ClientID, &scopes,
		&expiresAt, &revoked, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("refresh token")
		}
		return nil, fmt.Errorf("scanning refresh token: %w", err)
	}
	t.Scopes = splitList(scopes)
	t.ExpiresAt = fromUnix(expiresAt)
	t.Revoked = revoked != 0
	t.CreatedAt = fromUnix(createdAt)
	return &t, nil
}

// RotateRefreshToken revokes oldHash with a conditional update and inserts
// next in the same transaction.
func (s *SQLiteStorage) RotateRefreshToken(ctx context.Context, oldHash string, next *RefreshToken) error {
	if next == nil {
		return errNilRecord
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	var revoked int
	err = tx.QueryRowContext(ctx,
		`SELECT revoked FROM refresh_tokens WHERE token_hash = ?`, oldHash).Scan(&revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("refresh token")
		}
		return fmt.Errorf("looking up refresh token: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ? AND revoked = 0`, oldHash)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking refresh token update: %w", err)
	}
	if n == 0 {
		return ErrTokenRevoked
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// RevokeRefreshToken revokes a single refresh token.
func (s *SQLiteStorage) RevokeRefreshToken(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoking refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking refresh token update: %w", err)
	}
	if n == 0 {
		return notFound("refresh token")
	}
	return nil
}

// RevokeRefreshTokensForUserClient revokes every refresh token of the pair.
func (s *SQLiteStorage) RevokeRefreshTokensForUserClient(ctx context.Context, userID, clientID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND client_id = ? AND revoked = 0`,
		userID, clientID)
	if err != nil {
		return 0, fmt.Errorf("revoking refresh tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking refresh token update: %w", err)
	}
	return int(n), nil
}

// -----------------------
// Pending consents
// -----------------------

const consentColumns = `id, user_id, client_id, redirect_uri, scopes, state,
	code_challenge, code_challenge_method, expires_at, created_at`

// StorePendingConsent stores a consent request awaiting a decision.
func (s *SQLiteStorage) StorePendingConsent(ctx context.Context, consent *PendingConsent) error {
	if consent == nil {
		return errNilRecord
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_consents (`+consentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		consent.ID, consent.UserID, consent.ClientID, consent.RedirectURI,
		joinList(consent.Scopes), consent.State, consent.CodeChallenge,
		consent.CodeChallengeMethod, toUnix(consent.ExpiresAt), toUnix(consent.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("inserting pending consent: %w", err)
	}
	return nil
}

// TakePendingConsent loads and deletes a consent request in one statement.
func (s *SQLiteStorage) TakePendingConsent(ctx context.Context, id string) (*PendingConsent, error) {
	row := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_consents WHERE id = ? RETURNING `+consentColumns, id)

	var (
		p                    PendingConsent
		scopes               string
		expiresAt, createdAt int64
	)
	err := row.Scan(&p.ID, &p.UserID, &p.ClientID, &p.RedirectURI, &scopes, &p.State,
		&p.CodeChallenge, &p.CodeChallengeMethod, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound("pending consent")
		}
		return nil, fmt.Errorf("taking pending consent: %w", err)
	}
	p.Scopes = splitList(scopes)
	p.ExpiresAt = fromUnix(expiresAt)
	p.CreatedAt = fromUnix(createdAt)
	return &p, nil
}

// -----------------------
// Maintenance
// -----------------------

// PurgeExpired removes expired codes, refresh tokens and consent requests.
func (s *SQLiteStorage) PurgeExpired(ctx context.Context, now time.Time) (PurgeResult, error) {
	var res PurgeResult
	cutoff := toUnix(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	purge := func(table string) (int, error) {
		r, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, cutoff)
		if err != nil {
			return 0, fmt.Errorf("purging %s: %w", table, err)
		}
		n, err := r.RowsAffected()
		return int(n), err
	}

	if res.AuthorizationCodes, err = purge("authorization_codes"); err != nil {
		return PurgeResult{}, err
	}
	if res.RefreshTokens, err = purge("refresh_tokens"); err != nil {
		return PurgeResult{}, err
	}
	if res.PendingConsents, err = purge("pending_consents"); err != nil {
		return PurgeResult{}, err
	}

	if err := tx.Commit(); err != nil {
		return PurgeResult{}, fmt.Errorf("committing transaction: %w", err)
	}
	return res, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite3.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// rollback rolls back tx, ignoring errors (tx may already be committed).
func rollback(tx *sql.Tx) { _ = tx.Rollback() }

// Compile-time interface compliance check.
var _ Storage = (*SQLiteStorage)(nil)
