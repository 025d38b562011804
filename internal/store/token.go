package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/pavelanni/suppcompanion/internal/model"
)

// Token types.
const (
	TokenPermanent = 0
	TokenEmbedded  = 1
)

// CreateToken issues a token for a user and service. A zero validUntil never expires.
func (s *Store) CreateToken(ctx context.Context, userID, serviceID int64, validUntil time.Time) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", err
	}
	var until int64
	if !validUntil.IsZero() {
		until = validUntil.Unix()
	}
	_, err = s.q(ctx).ExecContext(ctx,
		`INSERT INTO external_tokens (token, userid, externalserviceid, tokentype, timecreated, validuntil)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		token, userID, serviceID, TokenPermanent, s.unixNow(), until,
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

// GetToken returns the token record, or nil if not found or expired.
// Expired tokens are removed.
func (s *Store) GetToken(ctx context.Context, token string) (*model.Token, error) {
	var t model.Token
	var tokenType int
	var created, until int64
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT token, userid, externalserviceid, tokentype, timecreated, validuntil
		 FROM external_tokens WHERE token = $1`, token,
	).Scan(&t.Token, &t.UserID, &t.ServiceID, &tokenType, &created, &until)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Permanent = tokenType == TokenPermanent
	t.CreatedAt = fromUnix(created)
	t.ValidUntil = fromUnix(until)
	if t.Expired(s.now()) {
		_ = s.DeleteToken(ctx, token)
		return nil, nil
	}
	return &t, nil
}

// FindToken returns an unexpired permanent token for a user and service, or "".
func (s *Store) FindToken(ctx context.Context, userID, serviceID int64) (string, error) {
	var token string
	err := s.q(ctx).QueryRowContext(ctx,
		`SELECT token FROM external_tokens
		 WHERE userid = $1 AND externalserviceid = $2 AND tokentype = $3 AND (validuntil = 0 OR validuntil > $4)
		 ORDER BY timecreated LIMIT 1`,
		userID, serviceID, TokenPermanent, s.unixNow(),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return token, err
}

// DeleteToken removes a token.
func (s *Store) DeleteToken(ctx context.Context, token string) error {
	_, err := s.q(ctx).ExecContext(ctx, `DELETE FROM external_tokens WHERE token = $1`, token)
	return err
}

// CleanupExpiredTokens removes all expired tokens.
func (s *Store) CleanupExpiredTokens(ctx context.Context) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`DELETE FROM external_tokens WHERE validuntil > 0 AND validuntil < $1`, s.unixNow())
	return err
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
