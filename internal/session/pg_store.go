package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riskwise/console/internal/platform/database"
)

// PGStore keeps sessions in the console_sessions table, one row per
// context id.
type PGStore struct {
	db  database.Querier
	ttl time.Duration
}

// NewPGStore creates a Postgres store. A positive ttl bounds how long a
// stored session stays loadable.
func NewPGStore(db database.Querier, ttl time.Duration) *PGStore {
	return &PGStore{db: db, ttl: ttl}
}

func (s *PGStore) Load(ctx context.Context, contextID string) (*Session, error) {
	var token string
	var profile []byte
	err := s.db.QueryRow(ctx,
		`SELECT token, profile FROM console_sessions
		 WHERE context_id = $1 AND (expires_at IS NULL OR expires_at > now())`,
		contextID,
	).Scan(&token, &profile)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	sess, err := decode(token, profile)
	if err != nil {
		_ = s.Delete(ctx, contextID)
		return nil, nil
	}
	return sess, nil
}

func (s *PGStore) Save(ctx context.Context, contextID string, sess *Session) error {
	if sess == nil {
		return ErrMissingUser
	}
	profile, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}

	var expiresAt *time.Time
	if s.ttl > 0 {
		t := time.Now().Add(s.ttl)
		expiresAt = &t
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO console_sessions (context_id, token, profile, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (context_id) DO UPDATE
		 SET token = EXCLUDED.token, profile = EXCLUDED.profile,
		     expires_at = EXCLUDED.expires_at, updated_at = now()`,
		contextID, sess.Token, profile, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, contextID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM console_sessions WHERE context_id = $1`, contextID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// PurgeExpired removes rows past their expiry and returns how many went.
func (s *PGStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM console_sessions WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("purging sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}
