package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"concierge/internal/adapters/embeddings"
	"concierge/internal/domain/prompt"
	"concierge/pkg/errors"
	"concierge/pkg/logger"
)

// L3 is the persistent tier on Postgres: longest TTL, reserved for
// reference-scoped prompts (stable facts, not turn-specific content).
// Lookups try the exact key first, then a pgvector nearest-neighbor
// match over the normalized prompt text.
type L3 struct {
	db        *sqlx.DB
	embedder  embeddings.Provider
	ttl       time.Duration
	threshold float64
	log       *logger.Logger
}

// NewL3 creates the persistent tier
func NewL3(db *sqlx.DB, embedder embeddings.Provider, ttl time.Duration, semanticThreshold float64) *L3 {
	return &L3{
		db:        db,
		embedder:  embedder,
		ttl:       ttl,
		threshold: semanticThreshold,
		log:       logger.Get().With("component", "cache_l3"),
	}
}

// Name returns the tier name
func (l *L3) Name() string { return TierL3 }

type l3Row struct {
	Key        string    `db:"key"`
	Value      []byte    `db:"value"`
	Scope      string    `db:"scope"`
	Text       string    `db:"text"`
	StoredAt   time.Time `db:"stored_at"`
	Similarity float64   `db:"similarity"`
}

// Get looks up an entry by exact key, then semantically when the probe
// carries prompt text. Turn-scoped probes always miss.
func (l *L3) Get(ctx context.Context, probe Probe) (*Entry, error) {
	if probe.Scope != prompt.ScopeReference {
		return nil, errors.Wrapf(errors.ErrCacheMiss, "l3 skips scope %s", probe.Scope)
	}

	var row l3Row
	err := l.db.GetContext(ctx, &row, `
		SELECT key, value, scope, text, stored_at, 1.0 AS similarity
		FROM model_cache
		WHERE key = $1 AND expires_at > NOW()`,
		probe.Key,
	)
	if err == nil {
		return rowToEntry(&row), nil
	}
	if !isNoRows(err) {
		return nil, errors.Wrapf(errors.ErrCacheTierUnavailable, "l3 get: %v", err)
	}

	if probe.Text == "" || l.embedder == nil {
		return nil, errors.Wrapf(errors.ErrCacheMiss, "l3 %s", probe.Key)
	}

	return l.semanticGet(ctx, probe)
}

func (l *L3) semanticGet(ctx context.Context, probe Probe) (*Entry, error) {
	vec, err := l.embedder.GenerateEmbedding(ctx, probe.Text)
	if err != nil {
		l.log.Debugf("Embedding lookup failed, treating as miss: %v", err)
		return nil, errors.Wrapf(errors.ErrCacheMiss, "l3 %s", probe.Key)
	}

	var row l3Row
	err = l.db.GetContext(ctx, &row, `
		SELECT key, value, scope, text, stored_at, 1 - (embedding <=> $1) AS similarity
		FROM model_cache
		WHERE expires_at > NOW() AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT 1`,
		pgvector.NewVector(vec),
	)
	if err != nil {
		if isNoRows(err) {
			return nil, errors.Wrapf(errors.ErrCacheMiss, "l3 %s", probe.Key)
		}
		return nil, errors.Wrapf(errors.ErrCacheTierUnavailable, "l3 semantic get: %v", err)
	}

	if row.Similarity < l.threshold {
		return nil, errors.Wrapf(errors.ErrCacheMiss, "l3 best similarity %.3f below threshold", row.Similarity)
	}

	return rowToEntry(&row), nil
}

// Set upserts an entry with set-if-newer enforced in SQL, so a write
// never silently overwrites a fresher value for the same key.
// Turn-scoped entries are not persisted.
func (l *L3) Set(ctx context.Context, e *Entry) error {
	if e.Scope != prompt.ScopeReference {
		return nil
	}

	var vec interface{}
	if l.embedder != nil && e.Text != "" {
		if v, err := l.embedder.GenerateEmbedding(ctx, e.Text); err == nil {
			vec = pgvector.NewVector(v)
		} else {
			l.log.Debugf("Embedding generation failed, storing without vector: %v", err)
		}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO model_cache (key, value, scope, text, embedding, stored_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value,
		    text = EXCLUDED.text,
		    embedding = EXCLUDED.embedding,
		    stored_at = EXCLUDED.stored_at,
		    expires_at = EXCLUDED.expires_at
		WHERE model_cache.stored_at < EXCLUDED.stored_at`,
		e.Key, []byte(e.Value), string(e.Scope), e.Text, vec, e.StoredAt, e.StoredAt.Add(l.ttl),
	)
	if err != nil {
		return errors.Wrapf(errors.ErrCacheTierUnavailable, "l3 set: %v", err)
	}
	return nil
}

// DeleteExpired removes expired rows; run periodically by a sweeper
func (l *L3) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM model_cache WHERE expires_at < NOW()`)
	if err != nil {
		return 0, errors.Wrap(err, "l3 delete expired")
	}
	return res.RowsAffected()
}

func rowToEntry(row *l3Row) *Entry {
	return &Entry{
		Key:      row.Key,
		Value:    json.RawMessage(row.Value),
		Scope:    prompt.Scope(row.Scope),
		Text:     row.Text,
		StoredAt: row.StoredAt,
	}
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
