package vectordb

import (
	"context"
	"fmt"
	"sync/atomic"

	"support_server/core/port/out"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PgvectorIndex stores chunks in Postgres with the vector extension. Payloads live in a
// jsonb column so filters work on any payload key.
type PgvectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
	ensured   atomic.Bool
}

var _ out.SimilarityIndex = (*PgvectorIndex)(nil)

func NewPgvectorIndex(pool *pgxpool.Pool, dimension int) *PgvectorIndex {
	return &PgvectorIndex{pool: pool, dimension: dimension}
}

// EnsureCollection creates the chunk table when migrations have not run.
func (p *PgvectorIndex) EnsureCollection(ctx context.Context) error {
	if p.ensured.Load() {
		return nil
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_chunks (
			id          TEXT PRIMARY KEY,
			seq         BIGSERIAL,
			payload     JSONB NOT NULL DEFAULT '{}'::jsonb,
			embedding   vector(%d) NOT NULL
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_document ON knowledge_chunks ((payload->>'document_id'))`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure knowledge_chunks: %w", err)
		}
	}
	p.ensured.Store(true)
	return nil
}

// Upsert writes all points in one transaction.
func (p *PgvectorIndex) Upsert(ctx context.Context, points []out.IndexPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, pt := range points {
		payload, err := json.Marshal(pt.Payload)
		if err != nil {
			return fmt.Errorf("encode payload of %s: %w", pt.ID, err)
		}
		batch.Queue(
			`INSERT INTO knowledge_chunks (id, payload, embedding)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, embedding = EXCLUDED.embedding`,
			pt.ID, payload, pgvector.NewVector(pt.Vector),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	return tx.Commit(ctx)
}

// Search ranks by cosine similarity, reported as 1 - cosine distance.
func (p *PgvectorIndex) Search(ctx context.Context, vector []float32, limit int, filter *out.IndexFilter) ([]out.ScoredPoint, error) {
	if limit < 1 {
		limit = 1
	}
	vec := pgvector.NewVector(vector)

	var rows pgx.Rows
	var err error
	if filter != nil {
		rows, err = p.pool.Query(ctx,
			`SELECT id, payload, 1 - (embedding <=> $1) AS score
			 FROM knowledge_chunks
			 WHERE payload->>$2 = $3
			 ORDER BY embedding <=> $1
			 LIMIT $4`,
			vec, filter.Key, filter.Value, limit)
	} else {
		rows, err = p.pool.Query(ctx,
			`SELECT id, payload, 1 - (embedding <=> $1) AS score
			 FROM knowledge_chunks
			 ORDER BY embedding <=> $1
			 LIMIT $2`,
			vec, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []out.ScoredPoint
	for rows.Next() {
		var (
			hit     out.ScoredPoint
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &payload, &hit.Score); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &hit.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", hit.ID, err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Scroll returns every point in insertion order, reading pageSize rows per query keyed on seq.
func (p *PgvectorIndex) Scroll(ctx context.Context, pageSize int) ([]out.IndexPoint, error) {
	if pageSize <= 0 {
		pageSize = scrollPageLimit
	}

	var (
		points  []out.IndexPoint
		lastSeq int64
	)
	for {
		page, seq, err := p.scrollPage(ctx, lastSeq, pageSize)
		if err != nil {
			return nil, err
		}
		points = append(points, page...)
		if len(page) < pageSize {
			return points, nil
		}
		lastSeq = seq
	}
}

func (p *PgvectorIndex) scrollPage(ctx context.Context, afterSeq int64, pageSize int) ([]out.IndexPoint, int64, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT seq, id, payload FROM knowledge_chunks WHERE seq > $1 ORDER BY seq LIMIT $2`, afterSeq, pageSize)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		points  []out.IndexPoint
		lastSeq = afterSeq
	)
	for rows.Next() {
		var (
			pt      out.IndexPoint
			payload []byte
		)
		if err := rows.Scan(&lastSeq, &pt.ID, &payload); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(payload, &pt.Payload); err != nil {
			return nil, 0, fmt.Errorf("decode payload of %s: %w", pt.ID, err)
		}
		points = append(points, pt)
	}
	return points, lastSeq, rows.Err()
}

func (p *PgvectorIndex) DeleteByFilter(ctx context.Context, filter out.IndexFilter) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE payload->>$1 = $2`, filter.Key, filter.Value)
	return err
}
