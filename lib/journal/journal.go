package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

var ErrNotFound = errors.New("plan progress not found")

// NoStep is LastCompleted before any step has landed.
const NoStep = -1

// Progress records how far a rebalance plan got, so a retry resumes after
// the last completed step instead of starting over.
type Progress struct {
	PlanID        uuid.UUID
	Strategy      solana.PublicKey
	Steps         int
	LastCompleted int
	Signatures    []solana.Signature
	UpdatedAt     time.Time
}

func NewProgress(planID uuid.UUID, strategy solana.PublicKey, steps int) Progress {
	return Progress{PlanID: planID, Strategy: strategy, Steps: steps, LastCompleted: NoStep}
}

func (p Progress) Done() bool {
	return p.LastCompleted >= p.Steps-1
}

// Store keeps progress in SQLite.
type Store struct {
	db  *sql.DB
	log logrus.FieldLogger
}

type Config struct {
	Path   string
	Logger logrus.FieldLogger
}

func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	path := cfg.Path
	if path == "" {
		path = "./data/journal.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory %q: %w", filepath.Dir(path), err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping journal %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, log: log}
	if err := s.initSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	log.WithField("path", path).Debug("journal opened")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS plan_progress (
		plan_id TEXT PRIMARY KEY,
		strategy TEXT NOT NULL,
		steps INTEGER NOT NULL,
		last_completed INTEGER NOT NULL,
		signatures TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_plan_progress_strategy ON plan_progress (strategy, updated_at);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, planID uuid.UUID) (Progress, error) {
	const query = `
	SELECT plan_id, strategy, steps, last_completed, signatures, updated_at
	FROM plan_progress WHERE plan_id = ?`
	p, err := scanProgress(s.db.QueryRowContext(ctx, query, planID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Progress{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return Progress{}, fmt.Errorf("load plan %s: %w", planID, err)
	}
	return p, nil
}

func (s *Store) Save(ctx context.Context, p Progress) error {
	const query = `
	INSERT INTO plan_progress (plan_id, strategy, steps, last_completed, signatures, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(plan_id) DO UPDATE SET
		last_completed = excluded.last_completed,
		signatures = excluded.signatures,
		updated_at = excluded.updated_at`
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		p.PlanID.String(), p.Strategy.String(), p.Steps, p.LastCompleted, joinSignatures(p.Signatures), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save plan %s: %w", p.PlanID, err)
	}
	return nil
}

// Unfinished lists plans of a strategy that stopped before their last step,
// newest first.
func (s *Store) Unfinished(ctx context.Context, strategy solana.PublicKey) ([]Progress, error) {
	const query = `
	SELECT plan_id, strategy, steps, last_completed, signatures, updated_at
	FROM plan_progress
	WHERE strategy = ? AND last_completed < steps - 1
	ORDER BY updated_at DESC`
	rows, err := s.db.QueryContext(ctx, query, strategy.String())
	if err != nil {
		return nil, fmt.Errorf("query unfinished plans of %s: %w", strategy, err)
	}
	defer rows.Close()

	var out []Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(row scanner) (Progress, error) {
	var (
		p                   Progress
		planID, strat, sigs string
		updatedAt           int64
	)
	if err := row.Scan(&planID, &strat, &p.Steps, &p.LastCompleted, &sigs, &updatedAt); err != nil {
		return Progress{}, err
	}
	var err error
	if p.PlanID, err = uuid.Parse(planID); err != nil {
		return Progress{}, fmt.Errorf("bad plan id %q: %w", planID, err)
	}
	if p.Strategy, err = solana.PublicKeyFromBase58(strat); err != nil {
		return Progress{}, fmt.Errorf("bad strategy %q: %w", strat, err)
	}
	if p.Signatures, err = splitSignatures(sigs); err != nil {
		return Progress{}, err
	}
	p.UpdatedAt = time.Unix(0, updatedAt)
	return p, nil
}

func joinSignatures(sigs []solana.Signature) string {
	parts := make([]string, len(sigs))
	for i, sig := range sigs {
		parts[i] = sig.String()
	}
	return strings.Join(parts, ",")
}

func splitSignatures(s string) ([]solana.Signature, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]solana.Signature, len(parts))
	for i, part := range parts {
		sig, err := solana.SignatureFromBase58(part)
		if err != nil {
			return nil, fmt.Errorf("bad signature %q: %w", part, err)
		}
		out[i] = sig
	}
	return out, nil
}

// Memory keeps progress in a map. Used for dry runs and tests.
type Memory struct {
	mu       sync.Mutex
	progress map[uuid.UUID]Progress
}

func NewMemory() *Memory {
	return &Memory{progress: make(map[uuid.UUID]Progress)}
}

func (m *Memory) Load(_ context.Context, planID uuid.UUID) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.progress[planID]
	if !ok {
		return Progress{}, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	p.Signatures = append([]solana.Signature(nil), p.Signatures...)
	return p, nil
}

func (m *Memory) Save(_ context.Context, p Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	p.Signatures = append([]solana.Signature(nil), p.Signatures...)
	m.progress[p.PlanID] = p
	return nil
}
