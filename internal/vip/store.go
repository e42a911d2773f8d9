package vip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore keeps applications in vip_applications
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on pool
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const selectApplication = `
	SELECT id, username, email, plan, contact, note, status, created_at, reviewed_at, reviewed_by
	FROM vip_applications`

func scanApplication(row pgx.Row) (*Application, error) {
	var (
		a            Application
		plan, status string
	)
	if err := row.Scan(&a.ID, &a.Username, &a.Email, &plan, &a.Contact, &a.Note, &status, &a.CreatedAt, &a.ReviewedAt, &a.ReviewedBy); err != nil {
		return nil, err
	}
	a.Plan = Plan(plan)
	a.Status = Status(status)
	return &a, nil
}

func (s *PGStore) Create(ctx context.Context, a *Application) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO vip_applications (username, email, plan, contact, note, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, a.Username, a.Email, string(a.Plan), a.Contact, a.Note, string(a.Status)).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert vip application: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id int64) (*Application, error) {
	a, err := scanApplication(s.pool.QueryRow(ctx, selectApplication+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query vip application %d: %w", id, err)
	}
	return a, nil
}

func (s *PGStore) List(ctx context.Context, status Status) ([]Application, error) {
	rows, err := s.pool.Query(ctx, selectApplication+`
		WHERE $1 = '' OR status = $1
		ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query vip applications: %w", err)
	}
	defer rows.Close()

	var out []Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vip application: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PGStore) Review(ctx context.Context, id int64, status Status, reviewer string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE vip_applications SET status = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1 AND status = 'pending'
	`, id, string(status), reviewer, at)
	if err != nil {
		return fmt.Errorf("review vip application %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyReviewed
	}
	return nil
}

// MemoryStore is used without postgres, and by tests
type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	apps   map[int64]*Application
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{apps: make(map[int64]*Application)}
}

func (m *MemoryStore) Create(_ context.Context, a *Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	cp := *a
	m.apps[a.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) List(_ context.Context, status Status) ([]Application, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Application
	for _, a := range m.apps {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) Review(_ context.Context, id int64, status Status, reviewer string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != StatusPending {
		return ErrAlreadyReviewed
	}
	t := at
	a.Status = status
	a.ReviewedBy = reviewer
	a.ReviewedAt = &t
	return nil
}
