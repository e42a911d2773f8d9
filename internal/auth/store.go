package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/bullscan/internal/contracts"
)

// Store persists users and invite codes
type Store interface {
	CreateUser(ctx context.Context, u *contracts.User) error
	UserByUsername(ctx context.Context, username string) (*contracts.User, error)
	TouchLogin(ctx context.Context, id int64, at time.Time) error
	SetTier(ctx context.Context, username string, tier contracts.Tier) error

	CreateInvite(ctx context.Context, inv Invite) error
	// ConsumeInvite increments the use counter, failing when the code is unknown or used up
	ConsumeInvite(ctx context.Context, code string) error
	Invites(ctx context.Context) ([]Invite, error)
}

// Invite is a registration code with a use limit
type Invite struct {
	Code      string    `json:"code"`
	CreatedBy string    `json:"created_by"`
	MaxUses   int       `json:"max_uses"`
	UsedCount int       `json:"used_count"`
	CreatedAt time.Time `json:"created_at"`
}

// PGStore keeps users and invites in postgres
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a store on pool
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const uniqueViolation = "23505"

func (s *PGStore) CreateUser(ctx context.Context, u *contracts.User) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, email, password_hash, tier, invite_code, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, u.Username, u.Email, u.PasswordHash, string(u.Tier), u.InviteCode, u.IsActive).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrUserExists
		}
		return fmt.Errorf("insert user %s: %w", u.Username, err)
	}
	return nil
}

func (s *PGStore) UserByUsername(ctx context.Context, username string) (*contracts.User, error) {
	var (
		u    contracts.User
		tier string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, username, email, password_hash, tier, invite_code, is_active, created_at, last_login
		FROM users WHERE username = $1
	`, username).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &tier, &u.InviteCode, &u.IsActive, &u.CreatedAt, &u.LastLogin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user %s: %w", username, err)
	}
	u.Tier = contracts.Tier(tier)
	return &u, nil
}

func (s *PGStore) TouchLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PGStore) SetTier(ctx context.Context, username string, tier contracts.Tier) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET tier = $2 WHERE username = $1`, username, string(tier))
	if err != nil {
		return fmt.Errorf("set tier %s: %w", username, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *PGStore) CreateInvite(ctx context.Context, inv Invite) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO invite_codes (code, created_by, max_uses) VALUES ($1, $2, $3)
	`, inv.Code, inv.CreatedBy, inv.MaxUses)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PGStore) ConsumeInvite(ctx context.Context, code string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invite_codes SET used_count = used_count + 1
		WHERE code = $1 AND used_count < max_uses
	`, code)
	if err != nil {
		return fmt.Errorf("consume invite: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidInvite
	}
	return nil
}

func (s *PGStore) Invites(ctx context.Context) ([]Invite, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, created_by, max_uses, used_count, created_at FROM invite_codes ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		var inv Invite
		if err := rows.Scan(&inv.Code, &inv.CreatedBy, &inv.MaxUses, &inv.UsedCount, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MemoryStore serves the API when postgres is not configured, and tests
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	users   map[string]*contracts.User
	invites map[string]*Invite
}

// NewMemoryStore creates an empty in-process store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*contracts.User),
		invites: make(map[string]*Invite),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *contracts.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := u.Username
	if _, ok := m.users[key]; ok {
		return ErrUserExists
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.users[key] = &cp
	return nil
}

func (m *MemoryStore) UserByUsername(_ context.Context, username string) (*contracts.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) TouchLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			t := at
			u.LastLogin = &t
			return nil
		}
	}
	return ErrUserNotFound
}

func (m *MemoryStore) SetTier(_ context.Context, username string, tier contracts.Tier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return ErrUserNotFound
	}
	u.Tier = tier
	return nil
}

func (m *MemoryStore) CreateInvite(_ context.Context, inv Invite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invites[inv.Code]; ok {
		return fmt.Errorf("invite %s already exists", inv.Code)
	}
	inv.CreatedAt = time.Now()
	m.invites[inv.Code] = &inv
	return nil
}

func (m *MemoryStore) ConsumeInvite(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[code]
	if !ok || inv.UsedCount >= inv.MaxUses {
		return ErrInvalidInvite
	}
	inv.UsedCount++
	return nil
}

func (m *MemoryStore) Invites(context.Context) ([]Invite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Invite, 0, len(m.invites))
	for _, inv := range m.invites {
		out = append(out, *inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
