package watchlist

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

var (
	ErrWatchlistFull  = errors.New("watchlist is full")
	ErrAlreadyWatched = errors.New("stock already in watchlist")
	ErrNotWatched     = errors.New("stock not in watchlist")
	ErrInvalidAlert   = errors.New("invalid alert")
	ErrAlertNotFound  = errors.New("alert not found")
	ErrInvalidCode    = errors.New("stock code must be 6 digits")
)

const (
	MaxEntries = 50
	TTL        = 90 * 24 * time.Hour

	alertUsersKey = "alert_users"
)

var codePattern = regexp.MustCompile(`^\d{6}$`)

// Direction is which side of the target price triggers an alert
type Direction string

const (
	Above Direction = "above"
	Below Direction = "below"
)

// Entry is one watched stock
type Entry struct {
	Code     string    `json:"code"`
	Name     string    `json:"name"`
	AddPrice float64   `json:"add_price,omitempty"`
	Note     string    `json:"note,omitempty"`
	AddedAt  time.Time `json:"added_at"`
}

// Alert fires once when the live price crosses TargetPrice
type Alert struct {
	ID           string     `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name,omitempty"`
	TargetPrice  float64    `json:"target_price"`
	Direction    Direction  `json:"direction"`
	Triggered    bool       `json:"triggered"`
	TriggerPrice float64    `json:"trigger_price,omitempty"`
	TriggeredAt  *time.Time `json:"triggered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Hit reports an alert that fired during CheckAlerts
type Hit struct {
	Username string `json:"username"`
	Alert    Alert  `json:"alert"`
}

// QuoteSource provides live prices
type QuoteSource interface {
	GetQuote(ctx context.Context, code string) (*contracts.Quote, error)
}

// Service keeps per-user watchlists and price alerts in the KV store
type Service struct {
	kv     *redis.KV
	quotes QuoteSource
	logger *logger.Logger
	now    func() time.Time

	mu sync.Mutex // serializes read-modify-write of a user's documents
}

// NewService creates a watchlist service
func NewService(kv *redis.KV, quotes QuoteSource, log *logger.Logger) *Service {
	return &Service{
		kv:     kv,
		quotes: quotes,
		logger: log.WithComponent("watchlist"),
		now:    time.Now,
	}
}

func watchlistKey(user string) string { return "watchlist:" + user }
func alertsKey(user string) string    { return "alerts:" + user }

// List returns the watchlist of username, oldest first
func (s *Service) List(ctx context.Context, username string) ([]Entry, error) {
	var entries []Entry
	if _, err := s.kv.GetJSON(ctx, watchlistKey(username), &entries); err != nil {
		return nil, fmt.Errorf("load watchlist %s: %w", username, err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Add appends an entry. The name and add price are filled from a live quote when missing.
func (s *Service) Add(ctx context.Context, username string, e Entry) (*Entry, error) {
	e.Code = strings.TrimSpace(e.Code)
	if !codePattern.MatchString(e.Code) {
		return nil, ErrInvalidCode
	}

	if e.Name == "" || e.AddPrice <= 0 {
		if q, err := s.quotes.GetQuote(ctx, e.Code); err == nil {
			if e.Name == "" {
				e.Name = q.Name
			}
			if e.AddPrice <= 0 {
				e.AddPrice = q.Price
			}
		} else {
			s.logger.WithError(err).WithStock(e.Code).Debug("Quote unavailable for watchlist entry")
		}
	}
	e.AddedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.List(ctx, username)
	if err != nil {
		return nil, err
	}
	for _, x := range entries {
		if x.Code == e.Code {
			return nil, ErrAlreadyWatched
		}
	}
	if len(entries) >= MaxEntries {
		return nil, fmt.Errorf("%d entries: %w", len(entries), ErrWatchlistFull)
	}

	entries = append(entries, e)
	if err := s.kv.SetJSON(ctx, watchlistKey(username), entries, TTL); err != nil {
		return nil, fmt.Errorf("save watchlist %s: %w", username, err)
	}
	return &e, nil
}

// Remove deletes code from the watchlist
func (s *Service) Remove(ctx context.Context, username, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.List(ctx, username)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.Code != code {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return ErrNotWatched
	}
	if err := s.kv.SetJSON(ctx, watchlistKey(username), kept, TTL); err != nil {
		return fmt.Errorf("save watchlist %s: %w", username, err)
	}
	return nil
}

// Alerts returns the alerts of username
func (s *Service) Alerts(ctx context.Context, username string) ([]Alert, error) {
	var alerts []Alert
	if _, err := s.kv.GetJSON(ctx, alertsKey(username), &alerts); err != nil {
		return nil, fmt.Errorf("load alerts %s: %w", username, err)
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return alerts, nil
}

// AddAlert validates and stores a new alert
func (s *Service) AddAlert(ctx context.Context, username string, a Alert) (*Alert, error) {
	a.Code = strings.TrimSpace(a.Code)
	if !codePattern.MatchString(a.Code) {
		return nil, ErrInvalidCode
	}
	if a.TargetPrice <= 0 {
		return nil, fmt.Errorf("target price must be positive: %w", ErrInvalidAlert)
	}
	if a.Direction != Above && a.Direction != Below {
		return nil, fmt.Errorf("direction must be above or below: %w", ErrInvalidAlert)
	}

	a.ID = newID()
	a.Triggered = false
	a.TriggerPrice = 0
	a.TriggeredAt = nil
	a.CreatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, err := s.Alerts(ctx, username)
	if err != nil {
		return nil, err
	}
	if len(alerts) >= MaxEntries {
		return nil, fmt.Errorf("%d alerts: %w", len(alerts), ErrWatchlistFull)
	}
	alerts = append(alerts, a)
	if err := s.saveAlerts(ctx, username, alerts); err != nil {
		return nil, err
	}
	if err := s.trackUser(ctx, username); err != nil {
		return nil, err
	}
	return &a, nil
}

// RemoveAlert deletes the alert with id
func (s *Service) RemoveAlert(ctx context.Context, username, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alerts, err := s.Alerts(ctx, username)
	if err != nil {
		return err
	}
	kept := alerts[:0]
	for _, a := range alerts {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	if len(kept) == len(alerts) {
		return ErrAlertNotFound
	}
	return s.saveAlerts(ctx, username, kept)
}

// CheckAlerts compares every pending alert with the live price and marks
// the crossed ones triggered. Each code is quoted at most once per call.
func (s *Service) CheckAlerts(ctx context.Context) ([]Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.alertUsers(ctx)
	if err != nil {
		return nil, err
	}

	prices := make(map[string]float64)
	var (
		hits   []Hit
		active []string
	)
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return hits, err
		}
		alerts, err := s.Alerts(ctx, user)
		if err != nil {
			return hits, err
		}

		changed, pending := false, 0
		for i := range alerts {
			a := &alerts[i]
			if a.Triggered {
				continue
			}
			price, ok := prices[a.Code]
			if !ok {
				q, err := s.quotes.GetQuote(ctx, a.Code)
				if err != nil {
					s.logger.WithError(err).WithStock(a.Code).Warn("Quote failed during alert check")
					pending++
					continue
				}
				price = q.Price
				prices[a.Code] = price
			}
			if !crossed(*a, price) {
				pending++
				continue
			}
			now := s.now()
			a.Triggered = true
			a.TriggerPrice = price
			a.TriggeredAt = &now
			changed = true
			hits = append(hits, Hit{Username: user, Alert: *a})

			s.logger.WithFields(map[string]interface{}{
				"username":  user,
				"code":      a.Code,
				"target":    a.TargetPrice,
				"price":     price,
				"direction": a.Direction,
			}).Info("Price alert triggered")
		}
		if changed {
			if err := s.saveAlerts(ctx, user, alerts); err != nil {
				return hits, err
			}
		}
		if pending > 0 {
			active = append(active, user)
		}
	}

	if err := s.kv.SetJSON(ctx, alertUsersKey, active, TTL); err != nil {
		return hits, fmt.Errorf("save alert users: %w", err)
	}
	return hits, nil
}

func crossed(a Alert, price float64) bool {
	if price <= 0 {
		return false
	}
	if a.Direction == Above {
		return price >= a.TargetPrice
	}
	return price <= a.TargetPrice
}

func (s *Service) saveAlerts(ctx context.Context, username string, alerts []Alert) error {
	if err := s.kv.SetJSON(ctx, alertsKey(username), alerts, TTL); err != nil {
		return fmt.Errorf("save alerts %s: %w", username, err)
	}
	return nil
}

func (s *Service) alertUsers(ctx context.Context) ([]string, error) {
	var users []string
	if _, err := s.kv.GetJSON(ctx, alertUsersKey, &users); err != nil {
		return nil, fmt.Errorf("load alert users: %w", err)
	}
	return users, nil
}

func (s *Service) trackUser(ctx context.Context, username string) error {
	users, err := s.alertUsers(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		if u == username {
			return nil
		}
	}
	users = append(users, username)
	sort.Strings(users)
	if err := s.kv.SetJSON(ctx, alertUsersKey, users, TTL); err != nil {
		return fmt.Errorf("save alert users: %w", err)
	}
	return nil
}

func newID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
