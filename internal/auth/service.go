package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/wonny/bullscan/internal/contracts"
	"github.com/wonny/bullscan/pkg/logger"
	"github.com/wonny/bullscan/pkg/redis"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username already registered")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidInvite      = errors.New("invalid or exhausted invite code")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrInvalidInput       = errors.New("invalid registration input")
)

const (
	minPasswordLen    = 6
	defaultTokenTTL   = 72 * time.Hour
	revokedKeyPrefix  = "auth_revoked:"
	defaultInviteUses = 1
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,32}$`)

// Claims is the access token payload. Subject holds the username.
type Claims struct {
	Tier contracts.Tier `json:"tier"`
	jwt.RegisteredClaims
}

// Token is returned by Login and Register
type Token struct {
	AccessToken string          `json:"access_token"`
	ExpiresAt   time.Time       `json:"expires_at"`
	User        *contracts.User `json:"user"`
}

// Service registers users and issues access tokens
type Service struct {
	store          Store
	kv             *redis.KV
	secret         []byte
	ttl            time.Duration
	inviteRequired bool
	logger         *logger.Logger
	now            func() time.Time
}

// NewService creates an auth service. kv holds revoked token ids.
func NewService(store Store, kv *redis.KV, secret string, ttl time.Duration, inviteRequired bool, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if secret == "" {
		secret = randomHex(32)
		log.Warn("JWT_SECRET not set, tokens will not survive a restart")
	}
	return &Service{
		store:          store,
		kv:             kv,
		secret:         []byte(secret),
		ttl:            ttl,
		inviteRequired: inviteRequired,
		logger:         log.WithComponent("auth"),
		now:            time.Now,
	}
}

// RegisterRequest is the registration form
type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Email      string `json:"email"`
	InviteCode string `json:"invite_code"`
}

// Register creates a free-tier account and logs it in
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Token, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.InviteCode = strings.TrimSpace(req.InviteCode)
	if !usernamePattern.MatchString(req.Username) {
		return nil, fmt.Errorf("username must be 3-32 letters, digits or underscores: %w", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLen {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLen, ErrInvalidInput)
	}
	if s.inviteRequired && req.InviteCode == "" {
		return nil, ErrInvalidInvite
	}

	if _, err := s.store.UserByUsername(ctx, req.Username); err == nil {
		return nil, ErrUserExists
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if req.InviteCode != "" {
		if err := s.store.ConsumeInvite(ctx, req.InviteCode); err != nil {
			return nil, err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &contracts.User{
		Username:     req.Username,
		Email:        strings.TrimSpace(req.Email),
		PasswordHash: string(hash),
		Tier:         contracts.TierFree,
		InviteCode:   req.InviteCode,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.logger.WithField("username", u.Username).Info("User registered")
	return s.issue(u)
}

// Login verifies the password and returns a fresh token
func (s *Service) Login(ctx context.Context, username, password string) (*Token, error) {
	u, err := s.store.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrAccountDisabled
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		s.logger.WithField("username", username).Debug("Password verification failed")
		return nil, ErrInvalidCredentials
	}

	now := s.now()
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.WithError(err).WithField("username", u.Username).Warn("Failed to update last login")
	}
	u.LastLogin = &now
	return s.issue(u)
}

func (s *Service) issue(u *contracts.User) (*Token, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Tier: u.Tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			ID:        randomHex(8),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &Token{AccessToken: signed, ExpiresAt: exp, User: u}, nil
}

// Validate parses an access token and rejects revoked ones
func (s *Service) Validate(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	var revoked bool
	found, err := s.kv.GetJSON(ctx, revokedKeyPrefix+claims.ID, &revoked)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if found && revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the token until it would have expired anyway
func (s *Service) Logout(ctx context.Context, claims *Claims) error {
	ttl := time.Minute
	if claims.ExpiresAt != nil {
		if d := claims.ExpiresAt.Sub(s.now()); d > 0 {
			ttl = d
		}
	}
	if err := s.kv.SetJSON(ctx, revokedKeyPrefix+claims.ID, true, ttl); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	s.logger.WithField("username", claims.Subject).Info("User logged out")
	return nil
}

// User loads the current account of username
func (s *Service) User(ctx context.Context, username string) (*contracts.User, error) {
	return s.store.UserByUsername(ctx, username)
}

// SetTier changes the tier of username, used when a VIP application is approved
func (s *Service) SetTier(ctx context.Context, username string, tier contracts.Tier) error {
	if !tier.Valid() {
		return fmt.Errorf("tier %q: %w", tier, ErrInvalidInput)
	}
	if err := s.store.SetTier(ctx, username, tier); err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"username": username,
		"tier":     tier,
	}).Info("Tier changed")
	return nil
}

// CreateInvite issues a new invite code usable maxUses times
func (s *Service) CreateInvite(ctx context.Context, createdBy string, maxUses int) (*Invite, error) {
	if maxUses <= 0 {
		maxUses = defaultInviteUses
	}
	inv := Invite{
		Code:      strings.ToUpper(randomHex(4)),
		CreatedBy: createdBy,
		MaxUses:   maxUses,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Invites lists every invite code
func (s *Service) Invites(ctx context.Context) ([]Invite, error) {
	return s.store.Invites(ctx)
}

// EnsureAdmin creates a super-tier account if username does not exist yet
func (s *Service) EnsureAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return nil
	}
	if _, err := s.store.UserByUsername(ctx, username); err == nil {
		return nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u := &contracts.User{Username: username, PasswordHash: string(hash), Tier: contracts.TierSuper, IsActive: true}
	if err := s.store.CreateUser(ctx, u); err != nil && !errors.Is(err, ErrUserExists) {
		return err
	}
	s.logger.WithField("username", username).Info("Admin account created")
	return nil
}

func randomHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
