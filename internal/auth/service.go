// Package auth issues and verifies the bearer tokens that carry the
// caller's identity triple: user id, company id, and role.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

// UserStore resolves login credentials to accounts.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
}

// Claims is the JWT payload. Company and role travel in the token so request
// handling never needs a user lookup.
type Claims struct {
	jwt.RegisteredClaims
	CompanyID string `json:"company_id"`
	Role      string `json:"role"`
}

// Service authenticates users and manages token lifecycle. Revoked token ids
// are held in redis until their natural expiry.
type Service struct {
	users  UserStore
	redis  *redis.Client
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService constructs a Service.
func NewService(userStore UserStore, rdb *redis.Client, secret []byte, ttl time.Duration) *Service {
	return &Service{
		users:  userStore,
		redis:  rdb,
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Session is the result of a successful login.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      users.User
}

// Login validates credentials and issues a signed token. Every failure mode
// collapses to ErrInvalidCredentials; callers learn nothing about which part
// was wrong.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return Session{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return Session{}, shared.ErrInvalidCredentials
	}

	now := s.now()
	expires := now.Add(s.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		CompanyID: user.CompanyID.String(),
		Role:      string(user.Role),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Session{}, fmt.Errorf("sign token: %w", err)
	}
	return Session{Token: token, ExpiresAt: expires, User: user}, nil
}

// Logout revokes the token by blacklisting its id for the remaining lifetime.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return shared.ErrUnauthorized
	}
	remaining := claims.ExpiresAt.Sub(s.now())
	if remaining <= 0 {
		return nil
	}
	return s.redis.Set(ctx, blacklistKey(claims.ID), "1", remaining).Err()
}

// Verify parses a token and returns the identity it carries. Revoked and
// malformed tokens are rejected alike.
func (s *Service) Verify(ctx context.Context, token string) (shared.Identity, error) {
	claims, err := s.parse(token)
	if err != nil {
		return shared.Identity{}, shared.ErrUnauthorized
	}
	revoked, err := s.redis.Exists(ctx, blacklistKey(claims.ID)).Result()
	if err != nil {
		return shared.Identity{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked > 0 {
		return shared.Identity{}, shared.ErrUnauthorized
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return shared.Identity{}, shared.ErrUnauthorized
	}
	companyID, err := uuid.Parse(claims.CompanyID)
	if err != nil {
		return shared.Identity{}, shared.ErrUnauthorized
	}
	role := shared.Role(claims.Role)
	if !role.Valid() {
		return shared.Identity{}, shared.ErrUnauthorized
	}
	return shared.Identity{UserID: userID, CompanyID: companyID, Role: role}, nil
}

func (s *Service) parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ID == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func blacklistKey(jti string) string {
	return "auth:revoked:" + jti
}
