package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/expenseflow/expenseflow/internal/shared"
	"github.com/expenseflow/expenseflow/internal/users"
)

type stubUsers struct {
	byEmail map[string]users.User
}

func (s *stubUsers) GetByEmail(_ context.Context, email string) (users.User, error) {
	u, ok := s.byEmail[email]
	if !ok {
		return users.User{}, users.ErrNotFound
	}
	return u, nil
}

func newTestService(t *testing.T) (*Service, users.User) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	user := users.User{
		ID:           uuid.New(),
		CompanyID:    uuid.New(),
		Email:        "ada@example.com",
		Name:         "Ada",
		PasswordHash: string(hash),
		Role:         shared.RoleEmployee,
		IsActive:     true,
	}
	store := &stubUsers{byEmail: map[string]users.User{user.Email: user}}
	return NewService(store, rdb, []byte("test-secret"), time.Hour), user
}

func TestLoginAndVerify(t *testing.T) {
	svc, user := newTestService(t)

	session, err := svc.Login(context.Background(), user.Email, "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, session.Token)

	identity, err := svc.Verify(context.Background(), session.Token)
	require.NoError(t, err)
	require.Equal(t, user.ID, identity.UserID)
	require.Equal(t, user.CompanyID, identity.CompanyID)
	require.Equal(t, shared.RoleEmployee, identity.Role)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, user := newTestService(t)

	_, err := svc.Login(context.Background(), user.Email, "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "nobody@example.com", "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLoginInactiveUser(t *testing.T) {
	svc, user := newTestService(t)
	user.IsActive = false
	svc.users.(*stubUsers).byEmail[user.Email] = user

	_, err := svc.Login(context.Background(), user.Email, "correct horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, user := newTestService(t)

	session, err := svc.Login(context.Background(), user.Email, "correct horse")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), session.Token))

	_, err = svc.Verify(context.Background(), session.Token)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	svc, user := newTestService(t)

	session, err := svc.Login(context.Background(), user.Email, "correct horse")
	require.NoError(t, err)

	_, err = svc.Verify(context.Background(), session.Token+"x")
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	svc, user := newTestService(t)
	svc.now = func() time.Time { return time.Now().UTC().Add(-2 * time.Hour) }

	session, err := svc.Login(context.Background(), user.Email, "correct horse")
	require.NoError(t, err)

	svc.now = func() time.Time { return time.Now().UTC() }
	_, err = svc.Verify(context.Background(), session.Token)
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}
