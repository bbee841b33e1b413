package service

import (
	"context"
	"errors"
	"testing"
	"time"

	pkgcrypto "github.com/and161185/studydesk/internal/crypto"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/limiter"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error

	presence map[uuid.UUID]string
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}
func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}
func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}
func (f *fakeUsers) SetPresence(_ context.Context, id uuid.UUID, status string, _ time.Time) error {
	if f.presence == nil {
		f.presence = map[uuid.UUID]string{}
	}
	f.presence[id] = status
	return nil
}

func (f *fakeUsers) add(name string) *model.User {
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: name, DisplayName: name + " display"}
	f.byName[name] = u
	return u
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}
func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}
func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := NewAuthService(users, []byte("k"), time.Minute, &fakeLimiter{})
	ctx := context.Background()

	if _, err := s.Register(ctx, "", "", ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on empty username, got %v", err)
	}
	if _, err := s.Register(ctx, "alice", "", "123"); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on short password, got %v", err)
	}

	id, err := s.Register(ctx, "  alice ", "", "secret-pwd")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == uuid.Nil {
		t.Fatalf("empty user id")
	}
	stored := users.byName["alice"]
	if stored == nil || stored.DisplayName != "alice" {
		t.Fatalf("display name should default to username: %+v", stored)
	}
	if !pkgcrypto.VerifyPassword("secret-pwd", stored.SaltAuth, stored.PwdHash) {
		t.Fatalf("stored hash does not verify")
	}

	if _, err := s.Register(ctx, "alice", "A", "secret-pwd2"); !errors.Is(err, errs.ErrAlreadyExists) {
		t.Fatalf("want ErrAlreadyExists on duplicate username, got %v", err)
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(ctx, "bob", "Bob", "secret-pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_Login_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.NewSalt()
	u := &model.User{
		ID:          uuid.Must(uuid.NewV4()),
		Username:    "alice",
		DisplayName: "Alice",
		SaltAuth:    salt,
		PwdHash:     pkgcrypto.HashPassword("correct", salt),
	}

	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	lim := &fakeLimiter{allowOK: true}
	s := NewAuthService(users, []byte("secret"), 2*time.Minute, lim)
	ctx := context.Background()

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.Login(ctx, "alice", "correct", "1.2.3.4:5"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.Login(ctx, "alice", "correct", "1.2.3.4:5"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	if _, _, err := s.Login(ctx, "nope", "x", ""); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated on missing user, got %v", err)
	}

	users.getErr = errors.New("db down")
	if _, _, err := s.Login(ctx, "alice", "correct", ""); err == nil || errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want storage error, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.Login(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.Login(ctx, "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated on wrong password, got %v", err)
	}

	tok, gotUser, err := s.Login(ctx, "alice", "correct", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("Login success: %v", err)
	}
	if tok.AccessToken == "" || tok.ExpiresAt.Before(time.Now()) {
		t.Fatalf("bad token: %+v", tok)
	}
	if gotUser.ID != u.ID || gotUser.DisplayName != "Alice" {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_Login_TokenClaims(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.NewSalt()
	u := &model.User{ID: uuid.Must(uuid.NewV4()), Username: "bob", SaltAuth: salt, PwdHash: pkgcrypto.HashPassword("pw-pw-pw", salt)}
	users := &fakeUsers{byName: map[string]*model.User{"bob": u}}
	key := []byte("sign-key")
	s := NewAuthService(users, key, time.Hour, &fakeLimiter{allowOK: true})

	tok, _, err := s.Login(context.Background(), "bob", "pw-pw-pw", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok.AccessToken, &claims, func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not validate: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Fatalf("subject = %q, want %q", claims.Subject, u.ID)
	}
	if d := claims.ExpiresAt.Sub(claims.IssuedAt.Time); d != time.Hour {
		t.Fatalf("ttl = %v, want 1h", d)
	}
}

func TestAuth_Identity(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{}
	u := users.add("carol")
	s := NewAuthService(users, []byte("k"), time.Minute, &fakeLimiter{})

	if _, err := s.Identity(context.Background(), uuid.Nil); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("want validation error on nil id, got %v", err)
	}
	got, err := s.Identity(context.Background(), u.ID)
	if err != nil || got.Username != "carol" {
		t.Fatalf("Identity: %+v %v", got, err)
	}
	if _, err := s.Identity(context.Background(), uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
