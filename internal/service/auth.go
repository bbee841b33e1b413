// Package service contains application services: identity, chats, groups and
// messages. Together they form the persistence/authorization collaborator of
// the realtime core.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/and161185/studydesk/internal/crypto"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/limiter"
	"github.com/and161185/studydesk/internal/model"
	"github.com/and161185/studydesk/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

// AuthService defines account registration, login and identity lookup.
type AuthService interface {
	// Register creates a new user with secure password hashing.
	Register(ctx context.Context, username, displayName, password string) (uuid.UUID, error)
	// Login applies rate-limiting by (username, remote address) and issues an access token.
	Login(ctx context.Context, username, password, remoteAddr string) (model.Tokens, model.User, error)
	// Identity returns the public identity of a user.
	Identity(ctx context.Context, id uuid.UUID) (*model.User, error)
}

type AuthServiceImpl struct {
	users     repository.UserRepository
	signKey   []byte
	accessTTL time.Duration
	lim       limiter.Limiter
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(users repository.UserRepository, signKey []byte, accessTTL time.Duration, lim limiter.Limiter) *AuthServiceImpl {
	return &AuthServiceImpl{users: users, signKey: signKey, accessTTL: accessTTL, lim: lim}
}

const (
	maxUsernameLen = 64
	minPasswordLen = 6
)

// Register validates input and stores a new account.
func (s *AuthServiceImpl) Register(ctx context.Context, username, displayName, password string) (uuid.UUID, error) {
	username = strings.TrimSpace(username)
	displayName = strings.TrimSpace(displayName)
	switch {
	case username == "" || len(username) > maxUsernameLen:
		return uuid.Nil, fmt.Errorf("%w: username must be 1..%d characters", errs.ErrValidation, maxUsernameLen)
	case len(password) < minPasswordLen:
		return uuid.Nil, fmt.Errorf("%w: password must be at least %d characters", errs.ErrValidation, minPasswordLen)
	}
	if displayName == "" {
		displayName = username
	}

	uid, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, err
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return uuid.Nil, err
	}
	u := &model.User{
		ID:          uid,
		Username:    username,
		DisplayName: displayName,
		PwdHash:     crypto.HashPassword(password, salt),
		SaltAuth:    salt,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return uuid.Nil, err
	}
	return uid, nil
}

// Login authenticates with rate limiting by (username, remote host).
func (s *AuthServiceImpl) Login(ctx context.Context, username, password, remoteAddr string) (model.Tokens, model.User, error) {
	ipHash := limiter.HashIP(remoteAddr)

	allowed, _, err := s.lim.Allow(ctx, username, ipHash)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	if !allowed {
		return model.Tokens{}, model.User{}, errs.ErrRateLimited
	}

	u, err := s.users.GetByUsername(ctx, username)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.Tokens{}, model.User{}, err
	}
	if err != nil || !crypto.VerifyPassword(password, u.SaltAuth, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, username, ipHash); ferr == nil && blocked {
			return model.Tokens{}, model.User{}, errs.ErrRateLimited
		}
		// unknown user and wrong password look the same
		return model.Tokens{}, model.User{}, errs.ErrUnauthenticated
	}

	_ = s.lim.Success(ctx, username, ipHash)

	access, exp, err := s.issueAccessToken(u.ID)
	if err != nil {
		return model.Tokens{}, model.User{}, err
	}
	return model.Tokens{AccessToken: access, ExpiresAt: exp}, *u, nil
}

// Identity loads a user by id.
func (s *AuthServiceImpl) Identity(ctx context.Context, id uuid.UUID) (*model.User, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	return s.users.GetByID(ctx, id)
}

// issueAccessToken creates a signed HS256 JWT for the given subject.
func (s *AuthServiceImpl) issueAccessToken(userID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.signKey)
	return signed, exp, err
}
