package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/pinetwork"
	"pitaxi/internal/repository"
)

// IdentityVerifier resolves a payment network access token to its account.
type IdentityVerifier interface {
	Me(ctx context.Context, accessToken string) (*pinetwork.User, error)
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	Sign(user *domain.User) (string, time.Time, error)
}

// initialRating is what a user starts with before the first rating.
var initialRating = decimal.NewFromInt(5)

// UserService signs users in and exposes their records.
type UserService struct {
	store    repository.Store
	identity IdentityVerifier
	tokens   TokenIssuer
	log      logger.ILogger
	now      func() time.Time
}

// NewUserService creates a new UserService. identity may be nil, in which
// case Authenticate fails with ErrPaymentNotConfigured.
func NewUserService(store repository.Store, identity IdentityVerifier, tokens TokenIssuer, log logger.ILogger) *UserService {
	return &UserService{
		store:    store,
		identity: identity,
		tokens:   tokens,
		log:      log,
		now:      time.Now,
	}
}

// AuthenticateRequest carries a network access token and, on first sign-in,
// an optional referring agent.
type AuthenticateRequest struct {
	AccessToken string
	ReferredBy  string
}

// Session is a signed-in user.
type Session struct {
	User      *domain.User
	Token     string
	ExpiresAt time.Time
}

// Authenticate verifies the access token with the network, creates the user
// on first sign-in and issues a session token.
func (s *UserService) Authenticate(ctx context.Context, req AuthenticateRequest) (*Session, error) {
	if req.AccessToken == "" {
		return nil, ErrInvalidAccessToken
	}
	if s.identity == nil {
		return nil, ErrPaymentNotConfigured
	}

	account, err := s.identity.Me(ctx, req.AccessToken)
	if err != nil {
		var apiErr *pinetwork.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			return nil, ErrInvalidAccessToken
		}
		return nil, networkError("me", err)
	}

	user, err := s.getOrCreate(ctx, account, req.ReferredBy)
	if err != nil {
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, ErrUserInactive
	}

	token, expiresAt, err := s.tokens.Sign(user)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	return &Session{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

func (s *UserService) getOrCreate(ctx context.Context, account *pinetwork.User, referredBy string) (*domain.User, error) {
	users := s.store.Repos().Users

	user, err := users.GetByPiUID(ctx, account.UID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if referredBy != "" {
		agent, err := users.GetByID(ctx, referredBy)
		if err != nil || agent.Role != domain.UserRoleAgent {
			s.log.Info("ignoring unknown referral agent", logger.String("agent_id", referredBy))
			referredBy = ""
		}
	}

	now := s.now().UTC()
	user = &domain.User{
		ID:         uuid.New().String(),
		PiUID:      account.UID,
		Username:   account.Username,
		Role:       domain.UserRoleRider,
		Status:     domain.UserStatusActive,
		Rating:     initialRating,
		ReferredBy: referredBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			// Concurrent first sign-in.
			return users.GetByPiUID(ctx, account.UID)
		}
		return nil, err
	}

	s.log.Info("user created", logger.String("user_id", user.ID))
	return user, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	return s.store.Repos().Users.GetByID(ctx, id)
}

// Referrals returns the referral stats of an agent.
func (s *UserService) Referrals(ctx context.Context, agentID string) ([]*domain.AgentReferral, error) {
	agent, err := s.store.Repos().Users.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Role != domain.UserRoleAgent {
		return nil, ErrForbidden
	}
	return s.store.Repos().Referrals.ListByAgent(ctx, agentID)
}
