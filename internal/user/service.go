// Package user handles account registration, credential checks, and bearer
// tokens. The task engine itself never sees credential material; it only
// consumes the user ID this package vouches for.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"tempoq/internal/domain"
	"tempoq/internal/store"
)

const keyPrefix = "user:name:"

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

type Service struct {
	store    store.Store
	secret   []byte
	tokenTTL time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(s store.Store, secret []byte, tokenTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:    s,
		secret:   secret,
		tokenTTL: tokenTTL,
		log:      log.With().Str("component", "users").Logger(),
		now:      time.Now,
	}
}

// Register creates an account and returns its user ID. The uniqueness check
// and the write happen in one atomic update, so two concurrent registrations
// of the same username cannot both succeed.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", fmt.Errorf("%w: username and password are required", domain.ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u := domain.User{
		ID:           "usr_" + uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	}
	b, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("encode user: %w", err)
	}
	err = s.store.Update(ctx, keyPrefix+username, func(cur []byte) ([]byte, error) {
		if cur != nil {
			return nil, ErrUsernameTaken
		}
		return b, nil
	})
	if err != nil {
		return "", err
	}
	s.log.Info().Str("user_id", u.ID).Str("username", username).Msg("user registered")
	return u.ID, nil
}

// Authenticate verifies a username/password pair and returns the user ID.
// Unknown usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, username, password string) (string, error) {
	b, err := s.store.Get(ctx, keyPrefix+username)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", username, err)
	}
	var u domain.User
	if err := json.Unmarshal(b, &u); err != nil {
		return "", fmt.Errorf("decode user %s: %w", username, err)
	}
	if bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}
	return u.ID, nil
}

// IssueToken signs a bearer token carrying the user ID as subject.
func (s *Service) IssueToken(userID, username string) (string, error) {
	sig, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.HS256, Key: s.secret},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		return "", fmt.Errorf("create signer: %w", err)
	}
	now := s.now()
	cl := jwt.Claims{
		Subject:  userID,
		IssuedAt: jwt.NewNumericDate(now),
		Expiry:   jwt.NewNumericDate(now.Add(s.tokenTTL)),
	}
	private := map[string]interface{}{"username": username}
	raw, err := jwt.Signed(sig).Claims(cl).Claims(private).Serialize()
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return raw, nil
}

// VerifyToken validates a bearer token and returns the user ID it vouches for.
func (s *Service) VerifyToken(raw string) (string, error) {
	tok, err := jwt.ParseSigned(raw, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return "", ErrInvalidToken
	}
	var cl jwt.Claims
	if err := tok.Claims(s.secret, &cl); err != nil {
		return "", ErrInvalidToken
	}
	if err := cl.Validate(jwt.Expected{Time: s.now()}); err != nil {
		return "", ErrInvalidToken
	}
	if cl.Subject == "" {
		return "", ErrInvalidToken
	}
	return cl.Subject, nil
}
