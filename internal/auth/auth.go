package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"parley/internal/models"
)

const (
	DefaultTokenExpiry = time.Hour
	DefaultAbout       = "Hey there! I am using Parley."
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
)

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	About    string `json:"about,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserCredentials is a user together with the secret material that never
// leaves the server.
type UserCredentials struct {
	models.User
	PasswordHash string
}

// CredentialStore is the part of the storage the auth service depends on.
type CredentialStore interface {
	CreateUser(creds UserCredentials) (models.User, error)
	GetCredentialsByEmail(email string) (UserCredentials, error)
	GetUser(id string) (models.User, error)
}

type Config struct {
	Secret      string
	TokenExpiry time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = bcrypt.DefaultCost
	}
	return nil
}

type AuthService struct {
	Config
	store CredentialStore
	// revoked holds the ids of logged out tokens until they would have
	// expired anyway.
	revoked geche.Geche[string, struct{}]
	now     func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:  config,
		store:   store,
		revoked: geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		now:     time.Now,
	}, nil
}

// Signup creates the user and returns a token for it. The request is
// expected to be validated by the caller.
func (as *AuthService) Signup(req SignupRequest) (models.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), as.BcryptCost)
	if err != nil {
		return models.User{}, "", fmt.Errorf("failed to hash password: %w", err)
	}

	about := strings.TrimSpace(req.About)
	if about == "" {
		about = DefaultAbout
	}

	user, err := as.store.CreateUser(UserCredentials{
		User: models.User{
			Username: strings.TrimSpace(req.Username),
			Email:    normalizeEmail(req.Email),
			About:    about,
			Status:   models.StatusOffline,
		},
		PasswordHash: string(hash),
	})
	if err != nil {
		return models.User{}, "", err
	}

	token, err := as.issueToken(user.ID)
	if err != nil {
		return models.User{}, "", err
	}
	slog.Info("user signed up", "user_id", user.ID)
	return user, token, nil
}

// Login checks the password of the user with the given email. Unknown
// emails and wrong passwords are both reported as ErrInvalidCredentials.
func (as *AuthService) Login(req LoginRequest) (models.User, string, error) {
	creds, err := as.store.GetCredentialsByEmail(normalizeEmail(req.Email))
	if errors.Is(err, models.ErrNotFound) {
		return models.User{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(creds.PasswordHash), []byte(req.Password)); err != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	token, err := as.issueToken(creds.ID)
	if err != nil {
		return models.User{}, "", err
	}
	return creds.User, token, nil
}

// Logoff revokes the token. Logging off with an already invalid token is
// not an error.
func (as *AuthService) Logoff(token string) error {
	claims, err := as.parse(token)
	if err != nil {
		return nil
	}
	as.revoked.Set(claims.ID, struct{}{})
	return nil
}

// GetUserID returns the user the token was issued to.
func (as *AuthService) GetUserID(token string) (string, error) {
	claims, err := as.parse(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	if _, err := as.revoked.Get(claims.ID); err == nil {
		return "", ErrUnauthorized
	}
	return claims.Subject, nil
}

// CurrentUser resolves the token to the stored user.
func (as *AuthService) CurrentUser(token string) (models.User, error) {
	userID, err := as.GetUserID(token)
	if err != nil {
		return models.User{}, err
	}
	user, err := as.store.GetUser(userID)
	if errors.Is(err, models.ErrNotFound) {
		return models.User{}, ErrUnauthorized
	}
	return user, err
}

func (as *AuthService) issueToken(userID string) (string, error) {
	now := as.now()
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(as.TokenExpiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

func (as *AuthService) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(as.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(as.now),
	)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
