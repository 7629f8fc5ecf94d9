package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"lotbuy/internal/domain"
	"lotbuy/internal/repos"
	"lotbuy/internal/validate"
)

var ErrBadCreds = &domain.Error{Kind: domain.KindUnauthorized, Msg: "invalid email or password"}

type AuthService struct {
	Users *repos.UserRepo
}

func NewAuthService(users *repos.UserRepo) *AuthService { return &AuthService{Users: users} }

// HashPassword is the bcrypt hash used for stored credentials.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

// Register creates an account and signs it in. The returned token is the
// caller's only credential.
func (s *AuthService) Register(ctx context.Context, email, name, password string) (*domain.User, string, error) {
	email, ok := validate.Email(email)
	if !ok {
		return nil, "", domain.Validationf("a valid email is required")
	}
	name, ok = validate.Name(name)
	if !ok {
		return nil, "", domain.Validationf("name must be 1-%d characters", validate.MaxNameLen)
	}
	if !validate.Password(password) {
		return nil, "", domain.Validationf("password must be 8-64 characters with upper, lower, digit and symbol")
	}
	if _, err := s.Users.ByEmail(ctx, email); err == nil {
		return nil, "", domain.Conflictf("an account with this email already exists")
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}
	id := uuid.NewString()
	if err := s.Users.Create(ctx, id, strings.ToLower(email), name, hash); err != nil {
		return nil, "", err
	}
	return s.startSession(ctx, id)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	u, err := s.Users.ByEmail(ctx, email)
	if err != nil {
		return nil, "", ErrBadCreds
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Hash), []byte(password)) != nil {
		return nil, "", ErrBadCreds
	}
	return s.startSession(ctx, u.ID)
}

func (s *AuthService) startSession(ctx context.Context, userID string) (*domain.User, string, error) {
	token := uuid.NewString()
	if err := s.Users.BindSession(ctx, token, userID); err != nil {
		return nil, "", err
	}
	u, err := s.Users.ByID(ctx, userID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// ProfilePatch holds the profile fields a user may change. Nil leaves a
// field as it is.
type ProfilePatch struct {
	Name      *string
	Location  *string
	AvatarURL *string
}

const maxLocationLen = 120

func (s *AuthService) UpdateProfile(ctx context.Context, userID string, p ProfilePatch) (*domain.User, error) {
	u, err := s.Users.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.Name != nil {
		name, ok := validate.Name(*p.Name)
		if !ok {
			return nil, domain.Validationf("name must be 1-%d characters", validate.MaxNameLen)
		}
		u.Name = name
	}
	if p.Location != nil {
		loc := strings.TrimSpace(*p.Location)
		if len(loc) > maxLocationLen {
			return nil, domain.Validationf("location must be at most %d characters", maxLocationLen)
		}
		u.Location = loc
	}
	if p.AvatarURL != nil {
		avatar := strings.TrimSpace(*p.AvatarURL)
		if avatar != "" && len(cleanURLs([]string{avatar})) == 0 {
			return nil, domain.Validationf("avatar must be a URL")
		}
		u.AvatarURL = avatar
	}
	if err := s.Users.UpdateProfile(ctx, u.ID, u.Name, u.Location, u.AvatarURL); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) Logout(ctx context.Context, token string) error {
	return s.Users.DeleteSession(ctx, token)
}

func (s *AuthService) CurrentUser(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.Unauthorizedf("authentication required")
	}
	u, err := s.Users.SessionUser(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Unauthorizedf("session expired or invalid")
		}
		return nil, err
	}
	return u, nil
}
