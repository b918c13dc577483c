package users

import (
	"context"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/larder-scm/larder-scm/internal/codes"
	"github.com/larder-scm/larder-scm/internal/shared"
)

// RepositoryPort abstracts repository usage for Service.
type RepositoryPort interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	Insert(ctx context.Context, u User, passwordHash string) (int64, error)
	Update(ctx context.Context, id int64, input UpdateInput, passwordHash string) error
}

// Service manages user accounts.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

func (s *Service) List(ctx context.Context, actor shared.Actor) ([]User, error) {
	if !actor.CanManageCatalog() {
		return nil, shared.ErrForbidden
	}
	return s.repo.List(ctx)
}

func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (User, error) {
	if !actor.CanManageCatalog() {
		return User{}, shared.ErrForbidden
	}
	return s.repo.Get(ctx, id)
}

// Create registers an account. The password is stored as a bcrypt hash and
// the email must be unique.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (User, error) {
	if !actor.CanManageCatalog() {
		return User{}, shared.ErrForbidden
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return User{}, shared.Validationf("invalid email address")
	}
	if input.FullName == "" {
		return User{}, shared.Validationf("full name is required")
	}
	if input.RoleName == "" {
		return User{}, shared.Validationf("role is required")
	}
	if len(input.Password) < 8 {
		return User{}, shared.Validationf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}
	u := User{
		Email:     email,
		FullName:  input.FullName,
		RoleName:  input.RoleName,
		IsActive:  true,
		BranchIDs: input.BranchIDs,
	}
	id, err := s.repo.Insert(ctx, u, string(hash))
	if err != nil {
		if codes.IsUniqueViolation(err) {
			return User{}, shared.Validationf("email %s is already registered", email)
		}
		return User{}, err
	}
	return s.repo.Get(ctx, id)
}

// Update changes account fields. Nil fields stay as they are; an empty
// password means the password is unchanged.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, input UpdateInput) (User, error) {
	if !actor.CanManageCatalog() {
		return User{}, shared.ErrForbidden
	}
	if input.FullName != nil && *input.FullName == "" {
		return User{}, shared.Validationf("full name is required")
	}
	if input.RoleName != nil && *input.RoleName == "" {
		return User{}, shared.Validationf("role is required")
	}
	var hash string
	if input.Password != nil && *input.Password != "" {
		if len(*input.Password) < 8 {
			return User{}, shared.Validationf("password must be at least 8 characters")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(*input.Password), bcrypt.DefaultCost)
		if err != nil {
			return User{}, err
		}
		hash = string(h)
	}
	if err := s.repo.Update(ctx, id, input, hash); err != nil {
		return User{}, err
	}
	return s.repo.Get(ctx, id)
}

// Deactivate disables sign-in without deleting the account.
func (s *Service) Deactivate(ctx context.Context, actor shared.Actor, id int64) error {
	if !actor.CanManageCatalog() {
		return shared.ErrForbidden
	}
	inactive := false
	return s.repo.Update(ctx, id, UpdateInput{IsActive: &inactive}, "")
}
