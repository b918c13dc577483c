package users

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/larder-scm/larder-scm/internal/shared"
)

type storedUser struct {
	user User
	hash string
}

type memoryRepo struct {
	nextID   int64
	accounts map[int64]*storedUser
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{nextID: 1, accounts: map[int64]*storedUser{}}
}

func (m *memoryRepo) List(ctx context.Context) ([]User, error) {
	var out []User
	for _, s := range m.accounts {
		out = append(out, s.user)
	}
	return out, nil
}

func (m *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	s, ok := m.accounts[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return s.user, nil
}

func (m *memoryRepo) Insert(ctx context.Context, u User, passwordHash string) (int64, error) {
	for _, s := range m.accounts {
		if s.user.Email == u.Email {
			return 0, &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}
		}
	}
	u.ID = m.nextID
	m.nextID++
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.accounts[u.ID] = &storedUser{user: u, hash: passwordHash}
	return u.ID, nil
}

func (m *memoryRepo) Update(ctx context.Context, id int64, input UpdateInput, passwordHash string) error {
	s, ok := m.accounts[id]
	if !ok {
		return shared.ErrNotFound
	}
	if input.FullName != nil {
		s.user.FullName = *input.FullName
	}
	if input.RoleName != nil {
		s.user.RoleName = *input.RoleName
	}
	if input.IsActive != nil {
		s.user.IsActive = *input.IsActive
	}
	if passwordHash != "" {
		s.hash = passwordHash
	}
	if input.BranchIDs != nil {
		s.user.BranchIDs = input.BranchIDs
	}
	s.user.UpdatedAt = time.Now()
	return nil
}

func admin() shared.Actor {
	return shared.Actor{UserID: 1, Role: shared.RoleIT}
}

func TestCreateHashesPasswordAndLowersEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	account, err := svc.Create(context.Background(), admin(), CreateInput{
		Email:     "Faisal@Example.COM",
		FullName:  "Faisal Hariri",
		RoleName:  "Branch Manager",
		Password:  "s3cret-pass",
		BranchIDs: []int64{3, 7},
	})
	require.NoError(t, err)
	require.Equal(t, "faisal@example.com", account.Email)
	require.True(t, account.IsActive)
	require.Equal(t, []int64{3, 7}, account.BranchIDs)

	stored := repo.accounts[account.ID]
	require.NotEqual(t, "s3cret-pass", stored.hash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.hash), []byte("s3cret-pass")))
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	input := CreateInput{
		Email:    "ops@example.com",
		FullName: "Ops One",
		RoleName: "Procurement",
		Password: "s3cret-pass",
	}
	_, err := svc.Create(context.Background(), admin(), input)
	require.NoError(t, err)

	input.FullName = "Ops Two"
	_, err = svc.Create(context.Background(), admin(), input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "already registered")
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newMemoryRepo())

	cases := []CreateInput{
		{Email: "not-an-email", FullName: "A", RoleName: "IT", Password: "longenough"},
		{Email: "a@example.com", FullName: "", RoleName: "IT", Password: "longenough"},
		{Email: "a@example.com", FullName: "A", RoleName: "", Password: "longenough"},
		{Email: "a@example.com", FullName: "A", RoleName: "IT", Password: "short"},
	}
	for _, input := range cases {
		_, err := svc.Create(context.Background(), admin(), input)
		require.ErrorIs(t, err, shared.ErrValidation, "input %+v", input)
	}
}

func TestCreateRequiresManagementRole(t *testing.T) {
	svc := NewService(newMemoryRepo())

	branchActor := shared.Actor{UserID: 9, Role: shared.RoleBranch}
	_, err := svc.Create(context.Background(), branchActor, CreateInput{
		Email:    "a@example.com",
		FullName: "A",
		RoleName: "IT",
		Password: "longenough",
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestUpdateReplacesBranchesAndKeepsPassword(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	account, err := svc.Create(context.Background(), admin(), CreateInput{
		Email:     "branch@example.com",
		FullName:  "Branch User",
		RoleName:  "Branch Staff",
		Password:  "s3cret-pass",
		BranchIDs: []int64{1},
	})
	require.NoError(t, err)
	oldHash := repo.accounts[account.ID].hash

	name := "Branch Lead"
	updated, err := svc.Update(context.Background(), admin(), account.ID, UpdateInput{
		FullName:  &name,
		BranchIDs: []int64{2, 4},
	})
	require.NoError(t, err)
	require.Equal(t, "Branch Lead", updated.FullName)
	require.Equal(t, []int64{2, 4}, updated.BranchIDs)
	require.Equal(t, oldHash, repo.accounts[account.ID].hash)
}

func TestDeactivateDisablesAccount(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)

	account, err := svc.Create(context.Background(), admin(), CreateInput{
		Email:    "gone@example.com",
		FullName: "Leaver",
		RoleName: "Warehouse",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), admin(), account.ID))
	got, err := repo.Get(context.Background(), account.ID)
	require.NoError(t, err)
	require.False(t, got.IsActive)
}
