package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/larder-scm/larder-scm/internal/shared"
)

type memoryRepo struct {
	users    map[int64]*User
	branches map[int64][]int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]*User{}, branches: map[int64][]int64{}}
}

func (r *memoryRepo) addUser(id int64, email, role, password string, active bool, branches ...int64) {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	r.users[id] = &User{
		ID: id, Email: email, FullName: "Test User", RoleName: role,
		PasswordHash: string(hash), IsActive: active,
	}
	r.branches[id] = branches
}

func (r *memoryRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (r *memoryRepo) FindByID(ctx context.Context, id int64) (*User, error) {
	u, ok := r.users[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) BranchIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.branches[userID], nil
}

func (r *memoryRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (r *memoryRepo) DeleteSession(ctx context.Context, id string) error {
	return nil
}

func TestAuthenticateChecksPasswordAndActivity(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ana@larder.example", "Procurement Manager", "s3cret", true)
	repo.addUser(2, "old@larder.example", "Branch Manager", "s3cret", false)
	svc := NewService(repo)

	user, err := svc.Authenticate(context.Background(), "ana@larder.example", "s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(1), user.ID)

	_, err = svc.Authenticate(context.Background(), "ana@larder.example", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "old@larder.example", "s3cret")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)

	_, err = svc.Authenticate(context.Background(), "nobody@larder.example", "s3cret")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestResolveActorMapsRoleOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.addUser(1, "ana@larder.example", "Senior Procurement Officer", "x", true)
	repo.addUser(2, "bob@larder.example", "Branch Manager - Downtown", "x", true, 5, 9)
	repo.addUser(3, "eve@larder.example", "Warehouse & Branch Coordinator", "x", true, 5)
	svc := NewService(repo)

	actor, err := svc.ResolveActor(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, shared.RoleProcurement, actor.Role)
	require.Empty(t, actor.BranchIDs)

	actor, err = svc.ResolveActor(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, shared.RoleBranch, actor.Role)
	require.Equal(t, []int64{5, 9}, actor.BranchIDs)

	// warehouse wins over branch in ambiguous role names
	actor, err = svc.ResolveActor(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, shared.RoleWarehouse, actor.Role)
}
