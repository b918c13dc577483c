package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "larder_session", "test-secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.True(t, sess.isNew)

	sess.SetUser("42")
	sess.Set("csrf", "token-value")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, "larder_session", cookies[0].Name)
	require.NotEmpty(t, cookies[0].Value)

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	next.AddCookie(cookies[0])
	loaded, err := sm.Load(ctx, next)
	require.NoError(t, err)
	require.False(t, loaded.isNew)
	require.Equal(t, "42", loaded.User())
	require.Equal(t, "token-value", loaded.Get("csrf"))
}

func TestSessionDestroyDeletesAndExpiresCookie(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	sess.SetUser("7")

	rec := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))
	require.True(t, mr.Exists("session:"+sess.ID))

	sm.Destroy(sess)
	rec = httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rec, req, sess))
	require.False(t, mr.Exists("session:"+sess.ID))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, -1, cookies[0].MaxAge)
	require.Empty(t, cookies[0].Value)
}

func TestSessionUnknownCookieStartsFresh(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	ctx := context.Background()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "larder_session", Value: "gone"})

	sess, err := sm.Load(ctx, req)
	require.NoError(t, err)
	require.True(t, sess.isNew)
	require.Equal(t, "gone", sess.ID)
	require.Empty(t, sess.User())
}

func TestResolveRoleKindPrecedence(t *testing.T) {
	cases := []struct {
		name string
		want RoleKind
	}{
		{"Procurement Manager", RoleProcurement},
		{"Branch Procurement Lead", RoleProcurement},
		{"Warehouse Staff", RoleWarehouse},
		{"warehouse branch runner", RoleWarehouse},
		{"Logistics", RoleLogistics},
		{"IT Support", RoleIT},
		{"Branch Manager", RoleBranch},
		{"Barista", RoleUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ResolveRoleKind(tc.name), tc.name)
	}
}

func TestActorManagesBranch(t *testing.T) {
	branch := Actor{UserID: 1, Role: RoleBranch, BranchIDs: []int64{3, 5}}
	require.True(t, branch.ManagesBranch(3))
	require.False(t, branch.ManagesBranch(4))
	require.True(t, branch.IsBranchUser())

	procurement := Actor{UserID: 2, Role: RoleProcurement}
	require.True(t, procurement.ManagesBranch(99))
	require.True(t, procurement.CanPlaceOrders())
	require.False(t, procurement.CanFulfill())

	warehouse := Actor{UserID: 3, Role: RoleWarehouse}
	require.True(t, warehouse.CanFulfill())
	require.False(t, warehouse.CanPlaceOrders())
}
