package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"teamdeck/internal/db"
	"teamdeck/internal/docstore"
	"teamdeck/internal/domain"
	"teamdeck/internal/migrate"
)

func newTestRepo(t *testing.T) Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	store := docstore.New(conn)
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	store.Now = func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Minute)
	}
	return Repo{Store: store}
}

func TestFindPendingInviteTakesNewest(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	_, err := r.CreateInvite(ctx, CreateInviteInput{Email: "a@x.io", CompanyID: "c1", Role: domain.RoleMember, InvitedBy: "u0"})
	require.NoError(t, err)
	newer, err := r.CreateInvite(ctx, CreateInviteInput{Email: " A@X.io ", CompanyID: "c2", Role: domain.RoleAdmin, InvitedBy: "u9"})
	require.NoError(t, err)
	require.Equal(t, "a@x.io", newer.Email)
	require.Equal(t, domain.InvitePending, newer.Status)

	got, err := r.FindPendingInvite(ctx, "a@X.IO")
	require.NoError(t, err)
	require.Equal(t, newer.ID, got.ID)
	require.Equal(t, "c2", got.CompanyID)
	require.Equal(t, domain.RoleAdmin, got.Role)
}

func TestFindPendingInviteSkipsAccepted(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	inv, err := r.CreateInvite(ctx, CreateInviteInput{Email: "b@x.io", CompanyID: "c1", Role: domain.RoleMember})
	require.NoError(t, err)
	require.NoError(t, r.AcceptInvite(ctx, inv.ID))

	_, err = r.FindPendingInvite(ctx, "b@x.io")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.FindPendingInvite(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAcceptInviteIsIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	inv, err := r.CreateInvite(ctx, CreateInviteInput{Email: "c@x.io", CompanyID: "c1", Role: domain.RoleMember})
	require.NoError(t, err)
	require.NoError(t, r.AcceptInvite(ctx, inv.ID))
	require.NoError(t, r.AcceptInvite(ctx, inv.ID))
	got, err := r.GetInvite(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, domain.InviteAccepted, got.Status)

	require.ErrorIs(t, r.AcceptInvite(ctx, "missing"), ErrNotFound)
}

func TestCreateInviteValidation(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	cases := []CreateInviteInput{
		{Email: "", CompanyID: "c1", Role: domain.RoleMember},
		{Email: "not-an-email", CompanyID: "c1", Role: domain.RoleMember},
		{Email: "d@x.io", CompanyID: "", Role: domain.RoleMember},
		{Email: "d@x.io", CompanyID: "c1", Role: domain.RoleOwner},
	}
	for _, in := range cases {
		_, err := r.CreateInvite(ctx, in)
		require.ErrorIs(t, err, ErrInvalidInput, "%+v", in)
	}
}

func TestListPendingInvitesScopedToCompany(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	a, err := r.CreateInvite(ctx, CreateInviteInput{Email: "a@x.io", CompanyID: "c1", Role: domain.RoleMember})
	require.NoError(t, err)
	b, err := r.CreateInvite(ctx, CreateInviteInput{Email: "b@x.io", CompanyID: "c1", Role: domain.RoleMember})
	require.NoError(t, err)
	_, err = r.CreateInvite(ctx, CreateInviteInput{Email: "c@x.io", CompanyID: "c2", Role: domain.RoleMember})
	require.NoError(t, err)
	require.NoError(t, r.AcceptInvite(ctx, a.ID))

	pending, err := r.ListPendingInvites(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, b.ID, pending[0].ID)
}

func TestCompanyRegistry(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	id1, err := r.CreateCompany(ctx, "Ada's Team", "u1")
	require.NoError(t, err)
	id2, err := r.CreateCompany(ctx, "Ada's Team", "u2")
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	c, err := r.GetCompany(ctx, id1)
	require.NoError(t, err)
	require.Equal(t, "Ada's Team", c.Name)
	require.Equal(t, "u1", c.CreatedBy)
	require.False(t, c.CreatedAt.IsZero())
}

func TestProfilesAndMembers(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, r.CreateProfile(ctx, domain.Profile{UID: "u1", Name: "Ada", CompanyID: "c1", Role: domain.RoleOwner}))
	require.NoError(t, r.CreateProfile(ctx, domain.Profile{UID: "u2", Name: "Bob", CompanyID: "c1", Role: domain.RoleMember}))
	require.NoError(t, r.CreateProfile(ctx, domain.Profile{UID: "u3", Name: "Eve", CompanyID: "c2", Role: domain.RoleOwner}))

	p, err := r.GetProfile(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "Ada", p.Name)
	_, err = r.GetProfile(ctx, "nobody")
	require.ErrorIs(t, err, ErrNotFound)

	members, err := r.ListMembers(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "u2", members[0].UID)

	require.ErrorIs(t, r.CreateProfile(ctx, domain.Profile{UID: "u4", CompanyID: "c1", Role: "Boss"}), ErrInvalidInput)
}

func TestTasksByProjectAndAssignee(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	p1, err := r.InsertProject(ctx, domain.Project{Name: "Apollo", CompanyID: "c1", CreatedBy: "u1"})
	require.NoError(t, err)
	p2, err := r.InsertProject(ctx, domain.Project{Name: "Gemini", CompanyID: "c1", CreatedBy: "u1"})
	require.NoError(t, err)

	for _, tk := range []domain.Task{
		{Title: "a", ProjectID: p1.ID, CompanyID: "c1", AssignedTo: "u2", Status: domain.StatusTodo, Priority: domain.PriorityLow},
		{Title: "b", ProjectID: p2.ID, CompanyID: "c1", AssignedTo: "u2", Status: domain.StatusTodo, Priority: domain.PriorityHigh},
		{Title: "c", ProjectID: p1.ID, CompanyID: "c1", Status: domain.StatusTodo, Priority: domain.PriorityMedium},
	} {
		_, err := r.InsertTask(ctx, tk)
		require.NoError(t, err)
	}

	inP1, err := r.ListTasks(ctx, "c1", p1.ID)
	require.NoError(t, err)
	require.Len(t, inP1, 2)
	require.Equal(t, "c", inP1[0].Title)

	mine, err := r.ListAssignedTasks(ctx, "c1", "u2")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	require.Equal(t, "b", mine[0].Title)

	require.NoError(t, r.UpdateTaskStatus(ctx, mine[0].ID, domain.StatusInProgress))
	got, err := r.GetTask(ctx, mine[0].ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusInProgress, got.Status)
	require.Equal(t, "b", got.Title)
}
