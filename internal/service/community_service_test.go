package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
)

func TestCommunityListSeedsDefaultsOnce(t *testing.T) {
	f := newFixture(t)
	svc := NewCommunityService(f.communities, true, testValidator(), testLogger())
	ctx := context.Background()
	actor := f.student(t, "ada@mit.edu")

	communities, err := svc.List(ctx, actor)
	require.NoError(t, err)
	require.Len(t, communities, 2)

	names := map[string]string{}
	for _, community := range communities {
		names[community.Name] = community.University
	}
	require.Equal(t, "mit.edu", names["mit.edu General"])
	require.Equal(t, models.UniversityGlobal, names["Global Tech Talk"])

	again, err := svc.List(ctx, actor)
	require.NoError(t, err)
	require.Len(t, again, 2, "seeding only happens when nothing is visible")

	// Another university still sees the global room, so nothing is seeded for it.
	other := f.student(t, "alan@stanford.edu")
	visible, err := svc.List(ctx, other)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	require.Equal(t, "Global Tech Talk", visible[0].Name)
}

func TestCommunityListWithoutSeeding(t *testing.T) {
	f := newFixture(t)
	svc := NewCommunityService(f.communities, false, testValidator(), testLogger())

	communities, err := svc.List(context.Background(), f.student(t, "ada@mit.edu"))
	require.NoError(t, err)
	require.Empty(t, communities)
}

func TestCommunityCreateAndScope(t *testing.T) {
	f := newFixture(t)
	svc := NewCommunityService(f.communities, false, testValidator(), testLogger())
	ctx := context.Background()
	mit := f.student(t, "ada@mit.edu")
	stanford := f.student(t, "alan@stanford.edu")

	local, err := svc.Create(ctx, mit, dto.CommunityCreateRequest{Name: "Robotics <i>club</i>", Description: "bots"})
	require.NoError(t, err)
	require.Equal(t, "mit.edu", local.University)
	require.Equal(t, "Robotics club", local.Name)

	global, err := svc.Create(ctx, mit, dto.CommunityCreateRequest{Name: "Open Source", University: models.UniversityGlobal})
	require.NoError(t, err)

	_, err = svc.Create(ctx, mit, dto.CommunityCreateRequest{Name: "Elsewhere", University: "stanford.edu"})
	require.ErrorIs(t, err, ErrInvalidUniversity)

	_, err = svc.Create(ctx, dto.Identity{UID: "nobody"}, dto.CommunityCreateRequest{Name: "Homeless"})
	require.ErrorIs(t, err, ErrProfileIncomplete)

	_, err = svc.Create(ctx, mit, dto.CommunityCreateRequest{Name: "x"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Get(ctx, stanford, local.ID)
	require.ErrorIs(t, err, ErrCommunityScope)
	require.ErrorIs(t, err, ErrForbidden)

	got, err := svc.Get(ctx, stanford, global.ID)
	require.NoError(t, err)
	require.Equal(t, "Open Source", got.Name)

	_, err = svc.Get(ctx, mit, "missing")
	require.ErrorIs(t, err, ErrCommunityNotFound)
}
