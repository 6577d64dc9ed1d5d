package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/unigigs-api/internal/dto"
	"github.com/noah-isme/unigigs-api/internal/models"
)

func TestParsePayment(t *testing.T) {
	cases := map[dto.Amount]float64{"20": 20, " 12.5 ": 12.5, "0": 0}
	for input, want := range cases {
		got, err := ParsePayment(input)
		require.NoError(t, err, string(input))
		require.Equal(t, want, got)
	}

	for _, input := range []dto.Amount{"", "-1", "twenty", "NaN", "Inf"} {
		_, err := ParsePayment(input)
		require.ErrorIs(t, err, ErrInvalidPayment, string(input))
	}
}

func TestGigPostCopiesPosterAndSanitizes(t *testing.T) {
	f := newFixture(t)
	svc := NewGigService(f.gigs, f.applications, nil, testValidator(), testLogger())
	poster := f.student(t, "ada@mit.edu")

	gig, err := svc.Post(context.Background(), poster, dto.GigCreateRequest{
		Title:       "Logo design <script>alert(1)</script>",
		Description: "<b>Need</b> a logo",
		Payment:     "20",
	})
	require.NoError(t, err)
	require.Equal(t, float64(20), gig.Payment)
	require.Equal(t, "Logo design", gig.Title)
	require.Equal(t, "Need a logo", gig.Description)
	require.Equal(t, "mit.edu", gig.University)
	require.Equal(t, poster.UID, gig.PosterID)
	require.Equal(t, "ada", gig.PosterName)
	require.Equal(t, models.GigStatusOpen, gig.Status)

	_, err = svc.Post(context.Background(), poster, dto.GigCreateRequest{Title: "Tutor", Description: "calc", Payment: "-5"})
	require.ErrorIs(t, err, ErrInvalidPayment)

	_, err = svc.Post(context.Background(), dto.Identity{UID: "no-profile"}, dto.GigCreateRequest{Title: "Tutor", Description: "calc", Payment: "5"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestGigListForUniversityFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	svc := NewGigService(f.gigs, f.applications, nil, testValidator(), testLogger())
	ctx := context.Background()

	mit := f.student(t, "ada@mit.edu")
	stanford := f.student(t, "alan@stanford.edu")

	base := time.Now().UTC().Add(-time.Hour)
	mk := func(poster dto.Identity, title string, offset time.Duration, status string) {
		gig := models.Gig{
			Title: title, Description: "d", Payment: 10,
			PosterID: poster.UID, PosterName: poster.DisplayName, University: poster.University,
			Status: status, CreatedAt: base.Add(offset),
		}
		require.NoError(t, f.db.Create(&gig).Error)
	}
	mk(mit, "older", 0, models.GigStatusOpen)
	mk(mit, "newer", time.Minute, models.GigStatusOpen)
	mk(mit, "closed", 2*time.Minute, models.GigStatusClosed)
	mk(stanford, "elsewhere", 3*time.Minute, models.GigStatusOpen)

	gigs, err := svc.ListForUniversity(ctx, mit, dto.GigListQuery{})
	require.NoError(t, err)
	require.Len(t, gigs, 2)
	require.Equal(t, "newer", gigs[0].Title)
	require.Equal(t, "older", gigs[1].Title)

	_, err = svc.ListForUniversity(ctx, mit, dto.GigListQuery{Limit: 1000})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSortNewestFirstIsStable(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gigs := []models.Gig{
		{ID: "a", CreatedAt: at},
		{ID: "b", CreatedAt: at.Add(time.Hour)},
		{ID: "c", CreatedAt: at},
	}
	sortNewestFirst(gigs)
	require.Equal(t, []string{"b", "a", "c"}, []string{gigs[0].ID, gigs[1].ID, gigs[2].ID})
}

func TestGigDetailCloseAndBookmarks(t *testing.T) {
	f := newFixture(t)
	gigSvc := NewGigService(f.gigs, f.applications, nil, testValidator(), testLogger())
	appSvc := NewApplicationService(f.applications, f.gigs, nil, testValidator(), testLogger())
	ctx := context.Background()

	poster := f.student(t, "ada@mit.edu")
	student := f.student(t, "grace@mit.edu")

	gig, err := gigSvc.Post(ctx, poster, dto.GigCreateRequest{Title: "Tutor", Description: "calc", Payment: "15"})
	require.NoError(t, err)

	_, err = gigSvc.Get(ctx, student, "missing")
	require.ErrorIs(t, err, ErrGigNotFound)

	detail, err := gigSvc.Get(ctx, student, gig.ID)
	require.NoError(t, err)
	require.False(t, detail.HasApplied)
	require.False(t, detail.IsPoster)

	_, err = appSvc.Apply(ctx, student, gig.ID)
	require.NoError(t, err)
	require.NoError(t, gigSvc.Save(ctx, student, gig.ID))
	require.NoError(t, gigSvc.Save(ctx, student, gig.ID))

	detail, err = gigSvc.Get(ctx, student, gig.ID)
	require.NoError(t, err)
	require.True(t, detail.HasApplied)
	require.True(t, detail.Saved)

	posterView, err := gigSvc.Get(ctx, poster, gig.ID)
	require.NoError(t, err)
	require.True(t, posterView.IsPoster)
	require.Len(t, posterView.Applicants, 1)

	saved, err := gigSvc.ListSaved(ctx, student)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	require.NoError(t, gigSvc.Unsave(ctx, student, gig.ID))
	saved, err = gigSvc.ListSaved(ctx, student)
	require.NoError(t, err)
	require.Empty(t, saved)

	_, err = gigSvc.Close(ctx, student, gig.ID)
	require.ErrorIs(t, err, ErrNotPoster)
	closed, err := gigSvc.Close(ctx, poster, gig.ID)
	require.NoError(t, err)
	require.Equal(t, models.GigStatusClosed, closed.Status)

	listed, err := gigSvc.ListForUniversity(ctx, student, dto.GigListQuery{})
	require.NoError(t, err)
	require.Empty(t, listed)

	posted, err := gigSvc.ListByPoster(ctx, poster.UID)
	require.NoError(t, err)
	require.Len(t, posted, 1)
}

func TestGigCloseNotifiesPendingApplicants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	notifications := NewNotificationService(f.notifications, f.outbox, nil, 100, testValidator(), testLogger())
	t.Cleanup(notifications.Feed().Close)
	gigSvc := NewGigService(f.gigs, f.applications, notifications, testValidator(), testLogger())
	appSvc := NewApplicationService(f.applications, f.gigs, nil, testValidator(), testLogger())

	poster := f.student(t, "ada@mit.edu")
	waiting := f.student(t, "grace@mit.edu")
	rejected := f.student(t, "alan@mit.edu")

	gig, err := gigSvc.Post(ctx, poster, dto.GigCreateRequest{Title: "Tutor", Description: "calc", Payment: "15"})
	require.NoError(t, err)
	_, err = appSvc.Apply(ctx, waiting, gig.ID)
	require.NoError(t, err)
	application, err := appSvc.Apply(ctx, rejected, gig.ID)
	require.NoError(t, err)
	_, err = appSvc.Decide(ctx, poster, application.ID, dto.ApplicationDecisionRequest{Status: models.ApplicationStatusRejected})
	require.NoError(t, err)

	_, err = gigSvc.Close(ctx, poster, gig.ID)
	require.NoError(t, err)

	events := f.pendingOutbox(t)
	require.Len(t, events, 1)
	require.Equal(t, waiting.UID, events[0].Payload["user_id"])
	require.Equal(t, "Gig Closed", events[0].Payload["title"])
	require.Equal(t, "/gigs/"+gig.ID, events[0].Payload["link"])

	_, err = gigSvc.Close(ctx, poster, gig.ID)
	require.NoError(t, err)
	require.Len(t, f.pendingOutbox(t), 1, "closing twice notifies once")
}
