package gormstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkedin-autodm/internal/apperrors"
	"github.com/linkedin-autodm/internal/models"
	"github.com/linkedin-autodm/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newAutomation(userID string) *models.Automation {
	return &models.Automation{
		UserID:             userID,
		Name:               "AI lead magnet",
		PostURL:            "https://www.linkedin.com/feed/update/urn:li:activity:7123456789012345678/",
		PostID:             "7123456789012345678",
		Status:             models.AutomationStatusActive,
		Keywords:           models.StringSlice{"AI"},
		EngagementCriteria: models.EngagementCriteria{HasCommented: true},
		MessageTemplate:    "Hi {firstName}, here is the guide!",
	}
}

func TestAutomationLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	a := newAutomation("user-1")
	require.NoError(t, repo.CreateAutomation(ctx, a))
	require.NotEmpty(t, a.ID)

	got, err := repo.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StringSlice{"AI"}, got.Keywords)
	assert.True(t, got.EngagementCriteria.HasCommented)
	assert.True(t, got.IsFirstScan())

	other := newAutomation("user-2")
	require.NoError(t, repo.CreateAutomation(ctx, other))

	list, err := repo.ListAutomations(ctx, storage.DefaultAutomationFilter("user-1"))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, a.ID, list[0].ID)

	// Archiving another user's automation is a not-found
	err = repo.ArchiveAutomation(ctx, "user-2", a.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	require.NoError(t, repo.ArchiveAutomation(ctx, "user-1", a.ID))
	list, err = repo.ListAutomations(ctx, storage.DefaultAutomationFilter("user-1"))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.GetAutomation(ctx, a.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestClaimAndFinishRun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	a := newAutomation("user-1")
	require.NoError(t, repo.CreateAutomation(ctx, a))

	won, err := repo.ClaimAutomationRun(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimAutomationRun(ctx, a.ID)
	require.NoError(t, err)
	assert.False(t, won, "second claim must lose while the first run is in flight")

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.FinishAutomationRun(ctx, a.ID, storage.RunFinish{
		Status:    models.AutomationStatusActive,
		ScannedAt: &now,
	}))

	got, err := repo.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusActive, got.Status)
	require.NotNil(t, got.LastScannedAt)
	assert.WithinDuration(t, now, *got.LastScannedAt, time.Second)
}

func TestFinishRun_PauseDuringRunWins(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	a := newAutomation("user-1")
	require.NoError(t, repo.CreateAutomation(ctx, a))

	won, err := repo.ClaimAutomationRun(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, repo.SetAutomationStatus(ctx, "user-1", a.ID, models.AutomationStatusPaused))

	now := time.Now().UTC()
	require.NoError(t, repo.FinishAutomationRun(ctx, a.ID, storage.RunFinish{
		Status:    models.AutomationStatusActive,
		ScannedAt: &now,
	}))

	got, err := repo.GetAutomation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AutomationStatusPaused, got.Status)
	assert.NotNil(t, got.LastScannedAt)
}

func TestInsertProcessedComment_UniquePerAutomation(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	first := &models.ProcessedComment{AutomationID: "a-1", CommentID: "c-1", ProcessedAt: time.Now().UTC()}
	inserted, err := repo.InsertProcessedComment(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.ProcessedComment{AutomationID: "a-1", CommentID: "c-1", ProcessedAt: time.Now().UTC()}
	inserted, err = repo.InsertProcessedComment(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Same comment on another automation is a separate record
	inserted, err = repo.InsertProcessedComment(ctx, &models.ProcessedComment{AutomationID: "a-2", CommentID: "c-1", ProcessedAt: time.Now().UTC()})
	require.NoError(t, err)
	assert.True(t, inserted)

	exists, err := repo.ProcessedCommentExists(ctx, "a-1", "c-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ProcessedCommentExists(ctx, "a-1", "c-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCommentStatsAndPaging(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	kw := "AI"
	rows := []*models.ProcessedComment{
		{CommentID: "c-1", MatchesCriteria: true, KeywordMatched: &kw, DMSent: true, ConnectionDegree: models.DegreeFirst},
		{CommentID: "c-2", MatchesCriteria: true, KeywordMatched: &kw, ConnectionDegree: models.DegreeSecond, IsConnected: true},
		{CommentID: "c-3", ConnectionDegree: models.DegreeThird},
	}
	for i, row := range rows {
		row.AutomationID = "a-1"
		row.ProcessedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		_, err := repo.InsertProcessedComment(ctx, row)
		require.NoError(t, err)
	}

	stats, err := repo.GetCommentStats(ctx, "a-1")
	require.NoError(t, err)
	assert.Equal(t, storage.CommentStats{Total: 3, Matching: 2, DMsSent: 1, Connected: 2}, *stats)

	page, total, err := repo.ListProcessedComments(ctx, storage.CommentFilter{AutomationID: "a-1", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "c-3", page[0].CommentID, "newest first")

	page, _, err = repo.ListProcessedComments(ctx, storage.CommentFilter{AutomationID: "a-1", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c-1", page[0].CommentID)

	empty, err := repo.GetCommentStats(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, empty.Total)
}

func TestReserveSlot_RespectsLimit(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	window := "2026-10-14T09:00:00Z"

	for i := 0; i < 3; i++ {
		ok, err := repo.ReserveSlot(ctx, "user-1", models.CategoryMessage, window, 3)
		require.NoError(t, err)
		require.True(t, ok, "slot %d", i+1)
	}
	ok, err := repo.ReserveSlot(ctx, "user-1", models.CategoryMessage, window, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	// Categories are independent
	ok, err = repo.ReserveSlot(ctx, "user-1", models.CategoryReply, window, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.CompleteSlot(ctx, "user-1", models.CategoryMessage, window))
	require.NoError(t, repo.ReleaseSlot(ctx, "user-1", models.CategoryMessage, window))

	c, err := repo.GetCounter(ctx, "user-1", models.CategoryMessage, window)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Sent)
	assert.Equal(t, 1, c.Scheduled)

	fresh, err := repo.GetCounter(ctx, "user-1", models.CategoryMessage, "2026-10-15T09:00:00Z")
	require.NoError(t, err)
	assert.Zero(t, fresh.Used())
}

func TestReserveSlot_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	window := "2026-10-14T09:00:00Z"

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ReserveSlot(ctx, "user-1", models.CategoryMessage, window, 5)
			if assert.NoError(t, err) && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, granted)
}

func TestListDueScheduledActions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	due := &models.ScheduledAction{UserID: "u", AutomationID: "a", ProcessedCommentID: "p1", Category: models.CategoryMessage, Content: "hi", RunAt: now.Add(-time.Minute), Status: models.ScheduledActionPending}
	later := &models.ScheduledAction{UserID: "u", AutomationID: "a", ProcessedCommentID: "p2", Category: models.CategoryMessage, Content: "hi", RunAt: now.Add(time.Hour), Status: models.ScheduledActionPending}
	require.NoError(t, repo.CreateScheduledAction(ctx, due))
	require.NoError(t, repo.CreateScheduledAction(ctx, later))

	actions, err := repo.ListDueScheduledActions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, due.ID, actions[0].ID)

	actions[0].Status = models.ScheduledActionDone
	require.NoError(t, repo.UpdateScheduledAction(ctx, actions[0]))

	actions, err = repo.ListDueScheduledActions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestClaimScheduledAction(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Now().UTC()

	action := &models.ScheduledAction{UserID: "u", AutomationID: "a", ProcessedCommentID: "p1", Category: models.CategoryMessage, Content: "hi", RunAt: now.Add(-time.Minute), Status: models.ScheduledActionPending}
	require.NoError(t, repo.CreateScheduledAction(ctx, action))

	won, err := repo.ClaimScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.ClaimScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.False(t, won, "a claimed action cannot be claimed again")

	due, err := repo.ListDueScheduledActions(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	// re-deferring hands it back
	action.Status = models.ScheduledActionPending
	require.NoError(t, repo.UpdateScheduledAction(ctx, action))
	won, err = repo.ClaimScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, won)
}
