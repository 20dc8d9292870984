package sqlite

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()

	repo, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	if err := repo.Migrate(); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

// seedPair creates an apartment, two platforms and a pair, returning the pair
// and its two feeds.
func seedPair(t *testing.T, repo *Repository) (*models.FeedPair, []*models.Feed) {
	t.Helper()
	ctx := context.Background()

	apartment := &models.Apartment{Name: "Seaview Loft"}
	if err := repo.CreateApartment(ctx, apartment); err != nil {
		t.Fatalf("Failed to create apartment: %v", err)
	}

	airbnb := &models.Platform{Name: "Airbnb"}
	booking := &models.Platform{Name: "Booking.com"}
	for _, p := range []*models.Platform{airbnb, booking} {
		if err := repo.CreatePlatform(ctx, p); err != nil {
			t.Fatalf("Failed to create platform: %v", err)
		}
	}

	pair := &models.FeedPair{
		ApartmentID: apartment.ID,
		PlatformAID: airbnb.ID,
		PlatformBID: booking.ID,
		IsActive:    true,
	}
	if err := repo.CreatePair(ctx, pair, "https://airbnb.example/cal.ics", "https://booking.example/cal.ics"); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}

	feeds, err := repo.FeedsForPair(ctx, pair.ID)
	if err != nil {
		t.Fatalf("Failed to load feeds: %v", err)
	}
	if len(feeds) != 2 {
		t.Fatalf("Expected 2 feeds, got %d", len(feeds))
	}
	return pair, feeds
}

func TestCreateApartment_SetsSlug(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	apartment := &models.Apartment{Name: "Apt #12 (Main)"}
	if err := repo.CreateApartment(ctx, apartment); err != nil {
		t.Fatalf("Failed to create apartment: %v", err)
	}
	if apartment.Slug != "apt-12-main" {
		t.Errorf("Expected slug apt-12-main, got %s", apartment.Slug)
	}
}

func TestCreatePair_CreatesBothFeeds(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)

	tokenPattern := regexp.MustCompile(`^[a-f0-9]{64}$`)
	directions := map[models.Direction]string{}
	for _, f := range feeds {
		if !tokenPattern.MatchString(f.ProxyToken) {
			t.Errorf("Expected 64-hex token, got %q", f.ProxyToken)
		}
		if f.LastFetchStatus != models.FetchStatusNever {
			t.Errorf("Expected fetch status never, got %s", f.LastFetchStatus)
		}
		directions[f.Direction] = f.SourceURL
	}

	if directions[models.DirectionAToB] != "https://airbnb.example/cal.ics" {
		t.Errorf("Unexpected a_to_b source URL: %s", directions[models.DirectionAToB])
	}
	if directions[models.DirectionBToA] != "https://booking.example/cal.ics" {
		t.Errorf("Unexpected b_to_a source URL: %s", directions[models.DirectionBToA])
	}
	if feeds[0].ProxyToken == feeds[1].ProxyToken {
		t.Error("Feeds of one pair must not share a token")
	}
}

func TestCreatePair_NormalizesPlatformOrder(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	apartment := &models.Apartment{Name: "Garden Flat"}
	if err := repo.CreateApartment(ctx, apartment); err != nil {
		t.Fatal(err)
	}
	first := &models.Platform{Name: "Airbnb"}
	second := &models.Platform{Name: "Vrbo"}
	for _, p := range []*models.Platform{first, second} {
		if err := repo.CreatePlatform(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	// Supply the platforms in descending ID order
	pair := &models.FeedPair{
		ApartmentID: apartment.ID,
		PlatformAID: second.ID,
		PlatformBID: first.ID,
		IsActive:    true,
	}
	if err := repo.CreatePair(ctx, pair, "https://vrbo.example/cal.ics", "https://airbnb.example/cal.ics"); err != nil {
		t.Fatalf("Failed to create pair: %v", err)
	}

	if pair.PlatformAID != first.ID || pair.PlatformBID != second.ID {
		t.Errorf("Expected platforms swapped to (%d, %d), got (%d, %d)",
			first.ID, second.ID, pair.PlatformAID, pair.PlatformBID)
	}

	// Source URLs must travel with their platforms
	feeds, err := repo.FeedsForPair(ctx, pair.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range feeds {
		switch f.Direction {
		case models.DirectionAToB:
			if f.SourceURL != "https://airbnb.example/cal.ics" {
				t.Errorf("a_to_b should carry the Airbnb URL after swap, got %s", f.SourceURL)
			}
		case models.DirectionBToA:
			if f.SourceURL != "https://vrbo.example/cal.ics" {
				t.Errorf("b_to_a should carry the Vrbo URL after swap, got %s", f.SourceURL)
			}
		}
	}
}

func TestCreatePair_RejectsSamePlatform(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	apartment := &models.Apartment{Name: "Studio"}
	if err := repo.CreateApartment(ctx, apartment); err != nil {
		t.Fatal(err)
	}
	platform := &models.Platform{Name: "Airbnb"}
	if err := repo.CreatePlatform(ctx, platform); err != nil {
		t.Fatal(err)
	}

	pair := &models.FeedPair{ApartmentID: apartment.ID, PlatformAID: platform.ID, PlatformBID: platform.ID}
	if err := repo.CreatePair(ctx, pair, "a", "b"); err == nil {
		t.Error("Expected error for pair with identical platforms")
	}
}

func TestDeletePlatform_InUse(t *testing.T) {
	repo := newTestRepo(t)
	pair, _ := seedPair(t, repo)
	ctx := context.Background()

	err := repo.DeletePlatform(ctx, pair.PlatformAID)
	if !errors.Is(err, storage.ErrPlatformInUse) {
		t.Errorf("Expected ErrPlatformInUse, got %v", err)
	}

	// After removing the pair the platform can go
	if err := repo.DeletePair(ctx, pair.ID); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeletePlatform(ctx, pair.PlatformAID); err != nil {
		t.Errorf("Expected delete to succeed after pair removal, got %v", err)
	}
}

func TestDeleteApartment_Cascades(t *testing.T) {
	repo := newTestRepo(t)
	pair, feeds := seedPair(t, repo)
	ctx := context.Background()

	if err := repo.RecordPoll(ctx, &models.PollLogEntry{
		FeedID:         feeds[0].ID,
		PolledAt:       time.Now().UTC(),
		UpstreamStatus: models.PollStatusOK,
	}); err != nil {
		t.Fatal(err)
	}

	if err := repo.DeleteApartment(ctx, pair.ApartmentID); err != nil {
		t.Fatalf("Failed to delete apartment: %v", err)
	}

	if _, err := repo.GetPair(ctx, pair.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected pair gone, got %v", err)
	}
	count, err := repo.CountFeeds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected 0 feeds after cascade, got %d", count)
	}
	entries, err := repo.PollLogForFeed(ctx, feeds[0].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected poll log emptied, got %d entries", len(entries))
	}
}

func TestFindFeedByToken(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	view, err := repo.FindFeedByToken(ctx, feeds[0].ProxyToken)
	if err != nil {
		t.Fatalf("Failed to find feed: %v", err)
	}
	if view.FeedID != feeds[0].ID {
		t.Errorf("Expected feed %d, got %d", feeds[0].ID, view.FeedID)
	}
	if view.ApartmentName != "Seaview Loft" {
		t.Errorf("Expected apartment name joined, got %q", view.ApartmentName)
	}
	if view.PlatformAName != "Airbnb" || view.PlatformBName != "Booking.com" {
		t.Errorf("Expected platform names joined, got %q / %q", view.PlatformAName, view.PlatformBName)
	}
	if !view.PairActive {
		t.Error("Expected pair_active true")
	}

	if _, err := repo.FindFeedByToken(ctx, models.NewProxyToken()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown token, got %v", err)
	}
}

func TestUpdatePollState(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	polledAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := repo.UpdatePollState(ctx, feeds[0].ID, polledAt, "203.0.113.9", models.FetchStatusError); err != nil {
		t.Fatalf("Failed to update poll state: %v", err)
	}

	view, err := repo.GetFeedView(ctx, feeds[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.LastPolledAt == nil || !view.LastPolledAt.Equal(polledAt) {
		t.Errorf("Expected last_polled_at %s, got %v", polledAt, view.LastPolledAt)
	}
	if view.LastPollIP != "203.0.113.9" {
		t.Errorf("Expected poll IP recorded, got %q", view.LastPollIP)
	}
	if view.LastFetchStatus != models.FetchStatusError {
		t.Errorf("Expected fetch status error, got %s", view.LastFetchStatus)
	}
	if view.LastAlertSentAt != nil {
		t.Error("Poll state update must not touch alert state")
	}
}

func TestAlertSentRoundtrip(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.SetAlertSent(ctx, feeds[0].ID, at); err != nil {
		t.Fatal(err)
	}

	view, err := repo.GetFeedView(ctx, feeds[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.LastAlertSentAt == nil || !view.LastAlertSentAt.Equal(at) {
		t.Errorf("Expected alert time %s, got %v", at, view.LastAlertSentAt)
	}

	if err := repo.ClearAlertSent(ctx, feeds[0].ID); err != nil {
		t.Fatal(err)
	}
	view, err = repo.GetFeedView(ctx, feeds[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.LastAlertSentAt != nil {
		t.Errorf("Expected alert flag cleared, got %v", view.LastAlertSentAt)
	}
}

func TestRegenerateToken(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	old := feeds[0].ProxyToken
	token, err := repo.RegenerateToken(ctx, feeds[0].ID)
	if err != nil {
		t.Fatalf("Failed to regenerate token: %v", err)
	}
	if token == old {
		t.Error("Expected a different token")
	}

	if _, err := repo.FindFeedByToken(ctx, old); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Old token should stop resolving, got %v", err)
	}
	if _, err := repo.FindFeedByToken(ctx, token); err != nil {
		t.Errorf("New token should resolve, got %v", err)
	}

	if _, err := repo.RegenerateToken(ctx, 9999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown feed, got %v", err)
	}
}

func TestAlertEligibleFeeds(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cutoff := now.Add(-6 * time.Hour)

	// Both feeds start with no alert, so both are eligible
	views, err := repo.AlertEligibleFeeds(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Fatalf("Expected 2 eligible feeds, got %d", len(views))
	}

	// A fresh alert inside the cooldown removes the feed
	if err := repo.SetAlertSent(ctx, feeds[0].ID, now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	views, err = repo.AlertEligibleFeeds(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 1 || views[0].FeedID != feeds[1].ID {
		t.Errorf("Expected only feed %d eligible, got %d views", feeds[1].ID, len(views))
	}

	// An alert older than the cooldown makes the feed eligible again
	if err := repo.SetAlertSent(ctx, feeds[0].ID, now.Add(-7*time.Hour)); err != nil {
		t.Fatal(err)
	}
	views, err = repo.AlertEligibleFeeds(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 {
		t.Errorf("Expected 2 eligible feeds after cooldown, got %d", len(views))
	}
}

func TestEvaluationQueries_SkipInactivePairs(t *testing.T) {
	repo := newTestRepo(t)
	pair, feeds := seedPair(t, repo)
	ctx := context.Background()

	if err := repo.SetAlertSent(ctx, feeds[0].ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	if err := repo.SetPairActive(ctx, pair.ID, false); err != nil {
		t.Fatal(err)
	}

	eligible, err := repo.AlertEligibleFeeds(ctx, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if len(eligible) != 0 {
		t.Errorf("Expected no eligible feeds for paused pair, got %d", len(eligible))
	}

	alerted, err := repo.AlertedFeeds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerted) != 0 {
		t.Errorf("Expected no alerted feeds for paused pair, got %d", len(alerted))
	}

	active, err := repo.ActiveFeeds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("Expected no active feeds for paused pair, got %d", len(active))
	}

	count, err := repo.CountActiveFeeds(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected active feed count 0, got %d", count)
	}
}

func TestPollStatsAndPrune(t *testing.T) {
	repo := newTestRepo(t)
	_, feeds := seedPair(t, repo)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	polls := []struct {
		at     time.Time
		status models.PollStatus
		ms     int
	}{
		{base.Add(1 * time.Hour), models.PollStatusOK, 100},
		{base.Add(2 * time.Hour), models.PollStatusError, 300},
		{base.Add(3 * time.Hour), models.PollStatusOK, 200},
	}
	for _, p := range polls {
		if err := repo.RecordPoll(ctx, &models.PollLogEntry{
			FeedID:         feeds[0].ID,
			PolledAt:       p.at,
			UpstreamStatus: p.status,
			ResponseTimeMs: p.ms,
		}); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := repo.PollStats(ctx, feeds[0].ID, base)
	if err != nil {
		t.Fatal(err)
	}
	if stats.TotalPolls != 3 || stats.SuccessfulPolls != 2 || stats.FailedPolls != 1 {
		t.Errorf("Unexpected counts: %+v", stats)
	}
	if stats.AvgResponseMs != 200 {
		t.Errorf("Expected avg 200ms, got %v", stats.AvgResponseMs)
	}
	if stats.FirstPoll == nil || !stats.FirstPoll.Equal(polls[0].at) {
		t.Errorf("Unexpected first poll: %v", stats.FirstPoll)
	}

	times, err := repo.PollTimes(ctx, feeds[0].ID, base.Add(90*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 2 {
		t.Errorf("Expected 2 poll times after cutoff, got %d", len(times))
	}

	pruned, err := repo.PrunePollLog(ctx, base.Add(150*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 2 {
		t.Errorf("Expected 2 rows pruned, got %d", pruned)
	}
}

func TestSystemLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.AppendSystemLog(ctx, models.LogLevelInfo, models.LogSourceCron, "Staleness check started", nil); err != nil {
		t.Fatal(err)
	}
	if err := repo.AppendSystemLog(ctx, models.LogLevelError, models.LogSourceProxy, "Upstream fetch failed", models.JSON{"feed_id": 1}); err != nil {
		t.Fatal(err)
	}

	entries, total, err := repo.QuerySystemLog(ctx, storage.SystemLogFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d (total %d)", len(entries), total)
	}

	entries, total, err = repo.QuerySystemLog(ctx, storage.SystemLogFilter{Level: models.LogLevelError})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || entries[0].Source != models.LogSourceProxy {
		t.Errorf("Expected 1 proxy error entry, got %d", total)
	}

	entries, _, err = repo.QuerySystemLog(ctx, storage.SystemLogFilter{Search: "Staleness"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 search hit, got %d", len(entries))
	}
}

func TestSettingsSeedAndSave(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	defaults := models.Settings{
		AlertWindowHours:   6,
		AlertCooldownHours: 6,
		LogRetentionDays:   30,
		WebhookMethod:      models.WebhookMethodPOST,
	}
	if err := repo.SeedSettings(ctx, defaults); err != nil {
		t.Fatal(err)
	}

	settings, err := repo.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.AlertWindowHours != 6 {
		t.Errorf("Expected seeded window 6, got %d", settings.AlertWindowHours)
	}

	settings.AlertWindowHours = 12
	if err := repo.SaveSettings(ctx, settings); err != nil {
		t.Fatal(err)
	}

	// A second seed must not overwrite the stored row
	if err := repo.SeedSettings(ctx, defaults); err != nil {
		t.Fatal(err)
	}
	settings, err = repo.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.AlertWindowHours != 12 {
		t.Errorf("Seed overwrote saved settings, window is %d", settings.AlertWindowHours)
	}
}
