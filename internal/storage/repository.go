package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ics-monitor/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrPlatformInUse is returned when deleting a platform still referenced by a
// feed pair.
var ErrPlatformInUse = errors.New("platform is in use")

// SystemLogFilter defines filtering options for the operational log
type SystemLogFilter struct {
	Level  string
	Source string
	Search string
	Limit  int
	Offset int
}

// Repository defines the interface for data persistence: the feed directory,
// the poll recorder, the operational log and the persisted alert settings.
type Repository interface {
	// Apartment operations
	CreateApartment(ctx context.Context, apartment *models.Apartment) error
	GetApartment(ctx context.Context, id uint) (*models.Apartment, error)
	ListApartments(ctx context.Context) ([]*models.Apartment, error)
	UpdateApartment(ctx context.Context, apartment *models.Apartment) error
	DeleteApartment(ctx context.Context, id uint) error

	// Platform operations
	CreatePlatform(ctx context.Context, platform *models.Platform) error
	GetPlatform(ctx context.Context, id uint) (*models.Platform, error)
	ListPlatforms(ctx context.Context) ([]*models.Platform, error)
	DeletePlatform(ctx context.Context, id uint) error

	// Pair operations. CreatePair normalizes platform order (A < B), swapping
	// the two direction source URLs along with the platforms, and creates the
	// pair's two feeds with fresh proxy tokens.
	CreatePair(ctx context.Context, pair *models.FeedPair, sourceURLAToB, sourceURLBToA string) error
	GetPair(ctx context.Context, id uint) (*models.FeedPair, error)
	ListPairs(ctx context.Context) ([]*models.FeedPair, error)
	SetPairActive(ctx context.Context, id uint, active bool) error
	DeletePair(ctx context.Context, id uint) error

	// Feed operations
	GetFeedView(ctx context.Context, feedID uint) (*models.FeedView, error)
	ListFeedViews(ctx context.Context) ([]models.FeedView, error)
	FeedsForPair(ctx context.Context, pairID uint) ([]*models.Feed, error)
	FindFeedByToken(ctx context.Context, token string) (*models.FeedView, error)
	UpdatePollState(ctx context.Context, feedID uint, polledAt time.Time, ip string, status models.FetchStatus) error
	SetAlertSent(ctx context.Context, feedID uint, at time.Time) error
	ClearAlertSent(ctx context.Context, feedID uint) error
	RegenerateToken(ctx context.Context, feedID uint) (string, error)
	SetFeedWindow(ctx context.Context, feedID uint, hours *int) error
	CountFeeds(ctx context.Context) (int64, error)
	CountActiveFeeds(ctx context.Context) (int64, error)

	// Evaluation queries. AlertEligibleFeeds returns feeds of active pairs
	// whose last alert is either absent or older than alertCutoff, ordered
	// oldest-poll-first with never-polled feeds first. AlertedFeeds returns
	// feeds of active pairs with an outstanding alert, most-recent-poll-first.
	// ActiveFeeds returns every feed of an active pair. The window predicate
	// itself lives in the evaluator so per-feed overrides resolve in one place.
	AlertEligibleFeeds(ctx context.Context, alertCutoff time.Time) ([]models.FeedView, error)
	AlertedFeeds(ctx context.Context) ([]models.FeedView, error)
	ActiveFeeds(ctx context.Context) ([]models.FeedView, error)

	// Poll log operations
	RecordPoll(ctx context.Context, entry *models.PollLogEntry) error
	PollLogForFeed(ctx context.Context, feedID uint, limit int) ([]models.PollLogEntry, error)
	PollStats(ctx context.Context, feedID uint, since time.Time) (*models.PollStats, error)
	PollTimes(ctx context.Context, feedID uint, since time.Time) ([]time.Time, error)
	PrunePollLog(ctx context.Context, before time.Time) (int64, error)

	// System log operations
	AppendSystemLog(ctx context.Context, level, source, message string, context models.JSON) error
	QuerySystemLog(ctx context.Context, filter SystemLogFilter) ([]models.SystemLogEntry, int64, error)
	PruneSystemLog(ctx context.Context, before time.Time) (int64, error)

	// Settings operations
	LoadSettings(ctx context.Context) (models.Settings, error)
	SaveSettings(ctx context.Context, settings models.Settings) error
	SeedSettings(ctx context.Context, defaults models.Settings) error

	// Maintenance
	Migrate() error
	Close() error
}
