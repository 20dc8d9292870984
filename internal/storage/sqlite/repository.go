package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ics-monitor/internal/models"
	"github.com/ics-monitor/internal/storage"
)

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Migrate runs database migrations
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(
		&models.Apartment{},
		&models.Platform{},
		&models.FeedPair{},
		&models.Feed{},
		&models.PollLogEntry{},
		&models.SystemLogEntry{},
		&models.Settings{},
	)
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// Apartment operations

func (r *Repository) CreateApartment(ctx context.Context, apartment *models.Apartment) error {
	apartment.Slug = models.Slugify(apartment.Name)
	return r.db.WithContext(ctx).Create(apartment).Error
}

func (r *Repository) GetApartment(ctx context.Context, id uint) (*models.Apartment, error) {
	var apartment models.Apartment
	if err := r.db.WithContext(ctx).First(&apartment, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &apartment, nil
}

func (r *Repository) ListApartments(ctx context.Context) ([]*models.Apartment, error) {
	var apartments []*models.Apartment
	if err := r.db.WithContext(ctx).
		Order("sort_order ASC, name ASC").
		Find(&apartments).Error; err != nil {
		return nil, err
	}
	return apartments, nil
}

func (r *Repository) UpdateApartment(ctx context.Context, apartment *models.Apartment) error {
	apartment.Slug = models.Slugify(apartment.Name)
	return r.db.WithContext(ctx).Save(apartment).Error
}

// DeleteApartment removes an apartment and cascades to its pairs, their feeds
// and the feeds' poll log rows.
func (r *Repository) DeleteApartment(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pairs []*models.FeedPair
		if err := tx.Where("apartment_id = ?", id).Find(&pairs).Error; err != nil {
			return err
		}
		for _, pair := range pairs {
			if err := deletePairTx(tx, pair.ID); err != nil {
				return err
			}
		}
		return tx.Delete(&models.Apartment{}, id).Error
	})
}

// Platform operations

func (r *Repository) CreatePlatform(ctx context.Context, platform *models.Platform) error {
	platform.Slug = models.Slugify(platform.Name)
	return r.db.WithContext(ctx).Create(platform).Error
}

func (r *Repository) GetPlatform(ctx context.Context, id uint) (*models.Platform, error) {
	var platform models.Platform
	if err := r.db.WithContext(ctx).First(&platform, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &platform, nil
}

func (r *Repository) ListPlatforms(ctx context.Context) ([]*models.Platform, error) {
	var platforms []*models.Platform
	if err := r.db.WithContext(ctx).
		Order("sort_order ASC, name ASC").
		Find(&platforms).Error; err != nil {
		return nil, err
	}
	return platforms, nil
}

// DeletePlatform refuses to delete a platform still referenced by any pair.
func (r *Repository) DeletePlatform(ctx context.Context, id uint) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.FeedPair{}).
		Where("platform_a_id = ? OR platform_b_id = ?", id, id).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return storage.ErrPlatformInUse
	}
	return r.db.WithContext(ctx).Delete(&models.Platform{}, id).Error
}

// Pair operations

// CreatePair stores the pair with platform_a_id < platform_b_id, swapping the
// direction source URLs when the caller supplied the platforms in the other
// order, and creates the two directional feeds.
func (r *Repository) CreatePair(ctx context.Context, pair *models.FeedPair, sourceURLAToB, sourceURLBToA string) error {
	if pair.PlatformAID == pair.PlatformBID {
		return fmt.Errorf("pair requires two distinct platforms")
	}
	if pair.PlatformAID > pair.PlatformBID {
		pair.PlatformAID, pair.PlatformBID = pair.PlatformBID, pair.PlatformAID
		sourceURLAToB, sourceURLBToA = sourceURLBToA, sourceURLAToB
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(pair).Error; err != nil {
			return err
		}
		feeds := []*models.Feed{
			{
				PairID:          pair.ID,
				Direction:       models.DirectionAToB,
				SourceURL:       sourceURLAToB,
				ProxyToken:      models.NewProxyToken(),
				LastFetchStatus: models.FetchStatusNever,
			},
			{
				PairID:          pair.ID,
				Direction:       models.DirectionBToA,
				SourceURL:       sourceURLBToA,
				ProxyToken:      models.NewProxyToken(),
				LastFetchStatus: models.FetchStatusNever,
			},
		}
		return tx.Create(&feeds).Error
	})
}

func (r *Repository) GetPair(ctx context.Context, id uint) (*models.FeedPair, error) {
	var pair models.FeedPair
	if err := r.db.WithContext(ctx).Preload("Apartment").First(&pair, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &pair, nil
}

func (r *Repository) ListPairs(ctx context.Context) ([]*models.FeedPair, error) {
	var pairs []*models.FeedPair
	if err := r.db.WithContext(ctx).
		Preload("Apartment").
		Order("apartment_id ASC, id ASC").
		Find(&pairs).Error; err != nil {
		return nil, err
	}
	return pairs, nil
}

func (r *Repository) SetPairActive(ctx context.Context, id uint, active bool) error {
	return r.db.WithContext(ctx).Model(&models.FeedPair{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

func (r *Repository) DeletePair(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deletePairTx(tx, id)
	})
}

func deletePairTx(tx *gorm.DB, pairID uint) error {
	var feedIDs []uint
	if err := tx.Model(&models.Feed{}).
		Where("pair_id = ?", pairID).
		Pluck("id", &feedIDs).Error; err != nil {
		return err
	}
	if len(feedIDs) > 0 {
		if err := tx.Where("feed_id IN ?", feedIDs).
			Delete(&models.PollLogEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Where("pair_id = ?", pairID).
			Delete(&models.Feed{}).Error; err != nil {
			return err
		}
	}
	return tx.Delete(&models.FeedPair{}, pairID).Error
}

// Feed operations

// feedViewQuery builds the joined projection every read path shares.
func (r *Repository) feedViewQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("feeds AS f").
		Select(`f.id AS feed_id, f.pair_id, f.direction, f.source_url, f.proxy_token,
			f.alert_window_hours, f.last_polled_at, f.last_poll_ip, f.last_fetch_status,
			f.last_alert_sent_at, f.created_at, p.is_active AS pair_active,
			a.name AS apartment_name, pa.name AS platform_a_name, pb.name AS platform_b_name`).
		Joins("JOIN feed_pairs p ON p.id = f.pair_id").
		Joins("JOIN apartments a ON a.id = p.apartment_id").
		Joins("JOIN platforms pa ON pa.id = p.platform_a_id").
		Joins("JOIN platforms pb ON pb.id = p.platform_b_id")
}

func (r *Repository) GetFeedView(ctx context.Context, feedID uint) (*models.FeedView, error) {
	var view models.FeedView
	err := r.feedViewQuery(ctx).Where("f.id = ?", feedID).Take(&view).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &view, nil
}

func (r *Repository) ListFeedViews(ctx context.Context) ([]models.FeedView, error) {
	var views []models.FeedView
	err := r.feedViewQuery(ctx).
		Order("a.sort_order ASC, a.name ASC, f.pair_id ASC, f.direction ASC").
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (r *Repository) FeedsForPair(ctx context.Context, pairID uint) ([]*models.Feed, error) {
	var feeds []*models.Feed
	if err := r.db.WithContext(ctx).
		Where("pair_id = ?", pairID).
		Order("direction ASC").
		Find(&feeds).Error; err != nil {
		return nil, err
	}
	return feeds, nil
}

func (r *Repository) FindFeedByToken(ctx context.Context, token string) (*models.FeedView, error) {
	var view models.FeedView
	err := r.feedViewQuery(ctx).Where("f.proxy_token = ?", token).Take(&view).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &view, nil
}

// UpdatePollState records the outcome of one proxy poll on the feed row. Only
// the poll-state field group is touched; alert state stays with the runner.
func (r *Repository) UpdatePollState(ctx context.Context, feedID uint, polledAt time.Time, ip string, status models.FetchStatus) error {
	return r.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feedID).
		Updates(map[string]interface{}{
			"last_polled_at":    polledAt,
			"last_poll_ip":      ip,
			"last_fetch_status": status,
		}).Error
}

func (r *Repository) SetAlertSent(ctx context.Context, feedID uint, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feedID).
		Update("last_alert_sent_at", at).Error
}

func (r *Repository) ClearAlertSent(ctx context.Context, feedID uint) error {
	return r.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feedID).
		Update("last_alert_sent_at", nil).Error
}

func (r *Repository) RegenerateToken(ctx context.Context, feedID uint) (string, error) {
	token := models.NewProxyToken()
	res := r.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feedID).
		Update("proxy_token", token)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", storage.ErrNotFound
	}
	return token, nil
}

func (r *Repository) SetFeedWindow(ctx context.Context, feedID uint, hours *int) error {
	return r.db.WithContext(ctx).Model(&models.Feed{}).
		Where("id = ?", feedID).
		Update("alert_window_hours", hours).Error
}

func (r *Repository) CountFeeds(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Feed{}).Count(&count).Error
	return count, err
}

func (r *Repository) CountActiveFeeds(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Feed{}).
		Joins("JOIN feed_pairs p ON p.id = feeds.pair_id").
		Where("p.is_active = ?", true).
		Count(&count).Error
	return count, err
}

// Evaluation queries

func (r *Repository) AlertEligibleFeeds(ctx context.Context, alertCutoff time.Time) ([]models.FeedView, error) {
	var views []models.FeedView
	err := r.feedViewQuery(ctx).
		Where("p.is_active = ?", true).
		Where("f.last_alert_sent_at IS NULL OR f.last_alert_sent_at < ?", alertCutoff).
		Order("f.last_polled_at ASC"). // NULLs sort first, most overdue next
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (r *Repository) AlertedFeeds(ctx context.Context) ([]models.FeedView, error) {
	var views []models.FeedView
	err := r.feedViewQuery(ctx).
		Where("p.is_active = ?", true).
		Where("f.last_alert_sent_at IS NOT NULL").
		Order("f.last_polled_at DESC").
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

func (r *Repository) ActiveFeeds(ctx context.Context) ([]models.FeedView, error) {
	var views []models.FeedView
	err := r.feedViewQuery(ctx).
		Where("p.is_active = ?", true).
		Order("f.last_polled_at ASC").
		Scan(&views).Error
	if err != nil {
		return nil, err
	}
	return views, nil
}

// Poll log operations

func (r *Repository) RecordPoll(ctx context.Context, entry *models.PollLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) PollLogForFeed(ctx context.Context, feedID uint, limit int) ([]models.PollLogEntry, error) {
	var entries []models.PollLogEntry
	if err := r.db.WithContext(ctx).
		Where("feed_id = ?", feedID).
		Order("polled_at DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) PollStats(ctx context.Context, feedID uint, since time.Time) (*models.PollStats, error) {
	var entries []models.PollLogEntry
	if err := r.db.WithContext(ctx).
		Where("feed_id = ? AND polled_at >= ?", feedID, since).
		Order("polled_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}

	stats := &models.PollStats{TotalPolls: len(entries)}
	var totalMs int
	for i := range entries {
		e := &entries[i]
		if e.UpstreamStatus == models.PollStatusOK {
			stats.SuccessfulPolls++
		} else {
			stats.FailedPolls++
		}
		totalMs += e.ResponseTimeMs
	}
	if len(entries) > 0 {
		stats.AvgResponseMs = float64(totalMs) / float64(len(entries))
		stats.FirstPoll = &entries[0].PolledAt
		stats.LastPoll = &entries[len(entries)-1].PolledAt
	}
	return stats, nil
}

func (r *Repository) PollTimes(ctx context.Context, feedID uint, since time.Time) ([]time.Time, error) {
	var times []time.Time
	err := r.db.WithContext(ctx).Model(&models.PollLogEntry{}).
		Where("feed_id = ? AND polled_at >= ?", feedID, since).
		Order("polled_at ASC").
		Pluck("polled_at", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}

func (r *Repository) PrunePollLog(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("polled_at < ?", before).
		Delete(&models.PollLogEntry{})
	return res.RowsAffected, res.Error
}

// System log operations

func (r *Repository) AppendSystemLog(ctx context.Context, level, source, message string, context models.JSON) error {
	return r.db.WithContext(ctx).Create(&models.SystemLogEntry{
		Level:   level,
		Source:  source,
		Message: message,
		Context: context,
	}).Error
}

func (r *Repository) QuerySystemLog(ctx context.Context, filter storage.SystemLogFilter) ([]models.SystemLogEntry, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SystemLogEntry{})

	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("message LIKE ? OR context LIKE ?", like, like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var entries []models.SystemLogEntry
	if err := query.
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *Repository) PruneSystemLog(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.SystemLogEntry{})
	return res.RowsAffected, res.Error
}

// Settings operations

func (r *Repository) LoadSettings(ctx context.Context) (models.Settings, error) {
	var settings models.Settings
	if err := r.db.WithContext(ctx).First(&settings).Error; err != nil {
		return models.Settings{}, wrapNotFound(err)
	}
	return settings, nil
}

func (r *Repository) SaveSettings(ctx context.Context, settings models.Settings) error {
	return r.db.WithContext(ctx).Save(&settings).Error
}

// SeedSettings writes the defaults only when no settings row exists yet.
func (r *Repository) SeedSettings(ctx context.Context, defaults models.Settings) error {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Settings{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&defaults).Error
}
