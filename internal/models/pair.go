package models

import (
	"time"
)

// FeedPair is the sync relationship between two platforms for one apartment.
// It owns exactly two feeds, one per direction. PlatformAID is always the
// smaller of the two platform IDs; the storage layer swaps on create.
type FeedPair struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ApartmentID uint      `gorm:"index;not null" json:"apartment_id"`
	Apartment   *Apartment `gorm:"foreignKey:ApartmentID" json:"apartment,omitempty"`
	PlatformAID uint      `gorm:"not null" json:"platform_a_id"`
	PlatformBID uint      `gorm:"not null" json:"platform_b_id"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
