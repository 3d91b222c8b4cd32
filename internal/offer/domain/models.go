// Package domain contains persistence models for sales offers.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// OfferStatus represents offer lifecycle states.
type OfferStatus string

const (
	OfferStatusSent     OfferStatus = "SENT"
	OfferStatusAccepted OfferStatus = "ACCEPTED"
	OfferStatusRejected OfferStatus = "REJECTED"
	OfferStatusExpired  OfferStatus = "EXPIRED"
)

// Offer is a quote sent to a customer that lapses at ValidUntil.
type Offer struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	OrgID          snowflake.ID `gorm:"not null;index"`
	CustomerID     snowflake.ID `gorm:"not null;index"`
	Number         string       `gorm:"type:text;not null"`
	Status         OfferStatus  `gorm:"type:text;not null;default:'SENT'"`
	TotalAmount    int64        `gorm:"not null;default:0"`
	Currency       string       `gorm:"type:text;not null"`
	ValidUntil     time.Time    `gorm:"not null;index"`
	LastRemindedAt *time.Time   `gorm:""`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Offer) TableName() string { return "offers" }

// ExpiringOffer is an open offer joined with its customer contact.
type ExpiringOffer struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	CustomerID     snowflake.ID
	Number         string
	TotalAmount    int64
	Currency       string
	ValidUntil     time.Time
	LastRemindedAt *time.Time
	CustomerName   string
	CustomerEmail  string
}

type Repository interface {
	// ListExpiring returns sent offers of orgID with from <= valid_until < to.
	ListExpiring(ctx context.Context, db *gorm.DB, orgID snowflake.ID, from, to time.Time) ([]ExpiringOffer, error)
	LockForReminder(ctx context.Context, tx *gorm.DB, orgID, offerID snowflake.ID) (*Offer, error)
	// MarkReminded stamps last_reminded_at. With firstOnly it only matches
	// offers that were never reminded.
	MarkReminded(ctx context.Context, tx *gorm.DB, orgID, offerID snowflake.ID, at time.Time, firstOnly bool) (bool, error)
}
