// Package domain contains persistence models for tenants and their reminder
// settings.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Organization represents a tenant.
type Organization struct {
	ID           snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name         string            `gorm:"type:text;not null" json:"name"`
	SupportEmail string            `gorm:"type:text;column:support_email" json:"support_email"`
	Active       bool              `gorm:"not null;default:true" json:"active"`
	Metadata     datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata"`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Organization) TableName() string { return "organizations" }

// ReminderSettings stores per-tenant overrides. A nil column falls back to the
// deployment default.
type ReminderSettings struct {
	OrgID                 snowflake.ID        `gorm:"primaryKey" json:"org_id"`
	FriendlyDays          *int                `json:"friendly_days"`
	Mahnung1Days          *int                `json:"mahnung1_days"`
	Mahnung2Days          *int                `json:"mahnung2_days"`
	Mahnung3Days          *int                `json:"mahnung3_days"`
	CollectionsDays       *int                `json:"collections_days"`
	Mahnung1Fee           decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"mahnung1_fee"`
	Mahnung2Fee           decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"mahnung2_fee"`
	Mahnung3Fee           decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"mahnung3_fee"`
	CollectionsFee        decimal.NullDecimal `gorm:"type:numeric(12,2)" json:"collections_fee"`
	AnnualInterestRate    decimal.NullDecimal `gorm:"type:numeric(8,6)" json:"annual_interest_rate"`
	SMTPHost              *string             `gorm:"column:smtp_host" json:"smtp_host"`
	SMTPPort              *int                `gorm:"column:smtp_port" json:"smtp_port"`
	SMTPUsername          *string             `gorm:"column:smtp_username" json:"smtp_username"`
	SMTPPassword          *string             `gorm:"column:smtp_password" json:"-"`
	MailFromAddress       *string             `gorm:"column:mail_from_address" json:"mail_from_address"`
	MailFromName          *string             `gorm:"column:mail_from_name" json:"mail_from_name"`
	CreatedAt             time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time           `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (ReminderSettings) TableName() string { return "organization_reminder_settings" }

// MailIdentity is the outbound mail account of one tenant.
type MailIdentity struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromAddress string
	FromName    string
}

// Complete reports whether the identity can be used to send mail.
func (m MailIdentity) Complete() bool {
	return m.Host != "" && m.Port > 0 && m.FromAddress != ""
}
