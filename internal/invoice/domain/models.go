// Package domain contains persistence models for invoices under collection.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	reminderdomain "github.com/smallbiznis/dunning/internal/reminder/domain"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusSent    InvoiceStatus = "SENT"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
	InvoiceStatusVoid    InvoiceStatus = "VOID"
)

// CollectibleStatuses are the states in which an invoice can be reminded.
var CollectibleStatuses = []InvoiceStatus{InvoiceStatusSent, InvoiceStatusOverdue}

// Invoice represents an issued invoice. TotalAmount is in currency minor units.
type Invoice struct {
	ID             snowflake.ID         `gorm:"primaryKey"`
	OrgID          snowflake.ID         `gorm:"not null;index"`
	CustomerID     snowflake.ID         `gorm:"not null;index"`
	Number         string               `gorm:"type:text;not null"`
	Status         InvoiceStatus        `gorm:"type:text;not null;default:'DRAFT'"`
	TotalAmount    int64                `gorm:"not null;default:0"`
	Currency       string               `gorm:"type:text;not null"`
	IssuedAt       *time.Time           `gorm:""`
	DueAt          *time.Time           `gorm:"index"`
	ReminderLevel  reminderdomain.Level `gorm:"type:text;not null;default:'NONE'"`
	LastRemindedAt *time.Time           `gorm:""`
	Metadata       datatypes.JSONMap    `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt      time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time            `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// ReminderCandidate is an overdue invoice joined with its customer contact.
type ReminderCandidate struct {
	ID             snowflake.ID
	OrgID          snowflake.ID
	CustomerID     snowflake.ID
	Number         string
	Status         InvoiceStatus
	TotalAmount    int64
	Currency       string
	DueAt          time.Time
	ReminderLevel  reminderdomain.Level
	LastRemindedAt *time.Time
	CustomerName   string
	CustomerEmail  string
}

// AdvanceLevelParams describes a guarded reminder level change.
type AdvanceLevelParams struct {
	OrgID     snowflake.ID
	InvoiceID snowflake.ID
	Expected  reminderdomain.Level
	Next      reminderdomain.Level
	Status    InvoiceStatus
	At        time.Time
}
