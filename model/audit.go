package model

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
)

// AuditLogEntry is one append-only record of a completion attempt.
type AuditLogEntry struct {
	Id        int    `gorm:"primaryKey"`
	RequestId string `gorm:"size:64;index"`
	Provider  string `gorm:"size:64;index"`
	Model     string `gorm:"size:128"`
	UserId    string `gorm:"size:128;index"`
	SessionId string `gorm:"size:128"`
	Kind      string `gorm:"size:32"`

	PromptHash     string `gorm:"size:64"`
	PromptLength   int
	ResponseLength int
	TokensUsed     int
	DurationMs     int64
	EstimatedCost  float64

	Success      bool
	ErrorCode    string `gorm:"size:32"`
	ErrorMessage string `gorm:"type:text"`

	RequestMetadata  string `gorm:"type:text"`
	ResponseMetadata string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
}

// InsertAuditLog appends one entry.
func InsertAuditLog(ctx context.Context, entry *AuditLogEntry) error {
	return errors.Wrap(DB.WithContext(ctx).Create(entry).Error, "insert audit log")
}

// RecentAuditLogs returns the newest entries, newest first.
func RecentAuditLogs(ctx context.Context, limit int) ([]*AuditLogEntry, error) {
	var entries []*AuditLogEntry
	err := DB.WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&entries).Error
	return entries, errors.Wrap(err, "query recent audit logs")
}

// CountAuditFailuresSince counts failed attempts after the cutoff, used by
// the health report.
func CountAuditFailuresSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := DB.WithContext(ctx).Model(&AuditLogEntry{}).
		Where("success = ? AND created_at > ?", false, cutoff).
		Count(&count).Error
	return count, errors.Wrap(err, "count audit failures")
}
