package models

import "time"

// Alert is a lab notification raised by the supervisor: resource shortages,
// unattended tests, failed results and handovers without a receiver.
type Alert struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Kind         string    `gorm:"size:32;not null;index"`
	Severity     string    `gorm:"size:8;default:info"`
	RequestID    string    `gorm:"size:64;index"`
	SampleID     string    `gorm:"size:64"`
	Test         string    `gorm:"size:128"`
	Subject      string    `gorm:"size:256;not null"`
	Body         string    `gorm:"type:text"`
	Acknowledged bool      `gorm:"default:false;index"`
	CreatedAt    time.Time `gorm:"index"`
}
