package models

import "time"

// Snapshot stores the serialized lab state under a well-known name.
type Snapshot struct {
	Name      string `gorm:"primaryKey;size:64"`
	Data      string `gorm:"type:longtext"`
	UpdatedAt time.Time
}
