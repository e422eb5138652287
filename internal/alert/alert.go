// Package alert records lab alerts and fans them out to chat notifiers.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/RohitKumar027/ReliabilityPortal/internal/models"
)

// Alert kinds.
const (
	KindShortage   = "resource-shortage"
	KindShortfall  = "technician-shortfall"
	KindUnattended = "unattended-test"
	KindFailure    = "test-failed"
	KindHandover   = "shift-handover"
	KindSKUReport  = "sku-report"
)

// Severities.
const (
	SeverityInfo     = "info"
	SeverityWarn     = "warn"
	SeverityCritical = "critical"
)

// ErrNotFound is returned when acknowledging an unknown alert.
var ErrNotFound = errors.New("alert not found")

// Notifier delivers an alert outside the lab service.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a *models.Alert) error
}

// Log stores alerts in the SQL database when one is configured and in
// memory otherwise.
type Log struct {
	db        *gorm.DB
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	mem    []models.Alert
	nextID uint
}

// NewLog returns a Log. db may be nil.
func NewLog(db *gorm.DB, logger *slog.Logger, notifiers ...Notifier) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{db: db, notifiers: notifiers, logger: logger, now: time.Now}
}

// Raise records a new alert and notifies every notifier. Notifier errors
// are logged, not returned.
func (l *Log) Raise(ctx context.Context, a models.Alert) (*models.Alert, error) {
	if a.Kind == "" {
		return nil, fmt.Errorf("alert: kind is required")
	}
	if a.Subject == "" {
		return nil, fmt.Errorf("alert: subject is required")
	}
	if a.Severity == "" {
		a.Severity = SeverityInfo
	}
	a.ID = 0
	a.Acknowledged = false
	a.CreatedAt = l.now()

	if l.db != nil {
		if err := l.db.WithContext(ctx).Create(&a).Error; err != nil {
			return nil, fmt.Errorf("alert: raise: %w", err)
		}
	} else {
		l.mu.Lock()
		l.nextID++
		a.ID = l.nextID
		l.mem = append(l.mem, a)
		l.mu.Unlock()
	}

	l.logger.Log(ctx, level(a.Severity), "alert", "kind", a.Kind, "subject", a.Subject, "sample", a.SampleID, "test", a.Test)
	for _, n := range l.notifiers {
		if err := n.Notify(ctx, &a); err != nil {
			l.logger.Warn("alert notifier failed", "notifier", n.Name(), "alert", a.ID, "error", err)
		}
	}
	return &a, nil
}

// List returns alerts newest first. limit <= 0 means no limit.
func (l *Log) List(ctx context.Context, unacknowledgedOnly bool, limit int) ([]models.Alert, error) {
	if l.db != nil {
		q := l.db.WithContext(ctx).Order("id DESC")
		if unacknowledgedOnly {
			q = q.Where("acknowledged = ?", false)
		}
		if limit > 0 {
			q = q.Limit(limit)
		}
		var out []models.Alert
		if err := q.Find(&out).Error; err != nil {
			return nil, fmt.Errorf("alert: list: %w", err)
		}
		return out, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Alert
	for i := len(l.mem) - 1; i >= 0; i-- {
		if unacknowledgedOnly && l.mem[i].Acknowledged {
			continue
		}
		out = append(out, l.mem[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Since returns alerts with an id greater than afterID, oldest first.
func (l *Log) Since(ctx context.Context, afterID uint) ([]models.Alert, error) {
	if l.db != nil {
		var out []models.Alert
		if err := l.db.WithContext(ctx).Where("id > ?", afterID).Order("id ASC").Find(&out).Error; err != nil {
			return nil, fmt.Errorf("alert: since %d: %w", afterID, err)
		}
		return out, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.Alert
	for _, a := range l.mem {
		if a.ID > afterID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LatestID returns the highest alert id, or 0 when there are none.
func (l *Log) LatestID(ctx context.Context) uint {
	latest, err := l.List(ctx, false, 1)
	if err != nil || len(latest) == 0 {
		return 0
	}
	return latest[0].ID
}

// Acknowledge marks an alert as acknowledged.
func (l *Log) Acknowledge(ctx context.Context, id uint) error {
	if l.db != nil {
		result := l.db.WithContext(ctx).Model(&models.Alert{}).Where("id = ?", id).
			Update("acknowledged", true)
		if result.Error != nil {
			return fmt.Errorf("alert: acknowledge %d: %w", id, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("alert: acknowledge %d: %w", id, ErrNotFound)
		}
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.mem {
		if l.mem[i].ID == id {
			l.mem[i].Acknowledged = true
			return nil
		}
	}
	return fmt.Errorf("alert: acknowledge %d: %w", id, ErrNotFound)
}

func level(severity string) slog.Level {
	switch severity {
	case SeverityCritical:
		return slog.LevelError
	case SeverityWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}
