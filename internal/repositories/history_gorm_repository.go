package repositories

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"warung/internal/models"

	"gorm.io/gorm"
)

// ArchivedOrder is the local table row for an order that reached history.
// The full record is kept as JSON so schema changes upstream do not require
// a local migration; the indexed columns exist for listing.
type ArchivedOrder struct {
	ID         string `gorm:"primaryKey"`
	State      string
	Version    int64
	Record     []byte
	ArchivedAt time.Time
}

// HistoryRepository persists orders that entered the history view, so the
// actor can browse past orders without refetching them.
type HistoryRepository interface {
	Archive(order *models.OrderRecord) error
	GetAll() ([]models.OrderRecord, error)
	GetByID(id string) (*models.OrderRecord, error)
}

// GORMHistoryRepository is a GORM implementation of HistoryRepository,
// backed by a local SQLite file.
type GORMHistoryRepository struct {
	db *gorm.DB
}

// NewGORMHistoryRepository creates the repository and migrates its table.
func NewGORMHistoryRepository(db *gorm.DB) (*GORMHistoryRepository, error) {
	if err := db.AutoMigrate(&ArchivedOrder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate history table: %w", err)
	}
	return &GORMHistoryRepository{db: db}, nil
}

// Archive upserts the order. Re-archiving the same or an older version is a
// no-op, so the reconciliation engine can call this on every history entrant
// without churning the table.
func (r *GORMHistoryRepository) Archive(order *models.OrderRecord) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode order %s for archive: %w", order.ID, err)
	}

	var existing ArchivedOrder
	err = r.db.First(&existing, "id = ?", order.ID).Error
	switch {
	case err == nil:
		if existing.Version >= order.Version {
			return nil
		}
		existing.State = string(order.State)
		existing.Version = order.Version
		existing.Record = payload
		existing.ArchivedAt = time.Now()
		if err := r.db.Save(&existing).Error; err != nil {
			return fmt.Errorf("failed to update archived order %s: %w", order.ID, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		row := ArchivedOrder{
			ID:         order.ID,
			State:      string(order.State),
			Version:    order.Version,
			Record:     payload,
			ArchivedAt: time.Now(),
		}
		if err := r.db.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to archive order %s: %w", order.ID, err)
		}
		return nil
	default:
		return fmt.Errorf("failed to look up archived order %s: %w", order.ID, err)
	}
}

// GetAll returns every archived order, most recently archived first.
func (r *GORMHistoryRepository) GetAll() ([]models.OrderRecord, error) {
	var rows []ArchivedOrder
	if err := r.db.Order("archived_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list archived orders: %w", err)
	}

	orders := make([]models.OrderRecord, 0, len(rows))
	for _, row := range rows {
		var order models.OrderRecord
		if err := json.Unmarshal(row.Record, &order); err != nil {
			return nil, fmt.Errorf("corrupt archive row %s: %w", row.ID, err)
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// GetByID returns one archived order.
func (r *GORMHistoryRepository) GetByID(id string) (*models.OrderRecord, error) {
	var row ArchivedOrder
	if err := r.db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to load archived order %s: %w", id, err)
	}
	var order models.OrderRecord
	if err := json.Unmarshal(row.Record, &order); err != nil {
		return nil, fmt.Errorf("corrupt archive row %s: %w", id, err)
	}
	return &order, nil
}

var _ HistoryRepository = (*GORMHistoryRepository)(nil)
