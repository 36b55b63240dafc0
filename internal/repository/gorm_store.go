package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chat-history-agent/internal/domain"
)

// turnRecord is the SQL row for one persisted turn.
type turnRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	Collection string    `gorm:"index:idx_chat_turns_order,priority:1;not null"`
	Type       string    `gorm:"not null"`
	Content    string    `gorm:"not null"`
	Timestamp  string    `gorm:"not null;default:''"`
	CreatedAt  time.Time `gorm:"index:idx_chat_turns_order,priority:2"`
}

func (turnRecord) TableName() string {
	return "chat_turns"
}

// GormStore keeps turns in a SQL table shared by collections.
type GormStore struct {
	db         *gorm.DB
	collection string
}

// OpenPostgres connects to dsn and migrates the chat_turns table.
func OpenPostgres(dsn, collection string) (*GormStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: postgres dsn must not be empty")
	}
	return openGorm(postgres.Open(dsn), collection)
}

// openGorm opens any gorm dialector and migrates the chat_turns table.
func openGorm(dialector gorm.Dialector, collection string) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", dialector.Name(), err)
	}
	if err := db.AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return NewGormStore(db, collection)
}

// NewGormStore wraps an already opened and migrated database.
func NewGormStore(db *gorm.DB, collection string) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, errors.New("repository: collection must not be empty")
	}
	return &GormStore{db: db, collection: collection}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("repository: Close: %w", err)
	}
	return sqlDB.Close()
}

// Append inserts one row. A zero CreatedAt is stamped by gorm on create.
func (s *GormStore) Append(ctx context.Context, turn domain.Turn) error {
	rec := toRecord(s.collection, turn)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("repository: Append: %w", err)
	}
	return nil
}

// ReadAll returns the collection ordered by created_at, ties broken by id.
func (s *GormStore) ReadAll(ctx context.Context) ([]domain.Turn, error) {
	var recs []turnRecord
	if err := orderedTurns(s.db.WithContext(ctx), s.collection).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("repository: ReadAll: %w", err)
	}
	turns := make([]domain.Turn, 0, len(recs))
	for _, rec := range recs {
		turn, err := fromRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("repository: ReadAll: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// DeleteAll deletes every row of the collection, one statement per row.
func (s *GormStore) DeleteAll(ctx context.Context) (int, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).Model(&turnRecord{}).
		Where("collection = ?", s.collection).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAll list: %w", err)
	}
	n, err := deleteEach(ids, func(id uint64) error {
		return s.db.WithContext(ctx).Delete(&turnRecord{}, id).Error
	})
	if err != nil {
		return n, fmt.Errorf("repository: DeleteAll: %w", err)
	}
	return n, nil
}

func orderedTurns(db *gorm.DB, collection string) *gorm.DB {
	return db.Model(&turnRecord{}).
		Where("collection = ?", collection).
		Order("created_at ASC").
		Order("id ASC")
}

func toRecord(collection string, turn domain.Turn) turnRecord {
	return turnRecord{
		Collection: collection,
		Type:       string(turn.Type),
		Content:    turn.Content,
		Timestamp:  turn.Timestamp,
		CreatedAt:  turn.CreatedAt,
	}
}

func fromRecord(rec turnRecord) (domain.Turn, error) {
	typ := domain.TurnType(rec.Type)
	if !typ.Valid() {
		return domain.Turn{}, fmt.Errorf("row %d: unknown turn type %q", rec.ID, rec.Type)
	}
	return domain.Turn{
		Type:      typ,
		Content:   rec.Content,
		Timestamp: rec.Timestamp,
		CreatedAt: rec.CreatedAt,
	}, nil
}
