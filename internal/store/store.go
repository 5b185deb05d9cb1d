package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("interaction not found")

// Interaction is one accepted input event and its generated reply.
type Interaction struct {
	InputID        string    `gorm:"column:input_msg_id;primaryKey"`
	OutputID       string    `gorm:"column:output_msg_id;index"`
	ConversationID string    `gorm:"column:channel_id;index"`
	ActorID        int64     `gorm:"column:user_id;index"`
	CreatedAt      time.Time `gorm:"column:time_created;index"`
	Input          string    `gorm:"column:input"`
	Output         string    `gorm:"column:output"`
	// ContextJSON is the serialized message list sent to the model,
	// retained so replies-to-replies recover exact prior turns.
	ContextJSON string `gorm:"column:messages"`
	TokenCount  int    `gorm:"column:count_tokens"`
}

func (Interaction) TableName() string { return "messages" }

type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
	}
	gormLog := gormLogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormLogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.AutoMigrate(&Interaction{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Create(rec Interaction) error {
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// SetOutputID attaches the delivered reply's id to an existing record.
// The engine calls this exactly once per delivered interaction.
func (s *Store) SetOutputID(inputID, outputID string) error {
	res := s.db.Model(&Interaction{}).
		Where("input_msg_id = ?", inputID).
		Update("output_msg_id", outputID)
	if res.Error != nil {
		return fmt.Errorf("set output id: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ByInputID(inputID string) (Interaction, error) {
	var rec Interaction
	err := s.db.Where("input_msg_id = ?", inputID).First(&rec).Error
	return rec, wrapLookup(err)
}

func (s *Store) ByOutputID(outputID string) (Interaction, error) {
	var rec Interaction
	err := s.db.Where("output_msg_id = ?", outputID).First(&rec).Error
	return rec, wrapLookup(err)
}

// ByMessageID matches either side of an interaction.
func (s *Store) ByMessageID(messageID string) (Interaction, error) {
	var rec Interaction
	err := s.db.
		Where("input_msg_id = ? OR output_msg_id = ?", messageID, messageID).
		First(&rec).Error
	return rec, wrapLookup(err)
}

// LatestByConversation returns the newest delivered interaction in a
// conversation. Records without an output id are abandoned generations
// and never resolve as context.
func (s *Store) LatestByConversation(conversationID string) (Interaction, error) {
	var rec Interaction
	err := s.db.
		Where("channel_id = ? AND output_msg_id <> ''", conversationID).
		Order("time_created DESC").
		First(&rec).Error
	return rec, wrapLookup(err)
}

func (s *Store) ByActor(actorID int64) ([]Interaction, error) {
	var recs []Interaction
	if err := s.db.Where("user_id = ?", actorID).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list by actor: %w", err)
	}
	return recs, nil
}

func (s *Store) CountByActor(actorID int64) (int64, error) {
	var n int64
	if err := s.db.Model(&Interaction{}).Where("user_id = ?", actorID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count by actor: %w", err)
	}
	return n, nil
}

func (s *Store) DeleteByInputID(inputID string) error {
	if err := s.db.Where("input_msg_id = ?", inputID).Delete(&Interaction{}).Error; err != nil {
		return fmt.Errorf("delete interaction: %w", err)
	}
	return nil
}

func (s *Store) DeleteByActor(actorID int64) (int64, error) {
	res := s.db.Where("user_id = ?", actorID).Delete(&Interaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge actor: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteAll() (int64, error) {
	res := s.db.Where("1 = 1").Delete(&Interaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge all: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("time_created < ?", cutoff).Delete(&Interaction{})
	if res.Error != nil {
		return 0, fmt.Errorf("retention sweep: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func wrapLookup(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("lookup interaction: %w", err)
}
