package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/RichardoC/matrixchat/internal/models"
)

type conversationRecord struct {
	ID        int64     `gorm:"primaryKey"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`

	Messages []messageRecord `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (conversationRecord) TableName() string {
	return "conversations"
}

type messageRecord struct {
	ID             int64     `gorm:"primaryKey"`
	ConversationID int64     `gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	Role           string    `gorm:"size:16;not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (messageRecord) TableName() string {
	return "messages"
}

func (r messageRecord) toModel() models.Message {
	return models.Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		Role:           models.Role(r.Role),
		Content:        r.Content,
		CreatedAt:      r.CreatedAt,
	}
}

// PostgresStore is the gorm backed Store used for shared deployments.
type PostgresStore struct {
	DB  *gorm.DB
	now func() time.Time
}

func ParseGormLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "", "silent":
		return logger.Silent, nil
	case "error":
		return logger.Error, nil
	case "warn":
		return logger.Warn, nil
	case "info":
		return logger.Info, nil
	}
	return logger.Silent, fmt.Errorf("unknown gorm log level: %s", level)
}

func NewPostgres(dsn string, logLevel logger.LogLevel, opts ...Option) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&conversationRecord{}, &messageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	o := buildOptions(opts)
	return &PostgresStore{DB: db, now: o.now}, nil
}

func (s *PostgresStore) timestamp() time.Time {
	return s.now().UTC()
}

// classify keeps not-found and validation errors intact and wraps everything else.
func classify(op string, err error) error {
	var se *StorageError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrValidation), errors.As(err, &se):
		return err
	}
	return storageErr(op, err)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, title string) (*models.Conversation, error) {
	now := s.timestamp()
	rec := conversationRecord{Title: titleOrDefault(title), CreatedAt: now, UpdatedAt: now}
	if err := s.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return nil, storageErr("create conversation", err)
	}
	return &models.Conversation{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context) ([]models.ConversationSummary, error) {
	var recs []conversationRecord
	if err := s.DB.WithContext(ctx).Order("updated_at DESC, id DESC").Find(&recs).Error; err != nil {
		return nil, storageErr("list conversations", err)
	}

	var previews []struct {
		ConversationID int64
		Content        string
		Role           string
	}
	err := s.DB.WithContext(ctx).Raw(`
        SELECT DISTINCT ON (conversation_id) conversation_id, content, role
        FROM messages
        ORDER BY conversation_id, created_at DESC, id DESC`).Scan(&previews).Error
	if err != nil {
		return nil, storageErr("list conversations", err)
	}

	byConversation := make(map[int64]*models.Preview, len(previews))
	for _, p := range previews {
		byConversation[p.ConversationID] = &models.Preview{Content: p.Content, Role: models.Role(p.Role)}
	}

	conversations := make([]models.ConversationSummary, 0, len(recs))
	for _, rec := range recs {
		conversations = append(conversations, models.ConversationSummary{
			Conversation: models.Conversation{ID: rec.ID, Title: rec.Title, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt},
			Preview:      byConversation[rec.ID],
		})
	}
	return conversations, nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, id int64) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&messageRecord{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&conversationRecord{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(id)
		}
		return nil
	})
	return classify("delete conversation", err)
}

func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, id int64, title string) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title is empty", models.ErrValidation)
	}

	res := s.DB.WithContext(ctx).Model(&conversationRecord{}).Where("id = ?", id).UpdateColumn("title", title)
	if res.Error != nil {
		return storageErr("update conversation title", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(id)
	}
	return nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, content string, role models.Role, conversationID int64) (*models.Message, error) {
	if err := models.ValidateMessage(content, role); err != nil {
		return nil, err
	}

	now := s.timestamp()
	rec := messageRecord{
		ConversationID: conversationID,
		Role:           string(role),
		Content:        content,
		CreatedAt:      now,
	}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&conversationRecord{}).Where("id = ?", conversationID).UpdateColumn("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(conversationID)
		}
		return tx.Create(&rec).Error
	})
	if err != nil {
		return nil, classify("save message", err)
	}

	msg := rec.toModel()
	return &msg, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&conversationRecord{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return nil, storageErr("list messages", err)
	}
	if count == 0 {
		return nil, notFound(conversationID)
	}

	var recs []messageRecord
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC, id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, storageErr("list messages", err)
	}

	messages := make([]models.Message, 0, len(recs))
	for _, rec := range recs {
		messages = append(messages, rec.toModel())
	}
	return messages, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
