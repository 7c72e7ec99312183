package domain

import (
	"time"

	"github.com/parlorhq/parlor/pkg/database"
)

// UserModel is the GORM model for the users table.
type UserModel struct {
	ID         string    `gorm:"type:varchar(36);primaryKey"`
	Username   string    `gorm:"type:varchar(50);uniqueIndex;not null"`
	APIKey     string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	Email      string    `gorm:"type:varchar(255)"`
	WebhookURL string    `gorm:"type:varchar(2048)"`
	Logo       string    `gorm:"type:varchar(100)"`
	Emoji      string    `gorm:"type:varchar(16)"`
	Role       string    `gorm:"type:varchar(16);not null;default:member;index"`
	CreatedBy  string    `gorm:"type:varchar(50);index"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for UserModel.
func (UserModel) TableName() string {
	return "users"
}

// ToDomain converts UserModel to domain User.
func (m *UserModel) ToDomain() *User {
	return &User{
		ID:         m.ID,
		Username:   m.Username,
		APIKey:     m.APIKey,
		Email:      m.Email,
		WebhookURL: m.WebhookURL,
		Logo:       m.Logo,
		Emoji:      m.Emoji,
		Role:       Role(m.Role),
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
	}
}

// UserToModel converts domain User to UserModel.
func UserToModel(u *User) *UserModel {
	return &UserModel{
		ID:         u.ID,
		Username:   u.Username,
		APIKey:     u.APIKey,
		Email:      u.Email,
		WebhookURL: u.WebhookURL,
		Logo:       u.Logo,
		Emoji:      u.Emoji,
		Role:       string(u.Role),
		CreatedBy:  u.CreatedBy,
		CreatedAt:  u.CreatedAt,
	}
}

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID           string    `gorm:"type:varchar(36);primaryKey"`
	FromUsername string    `gorm:"type:varchar(50);not null;index"`
	ToUsername   string    `gorm:"type:varchar(50);index"`
	Content      string    `gorm:"type:text;not null"`
	MessageType  string    `gorm:"type:varchar(16);not null;index"`
	Timestamp    time.Time `gorm:"not null;index"`
}

// TableName specifies the table name for MessageModel.
func (MessageModel) TableName() string {
	return "messages"
}

// ToDomain converts MessageModel to domain Message.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:           m.ID,
		FromUsername: m.FromUsername,
		ToUsername:   m.ToUsername,
		Content:      m.Content,
		MessageType:  MessageType(m.MessageType),
		Timestamp:    m.Timestamp,
	}
}

// MessageToModel converts domain Message to MessageModel.
func MessageToModel(msg *Message) *MessageModel {
	return &MessageModel{
		ID:           msg.ID,
		FromUsername: msg.FromUsername,
		ToUsername:   msg.ToUsername,
		Content:      msg.Content,
		MessageType:  string(msg.MessageType),
		Timestamp:    msg.Timestamp,
	}
}

// ReadReceiptModel is the GORM model for the read_receipts table. The
// composite primary key makes inserts naturally idempotent per pair.
type ReadReceiptModel struct {
	MessageID string    `gorm:"type:varchar(36);primaryKey"`
	Username  string    `gorm:"type:varchar(50);primaryKey;index"`
	ReadAt    time.Time `gorm:"not null"`
}

// TableName specifies the table name for ReadReceiptModel.
func (ReadReceiptModel) TableName() string {
	return "read_receipts"
}

// ToDomain converts ReadReceiptModel to domain ReadReceipt.
func (m *ReadReceiptModel) ToDomain() *ReadReceipt {
	return &ReadReceipt{
		MessageID: m.MessageID,
		Username:  m.Username,
		ReadAt:    m.ReadAt,
	}
}

// ConversationModel is the GORM model for the conversations table.
type ConversationModel struct {
	ID          string               `gorm:"type:varchar(36);primaryKey"`
	Title       string               `gorm:"type:varchar(200)"`
	Description string               `gorm:"type:text"`
	MessageIDs  database.StringArray `gorm:"type:text"`
	CreatedBy   string               `gorm:"type:varchar(50);not null;index"`
	CreatedAt   time.Time            `gorm:"autoCreateTime"`
}

// TableName specifies the table name for ConversationModel.
func (ConversationModel) TableName() string {
	return "conversations"
}

// ToDomain converts ConversationModel to domain Conversation.
func (m *ConversationModel) ToDomain() *Conversation {
	return &Conversation{
		ID:          m.ID,
		Title:       m.Title,
		Description: m.Description,
		MessageIDs:  []string(m.MessageIDs),
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
	}
}

// ConversationToModel converts domain Conversation to ConversationModel.
func ConversationToModel(c *Conversation) *ConversationModel {
	return &ConversationModel{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		MessageIDs:  database.StringArray(c.MessageIDs),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
	}
}
