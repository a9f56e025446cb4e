package models

import "time"

// OutboxMessage is a message written in the same transaction as the state
// change that produced it and published later by the relay.
type OutboxMessage struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	Subject        string  `gorm:"type:text;not null"`
	Payload        []byte  `gorm:"not null"`
	Attempts       int     `gorm:"not null;default:0"`
	LastError      *string `gorm:"type:text"`
	LeaseExpiresAt *time.Time
	PublishedAt    *time.Time `gorm:"index"`
	CreatedAt      time.Time  `gorm:"index"`
}

func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

// ImportBatch records a processed batch so a redelivered batch message is
// applied once.
type ImportBatch struct {
	ImportID  string `gorm:"type:uuid;primaryKey"`
	BatchID   string `gorm:"type:text;primaryKey"`
	AppliedAt time.Time
}

func (ImportBatch) TableName() string {
	return "import_batches"
}
