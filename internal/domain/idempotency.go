// Package domain defines the core data types for the application. This file
// holds the only locally persisted model; the song request list itself lives
// in the remote repository file.
package domain

import "time"

// Idempotency records the outcome of a previously processed submit, keyed by
// (client_id, key). It lets a client retry a POST with the same
// Idempotency-Key and receive the originally produced response without a
// second code being assigned or a second write reaching the store.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ClientID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_client_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_client_key,priority:2"`
	Code      string    `gorm:"type:TEXT NOT NULL"` // assigned sequence code
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	Body      string    `gorm:"type:TEXT NOT NULL"` // response body as served
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
