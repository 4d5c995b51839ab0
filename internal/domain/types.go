// Package domain holds the stand-in's persisted rows.
package domain

import "time"

type Spa struct {
	ID        int64     `db:"id"`
	Name      string    `db:"spa_name"`
	City      string    `db:"city"`
	Area      string    `db:"area"`
	Price     string    `db:"price"`
	Timing    string    `db:"timing"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type SpaImage struct {
	ID         int64     `db:"id"`
	SpaID      int64     `db:"spa_id"`
	Position   int       `db:"position"`
	StorageKey string    `db:"storage_key"`
	Filename   string    `db:"filename"`
	MimeType   string    `db:"mime_type"`
	UploadedAt time.Time `db:"uploaded_at"`
}
