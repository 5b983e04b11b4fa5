package capsule

import (
	"time"
)

// Capsule represents capsules. The ID is the object identifier minted by the
// blob store at upload time; the registry never generates its own ids.
type Capsule struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Filename   string    `gorm:"not null" json:"filename"`
	MimeType   string    `json:"mime_type"`
	FileSize   int64     `json:"file_size"`
	UploaderID string    `gorm:"not null;index" json:"uploader_id"`
	UploadTime time.Time `gorm:"not null" json:"upload_time"`
	UnlockTime time.Time `gorm:"not null" json:"unlock_time"`
	// ExpiryTime equals UnlockTime: an undelivered capsule is purged at the
	// instant it unlocks. Retention is bounded by construction.
	ExpiryTime time.Time `gorm:"not null;index" json:"expiry_time"`
	// Unlocked bypasses the time gate. No exposed operation sets it; it exists
	// as an administrative override in the schema.
	Unlocked bool `gorm:"default:false" json:"unlocked"`
	// PendingDownloads equals the number of Records with Downloaded=false.
	// Maintained inside the same transactions that mutate the records.
	PendingDownloads int `gorm:"not null" json:"-"`

	Records []DownloadRecord `gorm:"foreignKey:CapsuleID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Capsule) TableName() string {
	return "capsules"
}

// DownloadRecord represents download_records, one per (capsule, recipient).
// The record set is the allowed-recipient set; it is created with the capsule
// and never mutated except for the one-shot download mark.
type DownloadRecord struct {
	CapsuleID    string     `gorm:"primaryKey" json:"capsule_id"`
	UserID       string     `gorm:"primaryKey" json:"user_id"`
	Downloaded   bool       `gorm:"default:false" json:"downloaded"`
	DownloadTime *time.Time `json:"download_time,omitempty"`
}

func (DownloadRecord) TableName() string {
	return "download_records"
}

// IsRecipient reports whether userID may ever access the capsule.
// Requires Records to be loaded.
func (c *Capsule) IsRecipient(userID string) bool {
	for _, r := range c.Records {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// IsUnlockedAt reports whether the time gate is open at t.
func (c *Capsule) IsUnlockedAt(t time.Time) bool {
	return c.Unlocked || !t.Before(c.UnlockTime)
}

// Recipients returns the allowed recipient ids. Requires Records to be loaded.
func (c *Capsule) Recipients() []string {
	ids := make([]string, 0, len(c.Records))
	for _, r := range c.Records {
		ids = append(ids, r.UserID)
	}
	return ids
}
