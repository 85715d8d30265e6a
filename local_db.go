package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ResumeSession represents the schema of the resume_sessions table
type ResumeSession struct {
	ID               string `gorm:"primaryKey;size:36"` // Upload id
	OriginalFilename string `gorm:"size:255"`
	TemplateID       string `gorm:"size:64;not null"`
	GenerationMode   string `gorm:"size:16"`
	Method           string `gorm:"size:32"` // Extraction method that succeeded
	Engine           string `gorm:"size:64"` // OCR engine, empty for direct text
	PageCount        int
	Stage            string `gorm:"size:32;not null"`
	Error            string `gorm:"size:4096"`
	Downloads        int    `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreditBalance represents the schema of the credit_balances table
type CreditBalance struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Balance   int    `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// ErrSessionNotFound is returned for unknown upload ids.
var ErrSessionNotFound = errors.New("session not found")

// InitializeDB initializes the SQLite database and migrates the schema
func InitializeDB(dbDir string) *gorm.DB {
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create db directory: %v", err)
	}

	db, err := openDB(filepath.Join(dbDir, "resume_sessions.db"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	return db
}

// openDB connects to the SQLite database at path and migrates the schema.
func openDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&ResumeSession{}, &CreditBalance{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database schema: %w", err)
	}
	return db, nil
}

// InsertSession inserts a new session record into the database
func InsertSession(db *gorm.DB, record *ResumeSession) error {
	return db.Create(record).Error
}

// UpdateSession applies the non-zero fields of changes to the session id.
func UpdateSession(db *gorm.DB, id string, changes ResumeSession) error {
	result := db.Model(&ResumeSession{ID: id}).Updates(changes)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// GetSession retrieves one session record
func GetSession(db *gorm.DB, id string) (*ResumeSession, error) {
	var record ResumeSession
	err := db.First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// IncrementDownloads counts one download of the final document.
func IncrementDownloads(db *gorm.DB, id string) error {
	return db.Model(&ResumeSession{ID: id}).UpdateColumn("downloads", gorm.Expr("downloads + ?", 1)).Error
}

// DeleteSessionsBefore removes session records created before cutoff.
func DeleteSessionsBefore(db *gorm.DB, cutoff time.Time) (int64, error) {
	result := db.Where("created_at < ?", cutoff).Delete(&ResumeSession{})
	return result.RowsAffected, result.Error
}

// CreditLedger keeps per-user purchase credits.
type CreditLedger struct {
	db *gorm.DB
}

// NewCreditLedger creates a ledger backed by db.
func NewCreditLedger(db *gorm.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

// AddCredits tops up the balance of userID, creating it when needed, and
// returns the new balance.
func (l *CreditLedger) AddCredits(userID string, amount int) (int, error) {
	if userID == "" {
		return 0, errors.New("user id must not be empty")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	var balance CreditBalance
	err := l.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(CreditBalance{UserID: userID}).FirstOrCreate(&balance).Error; err != nil {
			return err
		}
		if err := tx.Model(&balance).UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error; err != nil {
			return err
		}
		return tx.First(&balance, "user_id = ?", userID).Error
	})
	if err != nil {
		return 0, fmt.Errorf("error adding credits for %s: %w", userID, err)
	}
	return balance.Balance, nil
}

// Balance returns the credits of userID; unknown users have zero.
func (l *CreditLedger) Balance(userID string) (int, error) {
	var balance CreditBalance
	err := l.db.First(&balance, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance.Balance, nil
}

// DeductCredit atomically takes one credit. It returns false when the
// balance is already zero.
func (l *CreditLedger) DeductCredit(userID string) (bool, error) {
	result := l.db.Model(&CreditBalance{}).
		Where("user_id = ? AND balance > 0", userID).
		UpdateColumn("balance", gorm.Expr("balance - ?", 1))
	if result.Error != nil {
		return false, fmt.Errorf("error deducting credit for %s: %w", userID, result.Error)
	}
	return result.RowsAffected == 1, nil
}
