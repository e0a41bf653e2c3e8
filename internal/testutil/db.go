// Package testutil holds fixtures shared by repository and usecase tests.
package testutil

import (
	"testing"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	"inboxjanitor/pkg/database"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// NewDB returns a migrated in-memory SQLite database
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, nil))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// SeedAccount inserts a user with one Gmail account and returns both
func SeedAccount(t *testing.T, db *gorm.DB) (*authdomain.User, *authdomain.MailboxAccount) {
	t.Helper()

	now := time.Now().UTC()
	user := &authdomain.User{
		ID:        uuid.New().String(),
		Email:     "owner-" + uuid.New().String()[:8] + "@example.com",
		Name:      "Owner",
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, db.Create(user).Error)

	account := &authdomain.MailboxAccount{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Provider:     authdomain.ProviderGmail,
		EmailAddress: user.Email,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, db.Create(account).Error)
	return user, account
}
