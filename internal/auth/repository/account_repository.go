package repository

import (
	"errors"
	"time"

	authdomain "inboxjanitor/internal/auth/domain"
	emaildomain "inboxjanitor/internal/email/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// mailboxAccountRepository implements MailboxAccountRepository interface
type mailboxAccountRepository struct {
	db *gorm.DB
}

// NewMailboxAccountRepository creates a new instance of mailboxAccountRepository
func NewMailboxAccountRepository(db *gorm.DB) MailboxAccountRepository {
	return &mailboxAccountRepository{
		db: db,
	}
}

func (r *mailboxAccountRepository) Create(account *authdomain.MailboxAccount) error {
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	if account.AutoIncludeSenders == nil {
		account.AutoIncludeSenders = emaildomain.StringArray{}
	}
	return r.db.Create(account).Error
}

func (r *mailboxAccountRepository) FindByID(id string) (*authdomain.MailboxAccount, error) {
	var account authdomain.MailboxAccount
	err := r.db.Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *mailboxAccountRepository) FindByIDForUser(userID, id string) (*authdomain.MailboxAccount, error) {
	var account authdomain.MailboxAccount
	err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *mailboxAccountRepository) FindByUserID(userID string) ([]*authdomain.MailboxAccount, error) {
	var accounts []*authdomain.MailboxAccount
	err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *mailboxAccountRepository) FindByEmailAddress(email string, provider authdomain.Provider) ([]*authdomain.MailboxAccount, error) {
	var accounts []*authdomain.MailboxAccount
	err := r.db.Where("LOWER(email_address) = LOWER(?) AND provider = ?", email, provider).Find(&accounts).Error
	if err != nil {
		return nil, err
	}
	return accounts, nil
}

func (r *mailboxAccountRepository) UpdateTokens(id, accessTokenEnc, refreshTokenEnc string) error {
	updates := map[string]interface{}{
		"access_token_enc": accessTokenEnc,
		"updated_at":       time.Now().UTC(),
	}
	// Google only returns a refresh token on the first exchange
	if refreshTokenEnc != "" {
		updates["refresh_token_enc"] = refreshTokenEnc
	}
	return r.db.Model(&authdomain.MailboxAccount{}).Where("id = ?", id).Updates(updates).Error
}

func (r *mailboxAccountRepository) UpdateAutoIncludeSenders(id string, senders []string) error {
	return r.db.Model(&authdomain.MailboxAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"auto_include_senders": emaildomain.StringArray(senders),
		"updated_at":           time.Now().UTC(),
	}).Error
}

func (r *mailboxAccountRepository) Delete(userID, id string) error {
	return r.db.Where("id = ? AND user_id = ?", id, userID).Delete(&authdomain.MailboxAccount{}).Error
}
