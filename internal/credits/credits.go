// Package credits implements the per-user credit ledger. Balances move in
// lock-step with queue transitions; all mutations are single guarded
// UPDATEs so concurrent callers cannot double-spend.
package credits

import (
	"errors"
	"fmt"

	"github.com/tverberg/pitlane/internal/models"
	"gorm.io/gorm"
)

// SessionFee is the flat per-turn price in credits. Billing is never
// derived from actual drive time.
const SessionFee = 100

// ErrInsufficientCredits is returned by Debit when the balance cannot
// cover the amount.
var ErrInsufficientCredits = errors.New("credits: insufficient balance")

// Balance returns the user's current balance. A user with no account row
// has a balance of zero.
func Balance(db *gorm.DB, userID string) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("credits: userID is required")
	}
	var acct models.CreditAccount
	if err := db.Where("user_id = ?", userID).First(&acct).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("credits: balance %s: %w", userID, err)
	}
	return acct.Balance, nil
}

// Debit atomically subtracts amount from the user's balance and returns the
// new balance. The decrement is guarded so the balance never goes negative.
func Debit(db *gorm.DB, userID string, amount int) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("credits: userID is required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credits: debit amount must be positive, got %d", amount)
	}

	result := db.Model(&models.CreditAccount{}).
		Where("user_id = ? AND balance >= ?", userID, amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if result.Error != nil {
		return 0, fmt.Errorf("credits: debit %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return 0, ErrInsufficientCredits
	}
	return Balance(db, userID)
}

// Credit atomically adds amount to the user's balance, creating the account
// row if needed, and returns the new balance.
func Credit(db *gorm.DB, userID string, amount int) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("credits: userID is required")
	}
	if amount <= 0 {
		return 0, fmt.Errorf("credits: credit amount must be positive, got %d", amount)
	}

	result := db.Model(&models.CreditAccount{}).
		Where("user_id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return 0, fmt.Errorf("credits: credit %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		acct := models.CreditAccount{UserID: userID, Balance: amount}
		if err := db.Create(&acct).Error; err != nil {
			return 0, fmt.Errorf("credits: create account %s: %w", userID, err)
		}
		return acct.Balance, nil
	}
	return Balance(db, userID)
}
