// Package domain contains the wallet ledger and gift card models.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// TransactionType is the ledger entry direction.
type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
)

// TransactionSource identifies what produced a ledger entry.
type TransactionSource string

const (
	SourceGiftCard        TransactionSource = "gift_card"
	SourceGatewayTopup    TransactionSource = "gateway_topup"
	SourceAdminAdjustment TransactionSource = "admin_adjustment"
	SourceOrderPayment    TransactionSource = "order_payment"
)

// Wallet is the per-customer prepaid balance, one row per customer.
type Wallet struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	CustomerID snowflake.ID `gorm:"not null;uniqueIndex:ux_wallets_customer"`
	Balance    int64        `gorm:"not null;default:0"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// WalletTransaction is an append-only ledger entry. BalanceAfter snapshots the
// wallet balance the moment the entry was written; replaying all entries must
// reproduce it.
type WalletTransaction struct {
	ID           snowflake.ID      `gorm:"primaryKey"`
	WalletID     snowflake.ID      `gorm:"not null;index"`
	Type         TransactionType   `gorm:"type:text;not null"`
	Source       TransactionSource `gorm:"type:text;not null"`
	Amount       int64             `gorm:"not null"`
	BalanceAfter int64             `gorm:"not null"`
	ReferenceID  *snowflake.ID     `gorm:""`
	CreatedAt    time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WalletTransaction) TableName() string { return "wallet_transactions" }

// GiftCardStatus is the gift card lifecycle state.
type GiftCardStatus string

const (
	GiftCardActive   GiftCardStatus = "active"
	GiftCardRedeemed GiftCardStatus = "redeemed"
	GiftCardExpired  GiftCardStatus = "expired"
	GiftCardDisabled GiftCardStatus = "disabled"
)

// GiftCard is a single-use stored-value instrument.
type GiftCard struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	Code           string         `gorm:"type:text;not null;uniqueIndex:ux_gift_cards_code"`
	InitialBalance int64          `gorm:"not null"`
	CurrentBalance int64          `gorm:"not null"`
	Status         GiftCardStatus `gorm:"type:text;not null;default:'active'"`
	RedeemedBy     *snowflake.ID  `gorm:""`
	RedeemedAt     *time.Time     `gorm:""`
	ExpiresAt      *time.Time     `gorm:""`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GiftCard) TableName() string { return "gift_cards" }

type Service interface {
	// Credit and Debit append a ledger entry and move the wallet balance in one
	// unit of work. When tx is non-nil they join the caller's transaction.
	Credit(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount int64, source TransactionSource, referenceID *snowflake.ID) (WalletTransaction, error)
	Debit(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount int64, source TransactionSource, referenceID *snowflake.ID) (WalletTransaction, error)
	Balance(ctx context.Context, customerID snowflake.ID) (int64, error)
	RedeemGiftCard(ctx context.Context, customerID snowflake.ID, code string) (WalletTransaction, error)
	IssueGiftCard(ctx context.Context, amount int64, expiresAt *time.Time) (GiftCard, error)
	// Replay re-derives every balance_after from the transaction log and
	// verifies the wallet balance. A mismatch is an invariant violation.
	Replay(ctx context.Context, walletID snowflake.ID) error
}

var (
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrWalletNotFound      = errors.New("wallet_not_found")
	ErrWalletContended     = errors.New("wallet_contended")
	ErrInvalidGiftCard     = errors.New("invalid_gift_card")
	ErrGiftCardRedeemed    = errors.New("gift_card_already_redeemed")
	ErrLedgerMismatch      = errors.New("ledger_replay_mismatch")
)
