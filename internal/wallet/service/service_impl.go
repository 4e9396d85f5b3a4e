package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/vyomcloud/vyom/internal/audit/domain"
	"github.com/vyomcloud/vyom/internal/clock"
	obsmetrics "github.com/vyomcloud/vyom/internal/observability/metrics"
	"github.com/vyomcloud/vyom/internal/sequence"
	walletdomain "github.com/vyomcloud/vyom/internal/wallet/domain"
	"github.com/vyomcloud/vyom/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxBalanceAttempts bounds the conditional-update retry loop on the wallet row.
const maxBalanceAttempts = 10

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	AuditSvc   auditdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) walletdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("wallet.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) Credit(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount int64, source walletdomain.TransactionSource, referenceID *snowflake.ID) (walletdomain.WalletTransaction, error) {
	return s.move(ctx, tx, customerID, amount, walletdomain.TransactionCredit, source, referenceID)
}

func (s *Service) Debit(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount int64, source walletdomain.TransactionSource, referenceID *snowflake.ID) (walletdomain.WalletTransaction, error) {
	return s.move(ctx, tx, customerID, amount, walletdomain.TransactionDebit, source, referenceID)
}

// move appends one ledger entry. balance_after is always computed from the
// balance read inside this unit of work, guarded by a conditional update, so
// a racing writer forces a re-read instead of a stale snapshot.
func (s *Service) move(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, amount int64, txType walletdomain.TransactionType, source walletdomain.TransactionSource, referenceID *snowflake.ID) (walletdomain.WalletTransaction, error) {
	if amount <= 0 {
		return walletdomain.WalletTransaction{}, walletdomain.ErrInvalidAmount
	}
	if tx == nil {
		tx = s.db
	}

	wallet, err := s.ensureWallet(ctx, tx, customerID)
	if err != nil {
		return walletdomain.WalletTransaction{}, err
	}

	now := s.clock.Now()
	for attempt := 0; attempt < maxBalanceAttempts; attempt++ {
		newBalance := wallet.Balance + amount
		if txType == walletdomain.TransactionDebit {
			newBalance = wallet.Balance - amount
			if newBalance < 0 {
				return walletdomain.WalletTransaction{}, walletdomain.ErrInsufficientBalance
			}
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ? AND balance = ?`,
			newBalance,
			now,
			wallet.ID,
			wallet.Balance,
		)
		if res.Error != nil {
			return walletdomain.WalletTransaction{}, res.Error
		}
		if res.RowsAffected == 0 {
			// lost the race, re-read the balance
			if err := tx.WithContext(ctx).Raw(
				`SELECT balance FROM wallets WHERE id = ?`,
				wallet.ID,
			).Scan(&wallet.Balance).Error; err != nil {
				return walletdomain.WalletTransaction{}, err
			}
			continue
		}

		entry := walletdomain.WalletTransaction{
			ID:           s.genID.Generate(),
			WalletID:     wallet.ID,
			Type:         txType,
			Source:       source,
			Amount:       amount,
			BalanceAfter: newBalance,
			ReferenceID:  referenceID,
			CreatedAt:    now,
		}
		if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
			return walletdomain.WalletTransaction{}, err
		}

		if s.obsMetrics != nil {
			s.obsMetrics.RecordWalletTransaction(string(txType), string(source))
		}
		return entry, nil
	}

	s.log.Warn("wallet balance contended",
		zap.String("customer_id", customerID.String()),
		zap.String("type", string(txType)))
	return walletdomain.WalletTransaction{}, walletdomain.ErrWalletContended
}

func (s *Service) ensureWallet(ctx context.Context, tx *gorm.DB, customerID snowflake.ID) (walletdomain.Wallet, error) {
	if customerID == 0 {
		return walletdomain.Wallet{}, walletdomain.ErrWalletNotFound
	}

	now := s.clock.Now()
	if err := tx.WithContext(ctx).Exec(
		`INSERT INTO wallets (id, customer_id, balance, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)
		 ON CONFLICT (customer_id) DO NOTHING`,
		s.genID.Generate(),
		customerID,
		now,
		now,
	).Error; err != nil {
		return walletdomain.Wallet{}, err
	}

	var wallet walletdomain.Wallet
	if err := tx.WithContext(ctx).First(&wallet, "customer_id = ?", customerID).Error; err != nil {
		return walletdomain.Wallet{}, err
	}
	return wallet, nil
}

func (s *Service) Balance(ctx context.Context, customerID snowflake.ID) (int64, error) {
	var wallet walletdomain.Wallet
	err := s.db.WithContext(ctx).First(&wallet, "customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return wallet.Balance, nil
}

// RedeemGiftCard credits the card's balance into the customer's wallet. The
// status flip is the last write and is gated on status still being active, so
// a racer that already redeemed the code fails the whole transaction instead
// of double-crediting.
func (s *Service) RedeemGiftCard(ctx context.Context, customerID snowflake.ID, code string) (walletdomain.WalletTransaction, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || customerID == 0 {
		return walletdomain.WalletTransaction{}, walletdomain.ErrInvalidGiftCard
	}

	var entry walletdomain.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var card walletdomain.GiftCard
		err := tx.WithContext(ctx).First(&card, "code = ?", code).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return walletdomain.ErrInvalidGiftCard
		}
		if err != nil {
			return err
		}

		now := s.clock.Now()
		switch card.Status {
		case walletdomain.GiftCardActive:
		case walletdomain.GiftCardRedeemed:
			return walletdomain.ErrGiftCardRedeemed
		default:
			return walletdomain.ErrInvalidGiftCard
		}
		if card.ExpiresAt != nil && now.After(*card.ExpiresAt) {
			return walletdomain.ErrInvalidGiftCard
		}

		entry, err = s.Credit(ctx, tx, customerID, card.CurrentBalance, walletdomain.SourceGiftCard, &card.ID)
		if err != nil {
			return err
		}

		res := tx.WithContext(ctx).Exec(
			`UPDATE gift_cards
			 SET status = ?, current_balance = 0, redeemed_by = ?, redeemed_at = ?, updated_at = ?
			 WHERE id = ? AND status = ?`,
			walletdomain.GiftCardRedeemed,
			customerID,
			now,
			now,
			card.ID,
			walletdomain.GiftCardActive,
		)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return walletdomain.ErrGiftCardRedeemed
		}

		customer := customerID.String()
		_ = s.auditSvc.AuditLog(ctx, auditdomain.ActorTypeCustomer, &customer, "wallet.gift_card_redeemed", "gift_card", strPtr(card.ID.String()), map[string]any{
			"amount":        card.CurrentBalance,
			"balance_after": entry.BalanceAfter,
		})
		return nil
	})
	if err != nil {
		return walletdomain.WalletTransaction{}, err
	}
	return entry, nil
}

// giftCardIssueAttempts bounds retries on a random code collision.
const giftCardIssueAttempts = 5

func (s *Service) IssueGiftCard(ctx context.Context, amount int64, expiresAt *time.Time) (walletdomain.GiftCard, error) {
	if amount <= 0 {
		return walletdomain.GiftCard{}, walletdomain.ErrInvalidAmount
	}

	now := s.clock.Now()
	for attempt := 0; attempt < giftCardIssueAttempts; attempt++ {
		code, err := sequence.Code("GC", 2, 4)
		if err != nil {
			return walletdomain.GiftCard{}, err
		}
		card := walletdomain.GiftCard{
			ID:             s.genID.Generate(),
			Code:           code,
			InitialBalance: amount,
			CurrentBalance: amount,
			Status:         walletdomain.GiftCardActive,
			ExpiresAt:      expiresAt,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.db.WithContext(ctx).Create(&card).Error; err != nil {
			if db.IsDuplicateKeyErr(err) {
				continue
			}
			return walletdomain.GiftCard{}, err
		}
		return card, nil
	}
	return walletdomain.GiftCard{}, errors.New("gift_card_code_collision")
}

// Replay re-sums the wallet's transactions in creation order and checks every
// balance_after plus the materialized balance. Mismatches are surfaced, never
// repaired.
func (s *Service) Replay(ctx context.Context, walletID snowflake.ID) error {
	var wallet walletdomain.Wallet
	err := s.db.WithContext(ctx).First(&wallet, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return walletdomain.ErrWalletNotFound
	}
	if err != nil {
		return err
	}

	var entries []walletdomain.WalletTransaction
	if err := s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return err
	}

	var running int64
	for _, entry := range entries {
		switch entry.Type {
		case walletdomain.TransactionCredit:
			running += entry.Amount
		case walletdomain.TransactionDebit:
			running -= entry.Amount
		default:
			s.log.Error("unknown wallet transaction type",
				zap.String("wallet_id", walletID.String()),
				zap.String("transaction_id", entry.ID.String()),
				zap.String("type", string(entry.Type)))
			return walletdomain.ErrLedgerMismatch
		}
		if running != entry.BalanceAfter {
			s.log.Error("ledger replay mismatch",
				zap.String("wallet_id", walletID.String()),
				zap.String("transaction_id", entry.ID.String()),
				zap.Int64("expected", entry.BalanceAfter),
				zap.Int64("replayed", running))
			return walletdomain.ErrLedgerMismatch
		}
	}

	if running != wallet.Balance {
		s.log.Error("ledger replay does not match wallet balance",
			zap.String("wallet_id", walletID.String()),
			zap.Int64("balance", wallet.Balance),
			zap.Int64("replayed", running))
		return walletdomain.ErrLedgerMismatch
	}
	return nil
}

func strPtr(s string) *string { return &s }
