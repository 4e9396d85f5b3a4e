// Package sequence issues globally unique, human-readable identifiers:
// order/invoice/ticket numbers backed by a counters table, and random codes
// for coupons and gift cards.
package sequence

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/vyomcloud/vyom/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CounterOrder   = "order_number"
	CounterInvoice = "invoice_number"
	CounterTicket  = "ticket_number"
)

// maxNextAttempts bounds the optimistic-update retry loop under contention.
const maxNextAttempts = 10

var (
	ErrSequenceContended = errors.New("sequence_contended")
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("sequence.service"),
		clock: p.Clock,
	}
}

// Next increments the named counter and returns the new value. The increment
// is a conditional update gated on the last-read value, so two concurrent
// callers can never receive the same number.
func (s *Service) Next(ctx context.Context, name string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, errors.New("sequence_name_required")
	}

	for attempt := 0; attempt < maxNextAttempts; attempt++ {
		var current struct {
			Value int64 `gorm:"column:value"`
			Found int64 `gorm:"column:found"`
		}
		if err := s.db.WithContext(ctx).Raw(
			`SELECT value, 1 AS found FROM sequence_counters WHERE name = ?`,
			name,
		).Scan(&current).Error; err != nil {
			return 0, err
		}

		if current.Found == 0 {
			if err := s.db.WithContext(ctx).Exec(
				`INSERT INTO sequence_counters (name, value) VALUES (?, 0)
				 ON CONFLICT (name) DO NOTHING`,
				name,
			).Error; err != nil {
				return 0, err
			}
			continue
		}

		res := s.db.WithContext(ctx).Exec(
			`UPDATE sequence_counters SET value = ? WHERE name = ? AND value = ?`,
			current.Value+1,
			name,
			current.Value,
		)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return current.Value + 1, nil
		}
		// lost the race, re-read and try again
	}

	s.log.Warn("sequence counter contended", zap.String("name", name))
	return 0, ErrSequenceContended
}

// OrderNumber returns the next order number, e.g. ORD-202608-000041.
func (s *Service) OrderNumber(ctx context.Context) (string, error) {
	n, err := s.Next(ctx, CounterOrder)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%s-%06d", s.clock.Now().Format("200601"), n), nil
}

// InvoiceNumber returns the next invoice number, e.g. INV-202608-000041.
func (s *Service) InvoiceNumber(ctx context.Context) (string, error) {
	n, err := s.Next(ctx, CounterInvoice)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%s-%06d", s.clock.Now().Format("200601"), n), nil
}

// TicketNumber returns the next support ticket number, e.g. TKT-000041.
func (s *Service) TicketNumber(ctx context.Context) (string, error) {
	n, err := s.Next(ctx, CounterTicket)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("TKT-%06d", n), nil
}

// codeAlphabet omits ambiguous characters (0/O, 1/I).
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Code returns a random code like GC-7KQ2-M9XD. Uniqueness is enforced by the
// unique index on the consuming table; callers retry on duplicate.
func Code(prefix string, groups, groupLen int) (string, error) {
	if groups <= 0 || groupLen <= 0 {
		return "", errors.New("invalid_code_shape")
	}

	buf := make([]byte, groups*groupLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	var b strings.Builder
	if prefix != "" {
		b.WriteString(prefix)
	}
	for i, c := range buf {
		if i%groupLen == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(codeAlphabet[int(c)%len(codeAlphabet)])
	}
	return strings.TrimPrefix(b.String(), "-"), nil
}
