package models

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Page is a normalized pagination request. Numbering is zero-based.
// Listings order by creation time, newest first unless Asc is set.
type Page struct {
	Number int
	Size   int
	Asc    bool
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NormalizedPage clamps the requested page to sane bounds.
func NormalizedPage(number, size int) Page {
	if number < 0 {
		number = 0
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return Page{Number: number, Size: size}
}

// Skip returns the number of documents to skip for this page.
func (p Page) Skip() int64 {
	return int64(p.Number) * int64(p.Size)
}

// Limit returns the page size as an int64 for driver options.
func (p Page) Limit() int64 {
	return int64(p.Size)
}

// PagedTransactions is one page of ledger rows plus the total match count.
type PagedTransactions struct {
	Items []*Transaction
	Total int64
	Page  Page
}

// TotalPages derives the page count from the total and page size.
func (p *PagedTransactions) TotalPages() int64 {
	if p.Page.Size <= 0 {
		return 0
	}
	pages := p.Total / int64(p.Page.Size)
	if p.Total%int64(p.Page.Size) != 0 {
		pages++
	}
	return pages
}

// PageResponse is the API envelope for paged listings.
type PageResponse struct {
	Content       interface{} `json:"content"`
	Page          int         `json:"page"`
	Size          int         `json:"size"`
	TotalElements int64       `json:"totalElements"`
	TotalPages    int64       `json:"totalPages"`
}

// ToPageResponse converts a page of rows to the API envelope.
func (p *PagedTransactions) ToPageResponse() *PageResponse {
	content := make([]*TransactionResponse, 0, len(p.Items))
	for _, tx := range p.Items {
		content = append(content, tx.ToResponse())
	}
	return &PageResponse{
		Content:       content,
		Page:          p.Page.Number,
		Size:          p.Page.Size,
		TotalElements: p.Total,
		TotalPages:    p.TotalPages(),
	}
}

// SearchFilter narrows ledger searches. Zero values mean "no constraint".
type SearchFilter struct {
	AccountID string
	CreatedBy string
	Type      TransactionType
	Status    TransactionStatus
	Currency  string
	Reference string
	Text      string
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
	From      *time.Time
	To        *time.Time
}

// TransactionStats aggregates an account's or user's ledger activity over
// a window. Money sums cover COMPLETED and REVERSED rows only; per-type
// counts include every row regardless of outcome.
type TransactionStats struct {
	TotalCount       int64           `bson:"total_count" json:"totalCount"`
	ProcessingCount  int64           `bson:"processing_count" json:"processingCount"`
	CompletedCount   int64           `bson:"completed_count" json:"completedCount"`
	FailedCount      int64           `bson:"failed_count" json:"failedCount"`
	ReversedCount    int64           `bson:"reversed_count" json:"reversedCount"`
	DepositCount     int64           `bson:"deposit_count" json:"-"`
	WithdrawalCount  int64           `bson:"withdrawal_count" json:"-"`
	TransferCount    int64           `bson:"transfer_count" json:"-"`
	ReversalCount    int64           `bson:"reversal_count" json:"-"`
	MoneyIn          decimal.Decimal `bson:"money_in" json:"-"`
	MoneyOut         decimal.Decimal `bson:"money_out" json:"-"`
	TotalAmount      decimal.Decimal `bson:"total_amount" json:"-"`
	DepositAmount    decimal.Decimal `bson:"deposit_amount" json:"-"`
	WithdrawalAmount decimal.Decimal `bson:"withdrawal_amount" json:"-"`
	TransferAmount   decimal.Decimal `bson:"transfer_amount" json:"-"`
	LargestAmount    decimal.Decimal `bson:"largest_amount" json:"-"`
	SmallestAmount   decimal.Decimal `bson:"smallest_amount" json:"-"`
	DailyTotal       decimal.Decimal `bson:"daily_total" json:"-"`
	MonthlyTotal     decimal.Decimal `bson:"monthly_total" json:"-"`
	From             time.Time       `bson:"-" json:"-"`
	To               time.Time       `bson:"-" json:"-"`
}

// NetFlow is money in minus money out for the window.
func (s *TransactionStats) NetFlow() decimal.Decimal {
	return s.MoneyIn.Sub(s.MoneyOut)
}

// SettledCount counts transactions that completed at least once. Reversed
// rows completed before their reversal, so they count.
func (s *TransactionStats) SettledCount() int64 {
	return s.CompletedCount + s.ReversedCount
}

// AverageAmount is the mean settled amount, zero when nothing settled.
func (s *TransactionStats) AverageAmount() decimal.Decimal {
	settled := s.SettledCount()
	if settled == 0 {
		return decimal.Zero
	}
	return s.TotalAmount.DivRound(decimal.NewFromInt(settled), 2)
}

// SuccessRate is the percentage of terminal transactions that settled,
// zero when no transaction has reached a terminal state yet.
func (s *TransactionStats) SuccessRate() float64 {
	terminal := s.TotalCount - s.ProcessingCount
	if terminal <= 0 {
		return 0
	}
	rate := float64(s.SettledCount()) / float64(terminal) * 100
	return math.Round(rate*100) / 100
}

// StatsResponse is the API representation of TransactionStats.
type StatsResponse struct {
	Subject               string            `json:"subject"`
	From                  string            `json:"from"`
	To                    string            `json:"to"`
	TotalTransactions     int64             `json:"totalTransactions"`
	PendingTransactions   int64             `json:"pendingTransactions"`
	CompletedTransactions int64             `json:"completedTransactions"`
	FailedTransactions    int64             `json:"failedTransactions"`
	ReversedTransactions  int64             `json:"reversedTransactions"`
	CountByType           map[string]int64  `json:"countByType"`
	TotalAmount           string            `json:"totalAmount"`
	TotalDeposits         string            `json:"totalDeposits"`
	TotalWithdrawals      string            `json:"totalWithdrawals"`
	TotalTransfers        string            `json:"totalTransfers"`
	MoneyIn               string            `json:"moneyIn"`
	MoneyOut              string            `json:"moneyOut"`
	NetFlow               string            `json:"netFlow"`
	LargestAmount         string            `json:"largestAmount"`
	SmallestAmount        string            `json:"smallestAmount"`
	AverageAmount         string            `json:"averageAmount"`
	SuccessRate           float64           `json:"successRate"`
	DailyTotal            string            `json:"dailyTotal"`
	MonthlyTotal          string            `json:"monthlyTotal"`
}

// ToResponse converts stats to their API shape for the given subject.
func (s *TransactionStats) ToResponse(subject string) *StatsResponse {
	return &StatsResponse{
		Subject:               subject,
		From:                  s.From.UTC().Format(time.RFC3339),
		To:                    s.To.UTC().Format(time.RFC3339),
		TotalTransactions:     s.TotalCount,
		PendingTransactions:   s.ProcessingCount,
		CompletedTransactions: s.CompletedCount,
		FailedTransactions:    s.FailedCount,
		ReversedTransactions:  s.ReversedCount,
		CountByType: map[string]int64{
			string(TypeDeposit):    s.DepositCount,
			string(TypeWithdrawal): s.WithdrawalCount,
			string(TypeTransfer):   s.TransferCount,
			string(TypeReversal):   s.ReversalCount,
		},
		TotalAmount:      s.TotalAmount.StringFixed(2),
		TotalDeposits:    s.DepositAmount.StringFixed(2),
		TotalWithdrawals: s.WithdrawalAmount.StringFixed(2),
		TotalTransfers:   s.TransferAmount.StringFixed(2),
		MoneyIn:          s.MoneyIn.StringFixed(2),
		MoneyOut:         s.MoneyOut.StringFixed(2),
		NetFlow:          s.NetFlow().StringFixed(2),
		LargestAmount:    s.LargestAmount.StringFixed(2),
		SmallestAmount:   s.SmallestAmount.StringFixed(2),
		AverageAmount:    s.AverageAmount().StringFixed(2),
		SuccessRate:      s.SuccessRate(),
		DailyTotal:       s.DailyTotal.StringFixed(2),
		MonthlyTotal:     s.MonthlyTotal.StringFixed(2),
	}
}
