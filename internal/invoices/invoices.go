// Package invoices manages the marketplace listings buyers purchase
// through a compliance gate.
package invoices

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/silkroad/internal/pagination"
	"github.com/mbd888/silkroad/internal/pricing"
)

var (
	ErrNotFound      = errors.New("invoices: invoice not found")
	ErrAlreadySold   = errors.New("invoices: invoice already sold")
	ErrInvalidAmount = errors.New("invoices: amount must be a positive number")
	ErrInvalidWallet = errors.New("invoices: supplier must be a valid Solana address")
	ErrInvalidLabel  = errors.New("invoices: not a listing label")
)

// LabelPrefix marks a listing label.
const LabelPrefix = "SR::"

// DefaultLabelScore is written into a label when the score is unknown.
const DefaultLabelScore = 50

// DefaultBorrower names a listing created without a borrower.
const DefaultBorrower = "Anonymous"

// ExplorerBase is the transaction explorer used for explorer links.
const ExplorerBase = "https://explorer.solana.com/tx/"

// Invoice is a financed receivable offered for sale.
type Invoice struct {
	ID           string           `json:"id"`
	Borrower     string           `json:"borrower"`
	Amount       decimal.Decimal  `json:"amount"`
	RiskScore    *int             `json:"riskScore,omitempty"`
	Rate         *pricing.Rate    `json:"rate,omitempty"`
	Supplier     string           `json:"supplier"`
	IPFSCid      string           `json:"ipfsCid,omitempty"`
	PrivacyHash  string           `json:"privacyHash"`
	ZKCompressed bool             `json:"zkCompressed"`
	Signature    string           `json:"signature,omitempty"`
	ExplorerURL  string           `json:"explorerUrl,omitempty"`
	Sold         bool             `json:"sold"`
	Buyer        string           `json:"buyer,omitempty"`
	SalePrice    *decimal.Decimal `json:"salePrice,omitempty"`
	MintedAt     time.Time        `json:"mintedAt"`
	SoldAt       *time.Time       `json:"soldAt,omitempty"`
}

// ListingLabel encodes the invoice as SR::<borrower>::<amount>::<score>.
func (inv *Invoice) ListingLabel() string {
	score := DefaultLabelScore
	if inv.RiskScore != nil {
		score = *inv.RiskScore
	}
	return fmt.Sprintf("%s%s::%s::%d", LabelPrefix, inv.Borrower, inv.Amount.String(), score)
}

// Label is a decoded listing label. Score is nil when the label has none.
type Label struct {
	Borrower string
	Price    string
	Score    *int
}

// ParseListingLabel decodes a listing label. A label needs at least a
// borrower and a price; a non-numeric score is ignored.
func ParseListingLabel(raw string) (Label, error) {
	if !strings.HasPrefix(raw, LabelPrefix) {
		return Label{}, ErrInvalidLabel
	}
	parts := strings.Split(raw, "::")
	if len(parts) < 3 {
		return Label{}, ErrInvalidLabel
	}
	l := Label{Borrower: parts[1], Price: parts[2]}
	if len(parts) >= 4 {
		if n, err := strconv.Atoi(parts[3]); err == nil {
			l.Score = &n
		}
	}
	return l, nil
}

// CreateRequest is the input for listing an invoice.
type CreateRequest struct {
	Borrower  string `json:"borrower"`
	Amount    string `json:"amount" binding:"required"`
	RiskScore *int   `json:"riskScore"`
	Supplier  string `json:"supplier" binding:"required"`
	IPFSCid   string `json:"ipfsCid"`
	Signature string `json:"signature"` // mint transaction, when minted on chain
}

// ListFilter narrows List.
type ListFilter struct {
	Limit       int
	IncludeSold bool
	After       *pagination.Cursor // resume below this (mintedAt, id)
}

// Store persists invoices.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	List(ctx context.Context, filter ListFilter) ([]*Invoice, error)
	// MarkSold sets the sale fields atomically and returns ErrAlreadySold
	// if the invoice was sold first.
	MarkSold(ctx context.Context, id, buyer string, price decimal.Decimal, at time.Time) (*Invoice, error)
}
