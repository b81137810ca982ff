// Package accounting provides the client for the external accounting
// service: an OAuth2 bearer-token REST interface exposing customer, invoice,
// and estimate resources.
package accounting

import (
	"context"

	"github.com/pkg/errors"
)

// Customer is an accounting customer. DisplayName is the natural key used
// to detect duplicate create attempts.
type Customer struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Invoice is an accounting invoice. DocNumber is the natural key.
type Invoice struct {
	ID           string `json:"id,omitempty"`
	DocNumber    string `json:"doc_number"`
	CustomerID   string `json:"customer_id"`
	CustomerName string `json:"customer_name,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	DueDate      string `json:"due_date,omitempty"` // YYYY-MM-DD
	Memo         string `json:"memo,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Estimate is an accounting estimate. DocNumber is the natural key.
type Estimate struct {
	ID          string `json:"id,omitempty"`
	DocNumber   string `json:"doc_number"`
	CustomerID  string `json:"customer_id"`
	AmountCents int64  `json:"amount_cents"`
	ExpiryDate  string `json:"expiry_date,omitempty"`
	Memo        string `json:"memo,omitempty"`
}

// Errors surfaced by accounting implementations.
var (
	// ErrAuthExpired means the access token was rejected. The HTTP client
	// refreshes and retries once before converting this to ErrUnavailable.
	ErrAuthExpired = errors.New("accounting credential expired")
	// ErrUnavailable means the service was unreachable or timed out.
	ErrUnavailable = errors.New("accounting service unavailable")
	// ErrNotFound means the addressed resource does not exist.
	ErrNotFound = errors.New("accounting resource not found")
	// ErrConflict means a write collided with an existing record.
	ErrConflict = errors.New("accounting resource conflict")
)

// Client is the consumed interface of the accounting service.
type Client interface {
	ListCustomers(ctx context.Context) ([]Customer, error)
	// FindCustomerByName returns nil without error when no customer matches.
	FindCustomerByName(ctx context.Context, displayName string) (*Customer, error)
	CreateCustomer(ctx context.Context, c Customer) (*Customer, error)
	UpdateCustomer(ctx context.Context, c Customer) (*Customer, error)

	ListInvoices(ctx context.Context) ([]Invoice, error)
	// FindInvoiceByDocNumber returns nil without error when absent.
	FindInvoiceByDocNumber(ctx context.Context, docNumber string) (*Invoice, error)
	CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error)
	UpdateInvoice(ctx context.Context, inv Invoice) (*Invoice, error)

	ListEstimates(ctx context.Context) ([]Estimate, error)
	FindEstimateByDocNumber(ctx context.Context, docNumber string) (*Estimate, error)
	CreateEstimate(ctx context.Context, est Estimate) (*Estimate, error)
	UpdateEstimate(ctx context.Context, est Estimate) (*Estimate, error)
}
