package accounting

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryClient is an in-memory accounting service used by demo mode and
// tests. IDs and doc numbers are assigned sequentially.
type MemoryClient struct {
	mu        sync.Mutex
	customers []Customer
	invoices  []Invoice
	estimates []Estimate
	nextID    int

	failNext  error
	callCount int
}

var _ Client = (*MemoryClient)(nil)

// NewMemoryClient creates an empty in-memory accounting service.
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{nextID: 1}
}

// FailNext makes the next client call return err.
func (m *MemoryClient) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// CallCount returns the number of calls made so far.
func (m *MemoryClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *MemoryClient) begin() error {
	m.callCount++
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *MemoryClient) allocID(prefix string) string {
	id := fmt.Sprintf("%s-%d", prefix, m.nextID)
	m.nextID++
	return id
}

func (m *MemoryClient) ListCustomers(ctx context.Context) ([]Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	return append([]Customer(nil), m.customers...), nil
}

func (m *MemoryClient) FindCustomerByName(ctx context.Context, displayName string) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.customers {
		if strings.EqualFold(m.customers[i].DisplayName, displayName) {
			c := m.customers[i]
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) CreateCustomer(ctx context.Context, c Customer) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	c.ID = m.allocID("cust")
	m.customers = append(m.customers, c)
	return &c, nil
}

func (m *MemoryClient) UpdateCustomer(ctx context.Context, c Customer) (*Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.customers {
		if m.customers[i].ID == c.ID {
			m.customers[i] = c
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryClient) ListInvoices(ctx context.Context) ([]Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	return append([]Invoice(nil), m.invoices...), nil
}

func (m *MemoryClient) FindInvoiceByDocNumber(ctx context.Context, docNumber string) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.invoices {
		if m.invoices[i].DocNumber == docNumber {
			inv := m.invoices[i]
			return &inv, nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) CreateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	inv.ID = m.allocID("inv")
	if inv.DocNumber == "" {
		inv.DocNumber = fmt.Sprintf("INV-%04d", len(m.invoices)+1)
	}
	if inv.Status == "" {
		inv.Status = "open"
	}
	m.invoices = append(m.invoices, inv)
	return &inv, nil
}

func (m *MemoryClient) UpdateInvoice(ctx context.Context, inv Invoice) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.invoices {
		if m.invoices[i].ID == inv.ID {
			m.invoices[i] = inv
			return &inv, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryClient) ListEstimates(ctx context.Context) ([]Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	return append([]Estimate(nil), m.estimates...), nil
}

func (m *MemoryClient) FindEstimateByDocNumber(ctx context.Context, docNumber string) (*Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.estimates {
		if m.estimates[i].DocNumber == docNumber {
			est := m.estimates[i]
			return &est, nil
		}
	}
	return nil, nil
}

func (m *MemoryClient) CreateEstimate(ctx context.Context, est Estimate) (*Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	est.ID = m.allocID("est")
	if est.DocNumber == "" {
		est.DocNumber = fmt.Sprintf("EST-%04d", len(m.estimates)+1)
	}
	m.estimates = append(m.estimates, est)
	return &est, nil
}

func (m *MemoryClient) UpdateEstimate(ctx context.Context, est Estimate) (*Estimate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(); err != nil {
		return nil, err
	}
	for i := range m.estimates {
		if m.estimates[i].ID == est.ID {
			m.estimates[i] = est
			return &est, nil
		}
	}
	return nil, ErrNotFound
}
