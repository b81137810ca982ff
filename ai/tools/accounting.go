package tools

import (
	"context"
	"fmt"
	"math"

	"github.com/hrygo/ledgerdesk/accounting"
	"github.com/hrygo/ledgerdesk/ai/cache"
)

// Cache tags for accounting resources.
const (
	TagCustomers = "accounting:customers"
	TagInvoices  = "accounting:invoices"
	TagEstimates = "accounting:estimates"
)

// RegisterAccountingTools wires the accounting read and write handlers.
func RegisterAccountingTools(r *Registry, ac accounting.Client) {
	r.MustRegister(&Descriptor{
		Name:        "list_customers",
		Description: "List customers from the accounting service.",
		Parameters:  ObjectSchema(nil),
		Tags:        []string{TagCustomers},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return cachedList(ctx, r, "customers", TagCustomers, func(ctx context.Context) (any, error) {
				return ac.ListCustomers(ctx)
			})
		},
	})

	r.MustRegister(&Descriptor{
		Name:        "list_invoices",
		Description: "List invoices from the accounting service.",
		Parameters:  ObjectSchema(nil),
		Tags:        []string{TagInvoices},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return cachedList(ctx, r, "invoices", TagInvoices, func(ctx context.Context) (any, error) {
				return ac.ListInvoices(ctx)
			})
		},
	})

	r.MustRegister(&Descriptor{
		Name:        "list_estimates",
		Description: "List estimates from the accounting service.",
		Parameters:  ObjectSchema(nil),
		Tags:        []string{TagEstimates},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			return cachedList(ctx, r, "estimates", TagEstimates, func(ctx context.Context) (any, error) {
				return ac.ListEstimates(ctx)
			})
		},
	})

	r.MustRegister(&Descriptor{
		Name:        "create_customer",
		Description: "Create an accounting customer, or update the existing one with the same display name.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"display_name": {Type: "string", Description: "Customer display name; also the duplicate-detection key."},
			"email":        {Type: "string"},
			"phone":        {Type: "string"},
		}, "display_name"),
		Write:   true,
		Tags:    []string{TagCustomers},
		Handler: createCustomerHandler(ac),
	})

	r.MustRegister(&Descriptor{
		Name:        "create_invoice",
		Description: "Create an invoice for a customer identified by name. Repeating the call with the same details updates the existing invoice instead of duplicating it.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"customer_name": {Type: "string", Description: "Customer display name; created if not present."},
			"amount":        {Type: "number", Description: "Invoice total in dollars."},
			"due_date":      {Type: "string", Description: "Due date as YYYY-MM-DD."},
			"memo":          {Type: "string"},
			"doc_number":    {Type: "string", Description: "Invoice reference; when given it is the duplicate-detection key."},
		}, "customer_name", "amount"),
		Write:   true,
		Tags:    []string{TagInvoices, TagCustomers},
		Handler: createInvoiceHandler(ac),
	})

	r.MustRegister(&Descriptor{
		Name:        "create_estimate",
		Description: "Create an estimate for a customer identified by name. Repeating the call with the same reference updates the existing estimate.",
		Parameters: ObjectSchema(map[string]*JSONSchema{
			"customer_name": {Type: "string", Description: "Customer display name; created if not present."},
			"amount":        {Type: "number", Description: "Estimate total in dollars."},
			"expiry_date":   {Type: "string", Description: "Expiry date as YYYY-MM-DD."},
			"memo":          {Type: "string"},
			"doc_number":    {Type: "string", Description: "Estimate reference; when given it is the duplicate-detection key."},
		}, "customer_name", "amount"),
		Write:   true,
		Tags:    []string{TagEstimates, TagCustomers},
		Handler: createEstimateHandler(ac),
	})
}

func cachedList(ctx context.Context, r *Registry, resource, tag string, load cache.Loader) (any, error) {
	key := cache.Key{Service: "accounting", Resource: resource}
	v, _, err := r.Cache().GetOrLoad(ctx, key, []string{tag}, load)
	return v, err
}

func createCustomerHandler(ac accounting.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		cust := accounting.Customer{
			DisplayName: stringArg(args, "display_name"),
			Email:       stringArg(args, "email"),
			Phone:       stringArg(args, "phone"),
		}
		created, out, err := ensureCustomer(ctx, ac, cust)
		if err != nil {
			return nil, err
		}
		return map[string]any{"customer": out, "created": created}, nil
	}
}

// ensureCustomer resolves a customer by display name, updating the existing
// record or creating a new one. The display name is the natural key.
func ensureCustomer(ctx context.Context, ac accounting.Client, cust accounting.Customer) (bool, *accounting.Customer, error) {
	existing, err := ac.FindCustomerByName(ctx, cust.DisplayName)
	if err != nil {
		return false, nil, err
	}
	if existing != nil {
		merged := *existing
		if cust.Email != "" {
			merged.Email = cust.Email
		}
		if cust.Phone != "" {
			merged.Phone = cust.Phone
		}
		out, err := ac.UpdateCustomer(ctx, merged)
		if err != nil {
			return false, nil, err
		}
		return false, out, nil
	}
	out, err := ac.CreateCustomer(ctx, cust)
	if err != nil {
		return false, nil, err
	}
	return true, out, nil
}

func createInvoiceHandler(ac accounting.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		amount, ok := numberArg(args, "amount")
		if !ok || amount <= 0 {
			return nil, &ValidationError{Tool: "create_invoice", Reason: "amount must be a positive number"}
		}

		_, cust, err := ensureCustomer(ctx, ac, accounting.Customer{
			DisplayName: stringArg(args, "customer_name"),
		})
		if err != nil {
			return nil, err
		}

		inv := accounting.Invoice{
			DocNumber:    stringArg(args, "doc_number"),
			CustomerID:   cust.ID,
			CustomerName: cust.DisplayName,
			AmountCents:  dollarsToCents(amount),
			DueDate:      stringArg(args, "due_date"),
			Memo:         stringArg(args, "memo"),
		}

		// Duplicate detection by natural key: the doc number when given,
		// otherwise an open invoice with the same customer, amount, and due
		// date. A repeat updates the existing record, never duplicates.
		existing, err := findExistingInvoice(ctx, ac, inv)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			inv.ID = existing.ID
			if inv.DocNumber == "" {
				inv.DocNumber = existing.DocNumber
			}
			inv.Status = existing.Status
			out, err := ac.UpdateInvoice(ctx, inv)
			if err != nil {
				return nil, err
			}
			return invoiceResult(out, false), nil
		}

		out, err := ac.CreateInvoice(ctx, inv)
		if err != nil {
			return nil, err
		}
		return invoiceResult(out, true), nil
	}
}

func findExistingInvoice(ctx context.Context, ac accounting.Client, inv accounting.Invoice) (*accounting.Invoice, error) {
	if inv.DocNumber != "" {
		return ac.FindInvoiceByDocNumber(ctx, inv.DocNumber)
	}
	all, err := ac.ListInvoices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		candidate := all[i]
		if candidate.CustomerID == inv.CustomerID &&
			candidate.AmountCents == inv.AmountCents &&
			candidate.DueDate == inv.DueDate &&
			candidate.Status != "paid" {
			return &candidate, nil
		}
	}
	return nil, nil
}

func invoiceResult(inv *accounting.Invoice, created bool) map[string]any {
	return map[string]any{
		"invoice_number": inv.DocNumber,
		"invoice_id":     inv.ID,
		"customer":       inv.CustomerName,
		"amount":         centsToDollars(inv.AmountCents),
		"due_date":       inv.DueDate,
		"created":        created,
	}
}

func createEstimateHandler(ac accounting.Client) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		amount, ok := numberArg(args, "amount")
		if !ok || amount <= 0 {
			return nil, &ValidationError{Tool: "create_estimate", Reason: "amount must be a positive number"}
		}

		_, cust, err := ensureCustomer(ctx, ac, accounting.Customer{
			DisplayName: stringArg(args, "customer_name"),
		})
		if err != nil {
			return nil, err
		}

		est := accounting.Estimate{
			DocNumber:   stringArg(args, "doc_number"),
			CustomerID:  cust.ID,
			AmountCents: dollarsToCents(amount),
			ExpiryDate:  stringArg(args, "expiry_date"),
			Memo:        stringArg(args, "memo"),
		}

		if est.DocNumber != "" {
			existing, err := ac.FindEstimateByDocNumber(ctx, est.DocNumber)
			if err != nil {
				return nil, err
			}
			if existing != nil {
				est.ID = existing.ID
				out, err := ac.UpdateEstimate(ctx, est)
				if err != nil {
					return nil, err
				}
				return estimateResult(out, false), nil
			}
		}

		out, err := ac.CreateEstimate(ctx, est)
		if err != nil {
			return nil, err
		}
		return estimateResult(out, true), nil
	}
}

func estimateResult(est *accounting.Estimate, created bool) map[string]any {
	return map[string]any{
		"estimate_number": est.DocNumber,
		"estimate_id":     est.ID,
		"amount":          centsToDollars(est.AmountCents),
		"expiry_date":     est.ExpiryDate,
		"created":         created,
	}
}

func dollarsToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

func centsToDollars(cents int64) string {
	return fmt.Sprintf("%.2f", float64(cents)/100)
}
