package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// FindCustomerByReference returns the customer whose reference id is ref, or
// nil when Square has none. Ledger accounts use their id as the reference, so
// an email change never forks the customer.
func (c *Client) FindCustomerByReference(ctx context.Context, ref string) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	req := &sq.SearchCustomersRequest{
		Query: &sq.CustomerQuery{
			Filter: &sq.CustomerFilter{
				ReferenceID: &sq.CustomerTextFilter{Exact: ptrString(ref)},
			},
		},
		Limit: int64Ptr(1),
	}
	c.log(ctx, "request", "search_customer", map[string]any{"reference_id": ref})

	resp, err := c.sdk.Customers.Search(ctx, req)
	if err != nil {
		c.log(ctx, "error", "search_customer", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "search customer")
	}

	customers := resp.GetCustomers()
	if len(customers) == 0 {
		c.log(ctx, "response", "search_customer", map[string]any{"found": false})
		return nil, nil
	}
	c.log(ctx, "response", "search_customer", map[string]any{
		"customer_id": stringValue(customers[0].GetID()),
	})
	return customers[0], nil
}

// EnsureCustomer returns the customer referenced by params.ReferenceID,
// creating it on first use. A reference id is required.
func (c *Client) EnsureCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	if strings.TrimSpace(params.ReferenceID) == "" {
		return nil, errReferenceIDRequired
	}
	customer, err := c.FindCustomerByReference(ctx, params.ReferenceID)
	if err != nil {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}
	return c.CreateCustomer(ctx, params)
}
