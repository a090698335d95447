package api

import (
	"github.com/openbuilders/loyalty-checkout/internal/types"
)

// ErrorResponse represents an error API response
type ErrorResponse struct {
	Error string `json:"error"`
}

type CreateCheckoutRequest struct {
	Account string `json:"account"`
}

type CheckoutStatusResponse struct {
	Reference string               `json:"reference"`
	Status    types.CheckoutStatus `json:"status"`
	Signature string               `json:"signature,omitempty"`
	Reason    string               `json:"reason,omitempty"`
}

func newCheckoutStatusResponse(c *types.Checkout) CheckoutStatusResponse {
	resp := CheckoutStatusResponse{
		Reference: c.Reference.String(),
		Status:    c.Status,
		Reason:    c.Reason,
	}
	if c.Signature != nil {
		resp.Signature = c.Signature.String()
	}
	return resp
}
