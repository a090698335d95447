package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxBodySize = 1 << 16

func (s *Server) MetadataHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	return s.shop.Metadata(), nil
}

// CreateCheckoutHandler builds the transaction a wallet asks for. Server-side
// failures are reported with a generic message.
func (s *Server) CreateCheckoutHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {

	var req CreateCheckoutRequest

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, errBadBody
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return nil, errBadBody
		}
	}

	created, err := s.shop.CreateCheckout(r.Context(), r.URL.Query(), req.Account)
	if err != nil {
		if toAPIError(err).Status >= http.StatusInternalServerError {
			s.log.Error("error creating transaction", "error", err)
			return nil, errCreatingTx
		}
		return nil, err
	}

	return created, nil
}

func (s *Server) CheckoutStatusHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	c, err := s.shop.CheckoutStatus(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		return nil, err
	}
	return newCheckoutStatusResponse(c), nil
}

func (s *Server) CouponsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	return s.shop.CouponBalance(r.Context(), chi.URLParam(r, "account"))
}

func (s *Server) ProductsHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	return s.shop.Products(), nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return nil, errMethodNotAllowed
}

func notFound(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return nil, errNotFound
}
