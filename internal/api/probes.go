package api

import (
	"net/http"
)

var errNotReady = &APIError{http.StatusServiceUnavailable, "not ready"}

// HealthHandler reports liveness along with the last check of every
// dependency.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	return s.health.GetHealthStatus(), nil
}

func (s *Server) ReadinessHandler(w http.ResponseWriter, r *http.Request) (
	interface{}, error) {
	status := s.health.GetHealthStatus()
	if !status.Healthy {
		return nil, errNotReady
	}
	return status, nil
}
