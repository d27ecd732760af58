package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"

	"github.com/ruralpay/marketpay/internal/models"
	"github.com/ruralpay/marketpay/internal/services"
)

const maxBodyBytes = 1_048_576

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    data,
	})
}

// writeServiceError maps service errors onto HTTP responses. Provider
// details stay in the logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, ve)
	case errors.Is(err, models.ErrInsufficientFunds):
		services.SendErrorResponse(w, "Insufficient balance", http.StatusBadRequest, nil)
	case errors.Is(err, models.ErrNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case errors.Is(err, models.ErrAccountInactive):
		services.SendErrorResponse(w, "Account is not active", http.StatusForbidden, nil)
	case services.IsProviderFailure(err):
		log.Printf("[API] %s %s provider failure: %v", r.Method, r.URL.Path, err)
		services.SendErrorResponse(w, "Payment provider unavailable, please try again later", http.StatusBadGateway, nil)
	default:
		log.Printf("[API] %s %s failed: %v", r.Method, r.URL.Path, err)
		services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
	}
}

// actorFrom expects chi's RealIP middleware to have rewritten RemoteAddr.
func actorFrom(r *http.Request) models.Actor {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	ua := r.UserAgent()
	if len(ua) > 255 {
		ua = ua[:255]
	}
	return models.Actor{IPAddress: ip, UserAgent: ua}
}
