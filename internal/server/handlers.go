package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcus/posync/internal/models"
)

const headerIdempotencyKey = "Idempotency-Key"

// saleRequest is the body of POST /sales
type saleRequest struct {
	Token string `json:"token"`
	models.Sale
}

// itemRequest is the body of POST /inventory-sessions/{id}/items
type itemRequest struct {
	Token string `json:"token"`
	models.InventoryCountLine
}

// idempotencyKey resolves the request token from the header and the body.
// Either may be given; when both are, they must match.
func idempotencyKey(w http.ResponseWriter, r *http.Request, bodyToken string) (string, bool) {
	header := r.Header.Get(headerIdempotencyKey)
	switch {
	case header == "" && bodyToken == "":
		writeError(w, http.StatusBadRequest, ErrCodeMissingToken, "Idempotency-Key header or token field required")
		return "", false
	case header != "" && bodyToken != "" && header != bodyToken:
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "Idempotency-Key header and token field differ")
		return "", false
	case header != "":
		return header, true
	default:
		return bodyToken, true
	}
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		logFor(r.Context()).Error("list products", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list products")
		return
	}
	writeJSON(w, http.StatusOK, products)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		logFor(r.Context()).Error("list clients", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list clients")
		return
	}
	writeJSON(w, http.StatusOK, clients)
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		logFor(r.Context()).Error("list categories", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list categories")
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetInventorySession(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.CloseSession(r.Context(), id); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	logFor(r.Context()).Info("session closed", "session", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": string(models.SessionClosed)})
}

// handleCreateSale records a sale once per token. A replayed token answers
// 200 with the original receipt; a new sale answers 201.
func (s *Server) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req saleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	token, ok := idempotencyKey(w, r, req.Token)
	if !ok {
		return
	}
	if err := req.Sale.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
		return
	}

	receipt, err := s.store.RecordSale(r.Context(), token, r.Header.Get(headerTerminalID), req.Sale)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordWrite(true, receipt.Replayed)

	status := http.StatusCreated
	if receipt.Replayed {
		status = http.StatusOK
		logFor(r.Context()).Info("sale replayed", "token", token, "number", receipt.Number)
	} else {
		logFor(r.Context()).Info("sale recorded", "token", token, "number", receipt.Number, "total", receipt.TotalCents)
	}
	writeJSON(w, status, receipt)
}

func (s *Server) handleAddInventoryItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON: "+err.Error())
		return
	}
	token, ok := idempotencyKey(w, r, req.Token)
	if !ok {
		return
	}
	if err := req.InventoryCountLine.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
		return
	}

	sessionID := r.PathValue("id")
	res, err := s.store.AddInventoryItem(r.Context(), sessionID, token, r.Header.Get(headerTerminalID), req.InventoryCountLine)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	s.metrics.RecordWrite(false, res.Replayed)

	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	logFor(r.Context()).Info("count line", "token", token, "session", sessionID, "seq", res.Sequence, "replayed", res.Replayed)
	writeJSON(w, status, res)
}

// writeStoreError maps store errors to HTTP statuses
func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeInsufficientStock, err.Error())
	case errors.Is(err, ErrUnknownProduct):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidationFailed, err.Error())
	case errors.Is(err, ErrSessionNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		writeError(w, http.StatusConflict, ErrCodeSessionClosed, err.Error())
	default:
		logFor(r.Context()).Error("store", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal error")
	}
}
