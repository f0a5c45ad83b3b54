// Package api exposes the order admission HTTP surface together with
// health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"batch-settler/internal/observability"
	"batch-settler/internal/orderbook"
)

// maxBodyBytes bounds request bodies; orders are small.
const maxBodyBytes = 1 << 16

// Server serves order submissions over HTTP.
type Server struct {
	orders  *orderbook.Service
	metrics *observability.Metrics
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer builds the HTTP server on the given listen address.
func NewServer(addr string, orders *orderbook.Service, metrics *observability.Metrics, logger *zap.Logger) *Server {
	s := &Server{
		orders:  orders,
		metrics: metrics,
		logger:  logger.Named("api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /orders", s.handleSubmit)
	mux.HandleFunc("DELETE /orders/{uid}", s.handleCancel)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", observability.Handler())

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// orderRequest is the submission wire format. Amounts travel as decimal
// strings, the signature as 0x-prefixed hex.
type orderRequest struct {
	SellToken         string `json:"sellToken"`
	BuyToken          string `json:"buyToken"`
	SellAmount        string `json:"sellAmount"`
	BuyAmount         string `json:"buyAmount"`
	ValidFrom         int64  `json:"validFrom"`
	ValidTo           int64  `json:"validTo"`
	PartiallyFillable bool   `json:"partiallyFillable"`
	Signature         string `json:"signature"`
}

type orderResponse struct {
	UID string `json:"uid"`
}

type cancelRequest struct {
	Signature string `json:"signature"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.reject(w, http.StatusBadRequest, "malformed request body")
		return
	}

	sub, err := req.toSubmission()
	if err != nil {
		s.reject(w, http.StatusBadRequest, err.Error())
		return
	}

	uid, err := s.orders.Admit(r.Context(), sub)
	if err != nil {
		status, reason := admissionStatus(err)
		s.metrics.OrdersRejected.WithLabelValues(reason).Inc()
		s.reject(w, status, err.Error())
		return
	}

	s.metrics.OrdersAdmitted.Inc()
	writeJSON(w, http.StatusCreated, orderResponse{UID: uid.Hex()})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	uidHex := r.PathValue("uid")
	uidBytes, err := hexutil.Decode(uidHex)
	if err != nil || len(uidBytes) != common.HashLength {
		s.reject(w, http.StatusBadRequest, "malformed order uid")
		return
	}

	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.reject(w, http.StatusBadRequest, "malformed request body")
		return
	}
	proof, err := hexutil.Decode(req.Signature)
	if err != nil {
		s.reject(w, http.StatusBadRequest, "malformed signature")
		return
	}

	err = s.orders.Cancel(r.Context(), common.BytesToHash(uidBytes), proof)
	switch {
	case err == nil:
		s.metrics.OrdersCancelled.Inc()
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, orderbook.ErrNotFound):
		s.reject(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orderbook.ErrNotOwner):
		s.reject(w, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("cancel failed", zap.Error(err))
		s.reject(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) reject(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// toSubmission parses the wire format into a domain submission.
func (r *orderRequest) toSubmission() (orderbook.OrderSubmission, error) {
	var sub orderbook.OrderSubmission

	if !common.IsHexAddress(r.SellToken) || !common.IsHexAddress(r.BuyToken) {
		return sub, errors.New("malformed token address")
	}
	sellAmount, ok := new(big.Int).SetString(r.SellAmount, 10)
	if !ok {
		return sub, errors.New("malformed sell amount")
	}
	buyAmount, ok := new(big.Int).SetString(r.BuyAmount, 10)
	if !ok {
		return sub, errors.New("malformed buy amount")
	}
	sig, err := hexutil.Decode(r.Signature)
	if err != nil {
		return sub, errors.New("malformed signature")
	}

	return orderbook.OrderSubmission{
		SellToken:         common.HexToAddress(r.SellToken),
		BuyToken:          common.HexToAddress(r.BuyToken),
		SellAmount:        sellAmount,
		BuyAmount:         buyAmount,
		ValidFrom:         r.ValidFrom,
		ValidTo:           r.ValidTo,
		PartiallyFillable: r.PartiallyFillable,
		Signature:         sig,
	}, nil
}

// admissionStatus maps admission errors to HTTP status and metric reason.
func admissionStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orderbook.ErrInvalidSignature):
		return http.StatusUnauthorized, "invalid_signature"
	case errors.Is(err, orderbook.ErrDuplicateOrder):
		return http.StatusConflict, "duplicate"
	case errors.Is(err, orderbook.ErrExpiredWindow):
		return http.StatusBadRequest, "expired_window"
	case errors.Is(err, orderbook.ErrWindowTooFarFuture):
		return http.StatusBadRequest, "window_too_far"
	case errors.Is(err, orderbook.ErrInvalidAmounts):
		return http.StatusBadRequest, "invalid_amounts"
	case errors.Is(err, orderbook.ErrSameToken):
		return http.StatusBadRequest, "same_token"
	case errors.Is(err, orderbook.ErrInsufficientBalance):
		return http.StatusBadRequest, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
