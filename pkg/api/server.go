package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nftrouter/planner-core/pkg/metrics"
	"github.com/nftrouter/planner-core/pkg/planner"
	"github.com/nftrouter/planner-core/pkg/planner/facade"
)

// Server handles the REST and WebSocket surface exercising the planner
// core end to end: POST /plan drives a single Plan call, and the three
// execute/*-signature/v1 endpoints are the companion endpoints every
// SignaturePayload.PostEndpoint points clients at. All of them are
// mounted under /api/v1, the base PostEndpoint paths are relative to.
type Server struct {
	planner *facade.Planner
	log     *zap.Logger
	router  *mux.Router
	hub     *Hub
	txLog   *os.File // transaction log file, one JSON object per line

	allowedOrigins []string
}

// NewServer creates a new API server wrapping a wired facade.Planner.
func NewServer(p *facade.Planner, log *zap.Logger, allowedOrigins []string) *Server {
	txLogPath := os.Getenv("TX_LOG_FILE")
	if txLogPath == "" {
		txLogPath = "data/transactions.log"
	}
	os.MkdirAll("data", 0755)

	txLog, err := os.OpenFile(txLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to open tx log file, continuing without tx logging", zap.String("path", txLogPath), zap.Error(err))
		txLog = nil
	} else {
		log.Info("transaction log", zap.String("path", txLogPath))
	}

	s := &Server{
		planner:        p,
		log:            log,
		router:         mux.NewRouter(),
		hub:            NewHub(),
		txLog:          txLog,
		allowedOrigins: allowedOrigins,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/plan", s.handlePlan).Methods("POST")

	api.HandleFunc("/execute/auth-signature/v1", s.handleAuthSignature).Methods("POST")
	api.HandleFunc("/execute/permit-signature/v1", s.handlePermitSignature).Methods("POST")
	api.HandleFunc("/execute/pre-signature/v1", s.handlePreSignature).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	handler := c.Handler(s.router)

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var body PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	req, err := body.toPlannerRequest()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	requestID := uuid.NewString()
	start := time.Now()
	plan, err := s.planner.Plan(r.Context(), req)
	if err != nil {
		var pe *planner.PlannerError
		if errors.As(err, &pe) {
			metrics.ObservePlan("error", time.Since(start), 0, nil, map[string]int{string(pe.Kind): 1})
			status := http.StatusUnprocessableEntity
			if pe.Kind == planner.ErrSanctioned || pe.Kind == planner.ErrRestrictedSource {
				status = http.StatusUnauthorized
			}
			respondError(w, status, string(pe.Kind), pe.Message)
			return
		}
		metrics.ObservePlan("error", time.Since(start), 0, nil, map[string]int{"internal": 1})
		s.log.Error("plan failed", zap.String("requestId", requestID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "plan failed", err.Error())
		return
	}
	plan.RequestID = requestID

	stepCounts := make(map[string]int, len(plan.Steps))
	for _, step := range plan.Steps {
		stepCounts[string(step.Action)]++
	}
	errKinds := make(map[string]int, len(plan.Errors))
	for _, e := range plan.Errors {
		errKinds[e.Kind]++
	}
	metrics.ObservePlan("ok", time.Since(start), len(plan.Path), stepCounts, errKinds)
	// A Blur listing in the path forces the balance check back on, so the
	// skip was not honored for such a plan.
	skipHonored := req.SkipBalanceCheck
	for _, item := range plan.Path {
		if item.Source == planner.KindBlur {
			skipHonored = false
		}
	}
	if skipHonored {
		metrics.IncBalanceCheckSkipped()
	}

	s.logTransaction("PLAN", map[string]interface{}{
		"request_id": requestID,
		"taker":      req.Taker.Hex(),
		"items":      len(req.Items),
		"steps":      len(plan.Steps),
	})

	respondJSON(w, plan)
}

func (s *Server) handleAuthSignature(w http.ResponseWriter, r *http.Request) {
	var req AuthSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Key == "" || req.Signature == "" {
		respondError(w, http.StatusBadRequest, "missing key or signature", "")
		return
	}
	if err := s.planner.Store.SubmitAuthSignature(req.Key, req.Signature); err != nil {
		respondError(w, http.StatusNotFound, "no challenge pending", err.Error())
		return
	}
	s.logTransaction("AUTH_SIGNATURE", map[string]interface{}{"key": req.Key})
	s.hub.BroadcastToChannel("auth:"+req.Key, PlanUpdate{Type: "plan-update", Action: string(planner.ActionAuth)})
	respondJSON(w, SignatureAck{Status: "accepted"})
}

func (s *Server) handlePermitSignature(w http.ResponseWriter, r *http.Request) {
	var req PermitSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ID == "" || req.Signature == "" {
		respondError(w, http.StatusBadRequest, "missing id or signature", "")
		return
	}
	if err := s.planner.Store.SubmitPermitSignature(req.ID, req.Signature); err != nil {
		respondError(w, http.StatusNotFound, "no permit pending", err.Error())
		return
	}
	s.logTransaction("PERMIT_SIGNATURE", map[string]interface{}{"id": req.ID})
	s.hub.BroadcastToChannel("permit:"+req.ID, PlanUpdate{Type: "plan-update", Action: string(planner.ActionCurrencyPermit)})
	respondJSON(w, SignatureAck{Status: "accepted"})
}

func (s *Server) handlePreSignature(w http.ResponseWriter, r *http.Request) {
	var req PreSignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.ID == "" || req.Signature == "" {
		respondError(w, http.StatusBadRequest, "missing id or signature", "")
		return
	}
	if err := s.planner.Store.SubmitPreSignature(req.ID, req.Signature); err != nil {
		respondError(w, http.StatusNotFound, "no pre-signature pending", err.Error())
		return
	}
	s.logTransaction("PRE_SIGNATURE", map[string]interface{}{"id": req.ID})
	s.hub.BroadcastToChannel("presig:"+req.ID, PlanUpdate{Type: "plan-update", Action: string(planner.ActionPreSignature)})
	respondJSON(w, SignatureAck{Status: "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Request decoding
// ==============================

func (b PlanRequest) toPlannerRequest() (planner.Request, error) {
	if !common.IsHexAddress(b.Taker) {
		return planner.Request{}, fmt.Errorf("invalid taker address %q", b.Taker)
	}

	items := make([]planner.Intent, len(b.Items))
	for i, it := range b.Items {
		intent, err := it.toIntent()
		if err != nil {
			return planner.Request{}, fmt.Errorf("item %d: %w", i, err)
		}
		items[i] = intent
	}

	req := planner.Request{
		Items:                items,
		Taker:                common.HexToAddress(b.Taker),
		OnlyPath:             b.OnlyPath,
		ForceRouter:          b.ForceRouter,
		ForwarderChannel:     b.ForwarderChannel,
		NormalizeRoyalties:   b.NormalizeRoyalties,
		Source:               b.Source,
		FeesOnTop:            b.FeesOnTop,
		Partial:              b.Partial,
		SkipBalanceCheck:     b.SkipBalanceCheck,
		ExcludeEOA:           b.ExcludeEOA,
		MaxFeePerGas:         b.MaxFeePerGas,
		MaxPriorityFeePerGas: b.MaxPriorityFeePerGas,
		UsePermit:            b.UsePermit,
		SwapProvider:         b.SwapProvider,
		Referrer:             b.Referrer,
		Comment:              b.Comment,
		ConduitKey:           b.ConduitKey,
		ProtocolAPIKeys:      b.ProtocolAPIKeys,
	}

	if b.Relayer != "" {
		if !common.IsHexAddress(b.Relayer) {
			return planner.Request{}, fmt.Errorf("invalid relayer address %q", b.Relayer)
		}
		relayer := common.HexToAddress(b.Relayer)
		req.Relayer = &relayer
	}
	if b.Currency != "" {
		if !common.IsHexAddress(b.Currency) {
			return planner.Request{}, fmt.Errorf("invalid currency address %q", b.Currency)
		}
		currency := common.HexToAddress(b.Currency)
		req.Currency = &currency
	}

	return req, nil
}

func (it IntentRequest) toIntent() (planner.Intent, error) {
	intent := planner.Intent{
		Quantity:             it.Quantity,
		FillType:             planner.FillType(it.FillType),
		PreferredMintStage:   it.PreferredMintStage,
		PreferredOrderSource: it.PreferredOrderSource,
		ExactOrderSource:     it.ExactOrderSource,
		Exclusions:           it.Exclusions,
		AllowInactiveOrderID: it.AllowInactiveOrderID,
		OrderID:              it.OrderID,
	}

	if it.RawOrder != "" {
		intent.RawOrder = []byte(it.RawOrder)
	}
	if it.Collection != "" {
		if !common.IsHexAddress(it.Collection) {
			return planner.Intent{}, fmt.Errorf("invalid collection address %q", it.Collection)
		}
		collection := common.HexToAddress(it.Collection)
		intent.Collection = &collection
	}
	if it.TokenContract != "" {
		if !common.IsHexAddress(it.TokenContract) {
			return planner.Intent{}, fmt.Errorf("invalid token contract address %q", it.TokenContract)
		}
		intent.Token = &planner.TokenRef{
			Contract: common.HexToAddress(it.TokenContract),
			TokenID:  it.TokenID,
		}
	}

	return intent, nil
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errStr string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   errStr,
		Message: message,
	})
}

// logTransaction writes a transaction event to the log file, one JSON
// object per line.
func (s *Server) logTransaction(eventType string, data map[string]interface{}) {
	if s.txLog == nil {
		return
	}

	entry := map[string]interface{}{
		"timestamp": time.Now().Format(time.RFC3339),
		"event":     eventType,
		"data":      data,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		s.log.Warn("failed to marshal tx log entry", zap.Error(err))
		return
	}

	s.txLog.Write(jsonData)
	s.txLog.Write([]byte("\n"))
}
