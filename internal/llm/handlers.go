package llm

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"llm-relay/pkg/utils"
)

// ServerState holds the relay services behind the serve-mode HTTP API.
type ServerState struct {
	cfg     *Config
	Invoker *Invoker
	Probe   *Probe
	Catalog *CatalogSync
	Store   *MemoryCatalog
	logger  *zap.Logger
}

// NewServerState wires the serve-mode services from configuration. The
// invoker is long-lived so the rotation cursor spreads load across keys for
// the whole process lifetime.
func NewServerState(cfg *Config, logger *zap.Logger) *ServerState {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServerState{
		cfg:     cfg,
		Invoker: NewInvoker(cfg, logger),
		Probe:   &Probe{Logger: logger},
		Catalog: &CatalogSync{Logger: logger},
		Store:   &MemoryCatalog{},
		logger:  logger,
	}
}

// RegisterRoutes mounts the API on the given router.
func (s *ServerState) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/complete", s.handleComplete)
		r.Get("/models", s.handleListModels)
		r.Post("/probe", s.handleProbe)
	})
}

// validateToken extracts and validates the bearer token from a request.
// Setting DISABLE_AUTH=true/1 bypasses validation entirely.
func (s *ServerState) validateToken(w http.ResponseWriter, r *http.Request) (*TokenClaims, bool) {
	if disableAuth := os.Getenv("DISABLE_AUTH"); disableAuth == "true" || disableAuth == "1" {
		return &TokenClaims{UserID: 1, Login: "disabled-auth-user"}, true
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		http.Error(w, "invalid or missing authorization header", http.StatusUnauthorized)
		return nil, false
	}

	claims, err := ValidateAPIToken(strings.TrimPrefix(auth, "Bearer "), s.cfg.APISecret)
	if err != nil {
		if err == ErrTokenExpired {
			w.Header().Set("X-Token-Expired", "true")
			http.Error(w, "token expired", http.StatusUnauthorized)
		} else {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
		return nil, false
	}

	return claims, true
}

func (s *ServerState) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// CompleteParams is the request body for the completion endpoint.
type CompleteParams struct {
	System   string    `json:"system,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	User     string    `json:"user"`
	Stream   bool      `json:"stream,omitempty"`
}

// CompleteResponse is the non-streaming completion reply. Outcome is the
// discriminant: "success", "suspended" or "failure".
type CompleteResponse struct {
	Outcome string `json:"outcome"`
	Text    string `json:"text,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *ServerState) handleComplete(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.validateToken(w, r)
	if !ok {
		return
	}

	var params CompleteParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if params.User == "" && len(params.Messages) == 0 {
		http.Error(w, "missing user prompt", http.StatusBadRequest)
		return
	}

	s.logger.Info("completion request",
		zap.String("login", claims.Login),
		zap.Bool("stream", params.Stream))

	req := InvokeRequest{
		System:   params.System,
		Messages: params.Messages,
		User:     params.User,
		// No prompt surface exists server-side; cancellation comes from the
		// client closing the connection, which cancels the request context.
		Silent: true,
	}

	if params.Stream {
		s.streamComplete(w, r, req)
		return
	}

	out := s.Invoker.Invoke(r.Context(), req)
	writeJSON(w, statusForOutcome(out), outcomeBody(out))
}

// streamComplete relays chunks to the client as SSE data events and closes
// with a "done" event carrying the tagged outcome.
func (s *ServerState) streamComplete(w http.ResponseWriter, r *http.Request, req InvokeRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	req.Stream = true
	req.OnChunk = func(chunk string) {
		data, _ := json.Marshal(map[string]string{"text": chunk})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	out := s.Invoker.Invoke(r.Context(), req)

	final, _ := json.Marshal(outcomeBody(out))
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", final)
	flusher.Flush()
}

// ProbeResult is one per-key entry in the probe reply, with the credential
// masked for display.
type ProbeResult struct {
	KeyIndex int    `json:"key_index"`
	Key      string `json:"key"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

func (s *ServerState) handleProbe(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.validateToken(w, r); !ok {
		return
	}

	results := s.Probe.TestAllKeys(r.Context(), s.cfg.EndpointURL, s.cfg.APIKeys, s.cfg.Model)
	keys, _ := ParseKeys(s.cfg.APIKeys)

	display := make([]ProbeResult, 0, len(results))
	for _, res := range results {
		display = append(display, ProbeResult{
			KeyIndex: res.KeyIndex,
			Key:      utils.MaskToken(keys[res.KeyIndex]),
			Success:  res.Success,
			Error:    res.Error,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": display})
}

func (s *ServerState) handleListModels(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.validateToken(w, r); !ok {
		return
	}

	result, err := s.Catalog.Refresh(r.Context(), s.cfg.EndpointURL, s.cfg.APIKeys, s.Store)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      result.Success,
		"model_count":  result.ModelCount,
		"models":       s.Store.Models(),
		"invalid_keys": result.InvalidKeys,
	})
}

// statusForOutcome maps the tagged outcome onto an HTTP status while the
// body keeps the explicit discriminant.
func statusForOutcome(out Outcome) int {
	switch out.Kind {
	case OutcomeSuccess, OutcomeSuspended:
		return http.StatusOK
	default:
		return http.StatusBadGateway
	}
}

func outcomeBody(out Outcome) CompleteResponse {
	resp := CompleteResponse{Outcome: out.Kind.String(), Text: out.Text}
	if out.Err != nil {
		resp.Error = out.Err.Error()
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
