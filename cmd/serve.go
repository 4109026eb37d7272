package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/maloferriol/my-local-ai-agent/internal/agent"
	"github.com/maloferriol/my-local-ai-agent/internal/config"
	"github.com/maloferriol/my-local-ai-agent/internal/conversation"
	"github.com/maloferriol/my-local-ai-agent/internal/llm"
	"github.com/maloferriol/my-local-ai-agent/internal/signal"
	"github.com/spf13/cobra"
)

var (
	serveHost        string
	servePort        int
	serveModel       string
	serveStorePath   string
	serveNoStore     bool
	serveCORSOrigins []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent HTTP server",
	Long: `Run an HTTP server exposing the agent over streaming NDJSON.

Endpoints:
  POST /agent/my_local_agent/invoke
  GET  /agent/my_local_agent/conversation/{id}
  GET  /healthz`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "Bind host (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Bind port (default from config)")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "Default model for requests that omit one")
	serveCmd.Flags().StringVar(&serveStorePath, "store", "", "Conversation database path")
	serveCmd.Flags().BoolVar(&serveNoStore, "no-store", false, "Disable conversation persistence")
	serveCmd.Flags().StringArrayVar(&serveCORSOrigins, "cors-origin", []string{"*"}, "Allowed CORS origin (repeatable, or '*' for all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext()
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(serveModel, serveStorePath)
	if serveHost != "" {
		cfg.Serve.Host = serveHost
	}
	if servePort != 0 {
		cfg.Serve.Port = servePort
	}
	if cfg.Serve.Port <= 0 || cfg.Serve.Port > 65535 {
		return fmt.Errorf("invalid port %d (must be 1-65535)", cfg.Serve.Port)
	}
	if serveNoStore {
		cfg.Store.Enabled = false
	}

	logger := newLogger(cfg)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	engine, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}

	caps, err := config.LoadCapabilities()
	if err != nil {
		return err
	}

	s := &agentServer{
		cfg: agentServerConfig{
			addr:         cfg.Serve.Addr(),
			defaultModel: cfg.Ollama.Model,
			corsOrigins:  append([]string(nil), serveCORSOrigins...),
		},
		engine: engine,
		store:  store,
		caps:   caps,
		logger: logger,
	}

	if err := s.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "my-local-ai-agent listening on http://%s\n", s.cfg.addr)
	fmt.Fprintf(cmd.ErrOrStderr(), "model: %s\n", cfg.Ollama.Model)
	fmt.Fprintf(cmd.ErrOrStderr(), "store: %s\n", storeSummary(cfg))

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Stop(shutdownCtx)
}

func storeSummary(cfg *config.Config) string {
	if !cfg.Store.Enabled {
		return "disabled"
	}
	return cfg.Store.Path
}

type agentServerConfig struct {
	addr         string
	defaultModel string
	corsOrigins  []string
}

type agentServer struct {
	cfg    agentServerConfig
	engine *agent.Engine
	store  conversation.Store
	caps   config.Capabilities
	logger *slog.Logger
	server *http.Server
}

func (s *agentServer) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/agent/my_local_agent/invoke", s.cors(s.handleInvoke))
	mux.HandleFunc("/agent/my_local_agent/conversation/", s.cors(s.handleGetConversation))

	s.server = &http.Server{
		Addr:    s.cfg.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

func (s *agentServer) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *agentServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleInvoke runs the agent loop over the posted conversation and streams
// the resulting events back as newline-delimited JSON. Closing the request
// tears down the model stream.
func (s *agentServer) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := requireJSONContentType(r); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, err.Error())
		return
	}

	var incoming conversation.Conversation
	if err := decodeJSONBody(r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	last := incoming.LastMessage()
	if last == nil || last.Role != llm.RoleUser || strings.TrimSpace(last.Content) == "" {
		writeError(w, http.StatusBadRequest, "conversation must end with a non-empty user message")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	model := last.Model
	if model == "" {
		model = s.cfg.defaultModel
	}
	capability := s.caps.Lookup(model)

	ctx := r.Context()
	mgr, err := conversation.NewManager(ctx, s.store, &incoming, s.logger)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	stream := s.engine.Run(ctx, mgr, model, agent.ModelCapabilities{
		Tools:    capability.Tools,
		Thinking: capability.Thinking,
	})
	defer stream.Close()

	enc := json.NewEncoder(w)
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			// The terminal error event already went out on the wire;
			// nothing more can be written to a streaming response.
			s.logger.Error("agent run failed", "conversation_id", mgr.ID(), "error", err)
			return
		}
		if err := enc.Encode(event); err != nil {
			s.logger.Warn("client disconnected", "conversation_id", mgr.ID())
			return
		}
		flusher.Flush()
	}
}

func (s *agentServer) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idPart := strings.TrimPrefix(r.URL.Path, "/agent/my_local_agent/conversation/")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid conversation id %q", idPart))
		return
	}

	conv, err := s.store.GetConversation(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conv == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("conversation %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *agentServer) cors(next http.HandlerFunc) http.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.corsOrigins))
	allowAll := false
	for _, origin := range s.cfg.corsOrigins {
		o := strings.TrimSpace(origin)
		if o == "" {
			continue
		}
		if o == "*" {
			allowAll = true
			continue
		}
		allowed[o] = struct{}{}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := allowed[origin]; ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSONBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 10<<20))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

func requireJSONContentType(r *http.Request) error {
	contentType := r.Header.Get("Content-Type")
	if strings.TrimSpace(contentType) == "" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("invalid Content-Type header")
	}
	if mediaType != "application/json" {
		return fmt.Errorf("Content-Type must be application/json")
	}
	return nil
}
