// Copyright 2025 Warpy Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon exposes the interpreter over JSON-RPC 2.0 so editor and
// CI integrations can invoke module exports without shelling out.
package daemon

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shiqicao/warpy/internal/host"
	"github.com/shiqicao/warpy/internal/logger"
	"github.com/shiqicao/warpy/internal/telemetry"
	"github.com/shiqicao/warpy/internal/wasm"
)

// Server represents the JSON-RPC daemon server
type Server struct {
	authToken string
}

// Config holds daemon configuration
type Config struct {
	Port      string
	AuthToken string
}

// InvokeRequest asks for one export invocation. The module arrives either
// as a filesystem path or inline as base64.
type InvokeRequest struct {
	ModulePath string   `json:"module_path,omitempty"`
	ModuleB64  string   `json:"module_b64,omitempty"`
	Entry      string   `json:"entry,omitempty"`
	Args       []string `json:"args,omitempty"`
}

// InvokeResponse carries the printed result representation, or the trap
// message when the invocation failed.
type InvokeResponse struct {
	Result string `json:"result,omitempty"`
	Trap   string `json:"trap,omitempty"`
}

// NewServer creates a new JSON-RPC server
func NewServer(config Config) *Server {
	return &Server{authToken: config.AuthToken}
}

// authenticate validates the authorization token
func (s *Server) authenticate(r *http.Request) bool {
	if s.authToken == "" {
		return true // No auth required
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		return false
	}

	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ") == s.authToken
	}
	return auth == s.authToken
}

// Invoke handles Interp.Invoke RPC calls. Every request decodes a fresh
// Module: one Module instance serves one invocation at a time.
func (s *Server) Invoke(r *http.Request, req *InvokeRequest, resp *InvokeResponse) error {
	if !s.authenticate(r) {
		return fmt.Errorf("unauthorized")
	}

	tracer := telemetry.GetTracer()
	_, span := tracer.Start(r.Context(), "rpc_invoke")
	span.SetAttributes(
		attribute.String("module.path", req.ModulePath),
		attribute.String("entry", req.Entry),
	)
	defer span.End()

	entry := req.Entry
	if entry == "" {
		entry = "main"
	}
	logger.Logger.Info("processing invoke RPC", "module", req.ModulePath, "entry", entry)

	var data []byte
	switch {
	case req.ModuleB64 != "":
		var err error
		data, err = base64.StdEncoding.DecodeString(req.ModuleB64)
		if err != nil {
			return fmt.Errorf("decoding module_b64: %w", err)
		}
	case req.ModulePath != "":
		var err error
		data, err = os.ReadFile(req.ModulePath)
		if err != nil {
			return fmt.Errorf("reading module: %w", err)
		}
	default:
		return fmt.Errorf("one of module_path or module_b64 is required")
	}

	m, err := wasm.Load(data, host.New().Call)
	if err != nil {
		span.RecordError(err)
		resp.Trap = err.Error()
		return nil
	}
	res, err := m.Run(entry, req.Args)
	if err != nil {
		span.RecordError(err)
		resp.Trap = err.Error()
		return nil
	}
	if res != nil {
		resp.Result = res.String()
	}
	return nil
}

// Start starts the JSON-RPC server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context, port string) error {
	server := rpc.NewServer()
	server.RegisterCodec(json2.NewCodec(), "application/json")
	server.RegisterCodec(json2.NewCodec(), "application/json;charset=UTF-8")

	if err := server.RegisterService(s, "Interp"); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	logger.Logger.Info("starting JSON-RPC server", "port", port)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Logger.Info("shutting down JSON-RPC server")
	return srv.Shutdown(context.Background())
}
