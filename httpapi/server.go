// Package httpapi exposes the credential service over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

const maxRequestBodyBytes = 1 << 16

// Service is the subset of core.Service served over HTTP.
type Service interface {
	EnsureWorkspace(ctx context.Context, displayName string) (core.Workspace, error)
	GetWorkspace(ctx context.Context, displayName string) (core.Workspace, error)
	ListWorkspaces(ctx context.Context) ([]core.Workspace, error)
	Authorize(ctx context.Context, req core.AuthorizeRequest) (core.AuthorizationRequest, error)
	CompleteCallback(ctx context.Context, req core.CallbackRequest) (core.AuthorizationResult, error)
	CredentialStatus(ctx context.Context, workspaceID string) ([]core.CredentialStatus, error)
	CredentialStatusFor(ctx context.Context, workspaceID string, kind core.ServiceKind) (core.CredentialStatus, error)
	Revoke(ctx context.Context, workspaceID string, kind core.ServiceKind) error
}

type Config struct {
	LoggerProvider glog.LoggerProvider
	Logger         glog.Logger
}

type Server struct {
	service Service
	logger  glog.Logger
	mux     *http.ServeMux
}

func NewServer(service Service, cfg Config) (*Server, error) {
	if service == nil {
		return nil, errors.New("httpapi: service is required")
	}
	_, logger := glog.Resolve("credentials.http", cfg.LoggerProvider, cfg.Logger)
	s := &Server{
		service: service,
		logger:  glog.Ensure(logger),
		mux:     http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /workspaces", s.handleEnsureWorkspace)
	s.mux.HandleFunc("GET /workspaces", s.handleListWorkspaces)
	s.mux.HandleFunc("GET /workspaces/{name}", s.handleGetWorkspace)
	s.mux.HandleFunc("GET /workspaces/{name}/credentials", s.handleCredentialStatus)
	s.mux.HandleFunc("GET /workspaces/{name}/credentials/{kind}", s.handleCredentialStatusFor)
	s.mux.HandleFunc("DELETE /workspaces/{name}/credentials/{kind}", s.handleRevoke)
	s.mux.HandleFunc("GET /oauth/{kind}/authorize", s.handleAuthorize)
	s.mux.HandleFunc("GET /oauth/callback", s.handleCallback)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type workspaceResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type authorizeResponse struct {
	URL         string    `json:"url"`
	State       string    `json:"state"`
	WorkspaceID string    `json:"workspace_id"`
	ServiceKind string    `json:"service_kind"`
	Scopes      []string  `json:"scopes,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
}

type callbackResponse struct {
	WorkspaceID string     `json:"workspace_id"`
	ServiceKind string     `json:"service_kind"`
	Scopes      []string   `json:"scopes,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Linked      bool       `json:"linked"`
}

type statusResponse struct {
	WorkspaceID string                  `json:"workspace_id"`
	Credentials []core.CredentialStatus `json:"credentials"`
}

type errorBody struct {
	TextCode string         `json:"text_code"`
	Message  string         `json:"message"`
	Category string         `json:"category"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEnsureWorkspace(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DisplayName string `json:"display_name"`
	}
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(&payload); err != nil {
		s.writeError(w, r, core.NewBadInputError("httpapi: invalid request body"))
		return
	}
	workspace, err := s.service.EnsureWorkspace(r.Context(), payload.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkspaceResponse(workspace))
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.service.ListWorkspaces(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]workspaceResponse, 0, len(workspaces))
	for _, workspace := range workspaces {
		out = append(out, toWorkspaceResponse(workspace))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.service.GetWorkspace(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkspaceResponse(workspace))
}

func (s *Server) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	workspace, err := s.service.GetWorkspace(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	statuses, err := s.service.CredentialStatus(r.Context(), workspace.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{WorkspaceID: workspace.ID, Credentials: statuses})
}

func (s *Server) handleCredentialStatusFor(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseServiceKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	workspace, err := s.service.GetWorkspace(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	status, err := s.service.CredentialStatusFor(r.Context(), workspace.ID, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseServiceKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	workspace, err := s.service.GetWorkspace(r.Context(), r.PathValue("name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.Revoke(r.Context(), workspace.ID, kind); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAuthorize creates the workspace on first use. With redirect=1 the
// caller is sent straight to the provider consent page.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	kind, err := core.ParseServiceKind(r.PathValue("kind"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	params := r.URL.Query()
	workspace := strings.TrimSpace(params.Get("workspace"))
	if workspace == "" {
		s.writeError(w, r, core.NewBadInputError("httpapi: workspace query parameter is required"))
		return
	}
	authorization, err := s.service.Authorize(r.Context(), core.AuthorizeRequest{
		DisplayName: workspace,
		Kind:        kind,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if truthy(params.Get("redirect")) {
		http.Redirect(w, r, authorization.URL, http.StatusFound)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{
		URL:         authorization.URL,
		State:       authorization.State,
		WorkspaceID: authorization.WorkspaceID,
		ServiceKind: authorization.Kind.String(),
		Scopes:      authorization.Scopes,
		ExpiresAt:   authorization.ExpiresAt,
	})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	result, err := s.service.CompleteCallback(r.Context(), core.CallbackRequest{
		Code:  params.Get("code"),
		State: params.Get("state"),
		Error: params.Get("error"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	response := callbackResponse{
		WorkspaceID: result.WorkspaceID,
		ServiceKind: result.Kind.String(),
		Scopes:      result.Envelope.Scopes,
		Linked:      true,
	}
	if !result.Envelope.ExpiresAt.IsZero() {
		expiresAt := result.Envelope.ExpiresAt
		response.ExpiresAt = &expiresAt
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	mapped := core.MapCredentialError(err)
	if mapped == nil {
		mapped = core.MapCredentialError(errors.New("httpapi: unknown failure"))
	}
	status := mapped.Code
	if status < http.StatusBadRequest || status > 599 {
		status = http.StatusInternalServerError
	}
	if status >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).Error("credential request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"text_code", mapped.TextCode,
			"error", err,
		)
	}
	writeJSON(w, status, errorResponse{Error: toErrorBody(mapped)})
}

func toErrorBody(err *goerrors.Error) errorBody {
	body := errorBody{
		TextCode: err.TextCode,
		Message:  err.Message,
		Category: err.Category.String(),
	}
	if len(err.Metadata) > 0 {
		body.Metadata = err.Metadata
	}
	return body
}

func toWorkspaceResponse(workspace core.Workspace) workspaceResponse {
	return workspaceResponse{
		ID:          workspace.ID,
		DisplayName: workspace.DisplayName,
		CreatedAt:   workspace.CreatedAt,
	}
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

var _ Service = (*core.Service)(nil)
