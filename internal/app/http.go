// Package app is the HTTP surface over the workflow engine. Authentication
// is delegated to a fronting proxy that asserts the caller in the
// X-Caller-Email header; this layer only decodes, dispatches and encodes.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"caseflow/api/internal/engine"
	"caseflow/api/internal/patch"
	"caseflow/api/internal/search"
	"caseflow/api/internal/store"
)

// maxUploadBytes caps attachment uploads at 32 MiB.
const maxUploadBytes = 32 << 20

// Pinger reports backing-store connectivity for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HTTPServer struct {
	engine     *engine.Engine
	search     *search.Service
	pinger     Pinger
	corsOrigin string
}

func NewHTTPServer(eng *engine.Engine, searcher *search.Service, pinger Pinger, corsOrigin string) *HTTPServer {
	return &HTTPServer{engine: eng, search: searcher, pinger: pinger, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}
		if s.pinger != nil {
			if err := s.pinger.Ping(ctx); err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks["database"] = map[string]any{"status": "error", "error": err.Error()}
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	caller, ok := s.requireCaller(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := r.URL.Query()
		resp := s.search.Search(r.Context(), search.Query{
			Text:   q.Get("q"),
			State:  q.Get("state"),
			Limit:  queryInt(q.Get("limit")),
			Offset: queryInt(q.Get("offset")),
		})
		// The index is not ACL-aware; drop hits the caller may not read.
		readable := make([]search.Result, 0, len(resp.Results))
		for _, result := range resp.Results {
			if s.engine.CanRead(r.Context(), caller, result.ID) {
				readable = append(readable, result)
			}
		}
		resp.Results = readable
		resp.Total = len(readable)
		writeJSON(w, http.StatusOK, resp)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "requests" {
		s.handleRequests(w, r, caller, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, caller store.Person, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			items, err := s.engine.ListRequests(r.Context(), caller, q.Get("state"), queryInt(q.Get("limit")))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"requests": items})
		case http.MethodPost:
			var fields map[string]any
			if err := decodeBody(r, &fields); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			item, err := s.engine.CreateRequest(r.Context(), caller, fields)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, item)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
	case 1:
		s.handleRequest(w, r, caller, parts[0])
	default:
		s.handleRequestSub(w, r, caller, parts[0], parts[1:])
	}
}

func (s *HTTPServer) handleRequest(w http.ResponseWriter, r *http.Request, caller store.Person, requestID string) {
	switch r.Method {
	case http.MethodGet:
		item, err := s.engine.GetRequest(r.Context(), caller, requestID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var body map[string]any
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.engine.UpdateRequest(r.Context(), caller, requestID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := s.engine.DeleteRequest(r.Context(), caller, requestID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleRequestSub(w http.ResponseWriter, r *http.Request, caller store.Person, requestID string, parts []string) {
	switch parts[0] {
	case "clone":
		if r.Method != http.MethodPost || len(parts) != 1 {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		item, err := s.engine.CloneRequest(r.Context(), caller, requestID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	case "copy":
		if r.Method != http.MethodPost || len(parts) != 1 {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var overrides map[string]any
		if err := decodeBody(r, &overrides); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.engine.CopyRequest(r.Context(), caller, requestID, overrides)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	case "transitions":
		if r.Method != http.MethodGet || len(parts) != 1 {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		targets, err := s.engine.AvailableTransitions(r.Context(), caller, requestID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transitions": targets})
	case "comments":
		s.handleComments(w, r, caller, requestID, parts[1:])
	case "attachments":
		s.handleAttachments(w, r, caller, requestID, parts[1:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, caller store.Person, requestID string, parts []string) {
	if len(parts) == 0 {
		if r.Method == http.MethodGet {
			item, err := s.engine.GetRequest(r.Context(), caller, requestID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": item.Comments})
			return
		}
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body patch.CommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.engine.AddComment(r.Context(), caller, requestID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	commentID := parts[0]
	switch r.Method {
	case http.MethodGet:
		comment, err := s.engine.GetComment(r.Context(), caller, requestID, commentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, comment)
	case http.MethodPatch:
		var body engine.CommentPatch
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.engine.UpdateComment(r.Context(), caller, requestID, commentID, body)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		item, err := s.engine.DeleteComment(r.Context(), caller, requestID, commentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAttachments(w http.ResponseWriter, r *http.Request, caller store.Person, requestID string, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			refs, err := s.engine.ListAttachments(r.Context(), caller, requestID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"attachments": refs})
		case http.MethodPost:
			s.handleAttachmentUpload(w, r, caller, requestID)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	attachmentID := parts[0]
	switch r.Method {
	case http.MethodGet:
		ref, data, err := s.engine.GetAttachment(r.Context(), caller, requestID, attachmentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		contentType := ref.Type
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ref.Name))
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case http.MethodDelete:
		item, err := s.engine.DeleteAttachment(r.Context(), caller, requestID, attachmentID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleAttachmentUpload accepts either a multipart form with a "file"
// part, or a raw body with the file name in the "name" query parameter.
func (s *HTTPServer) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, caller store.Person, requestID string) {
	var (
		name        string
		contentType string
		data        []byte
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart body", nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "file part is required", nil)
			return
		}
		defer file.Close()
		data, err = io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "read upload failed", nil)
			return
		}
		name = header.Filename
		contentType = header.Header.Get("Content-Type")
	} else {
		var err error
		data, err = io.ReadAll(io.LimitReader(r.Body, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "read upload failed", nil)
			return
		}
		name = r.URL.Query().Get("name")
		contentType = r.Header.Get("Content-Type")
	}
	if len(data) > maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "VALIDATION_ERROR", "attachment exceeds size limit", nil)
		return
	}

	ref, err := s.engine.UploadAttachment(r.Context(), caller, requestID, name, contentType, data)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}

func (s *HTTPServer) requireCaller(w http.ResponseWriter, r *http.Request) (store.Person, bool) {
	email := strings.TrimSpace(r.Header.Get("X-Caller-Email"))
	if email == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return store.Person{}, false
	}
	return s.engine.ResolveCaller(r.Context(), email), true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Caller-Email, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *engine.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
