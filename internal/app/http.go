package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nexus/manuals/internal/auth"
	"nexus/manuals/internal/render"
	"nexus/manuals/internal/store"
)

type HTTPServer struct {
	service    *Service
	verifier   *auth.Verifier
	corsOrigin string
}

func NewHTTPServer(service *Service, verifier *auth.Verifier, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin}
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

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		if s.service.metrics == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		s.service.metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "session" {
		identity, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": identity})
		return
	}

	if r.Method == http.MethodGet && len(parts) == 2 && parts[1] == "search" {
		if _, ok := s.requireSession(w, r); !ok {
			return
		}
		query := r.URL.Query()
		payload, err := s.service.Search(r.Context(), SearchInput{
			Query:           query.Get("q"),
			Type:            strings.TrimSpace(query.Get("type")),
			IncludeArchived: queryBool(query.Get("includeArchived")),
			Limit:           queryInt(query.Get("limit"), 20),
			Offset:          queryInt(query.Get("offset"), 0),
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if parts[1] == "manuals" {
		identity, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		s.handleManuals(w, r, actorFrom(identity), parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleManuals(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			query := r.URL.Query()
			manuals, err := s.service.ListManuals(r.Context(), ListManualsInput{
				Status:          strings.ToUpper(strings.TrimSpace(query.Get("status"))),
				IncludeArchived: queryBool(query.Get("includeArchived")),
				OwnerCompanyID:  strings.TrimSpace(query.Get("ownerCompanyId")),
			})
			respond(w, http.StatusOK, map[string]any{"manuals": manuals}, err)
		case http.MethodPost:
			var body CreateManualInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			manual, err := s.service.CreateManual(r.Context(), actor, body)
			respond(w, http.StatusCreated, map[string]any{"manual": manual}, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	manualID := parts[2]

	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			manual, err := s.service.GetManual(r.Context(), manualID)
			respond(w, http.StatusOK, map[string]any{"manual": manual}, err)
		case http.MethodPut:
			var body UpdateManualInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err := s.service.UpdateManual(r.Context(), actor, manualID, body)
			respond(w, http.StatusOK, payload, err)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch parts[3] {
	case "archive":
		if len(parts) == 4 && r.Method == http.MethodPost {
			manual, err := s.service.Archive(r.Context(), actor, manualID)
			respond(w, http.StatusOK, map[string]any{"manual": manual}, err)
			return
		}

	case "publish":
		if len(parts) == 4 && r.Method == http.MethodPost {
			var body PublishInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err := s.service.Publish(r.Context(), actor, manualID, body)
			respond(w, http.StatusOK, payload, err)
			return
		}

	case "versions":
		s.handleVersions(w, r, manualID, parts)
		return

	case "publications":
		if len(parts) == 4 && r.Method == http.MethodGet {
			commits, err := s.service.Publications(r.Context(), manualID, queryInt(r.URL.Query().Get("limit"), 50))
			respond(w, http.StatusOK, map[string]any{"publications": commits}, err)
			return
		}

	case "chapters":
		s.handleChapters(w, r, actor, manualID, parts)
		return

	case "documents":
		s.handleDocuments(w, r, actor, manualID, parts)
		return

	case "available-documents":
		if len(parts) == 4 && r.Method == http.MethodGet {
			docs, err := s.service.AvailableDocuments(r.Context(), manualID)
			respond(w, http.StatusOK, map[string]any{"documents": docs}, err)
			return
		}

	case "views":
		s.handleViews(w, r, actor, manualID, parts)
		return

	case "toc":
		if len(parts) == 4 && r.Method == http.MethodGet {
			query := r.URL.Query()
			payload, err := s.service.TableOfContents(r.Context(), manualID, TOCInput{
				Compact: queryBool(query.Get("compact")),
				ViewID:  strings.TrimSpace(query.Get("viewId")),
			})
			respond(w, http.StatusOK, payload, err)
			return
		}

	case "render":
		if len(parts) == 4 && r.Method == http.MethodPost {
			opts := render.DefaultOptions()
			if !decodeOrReject(w, r, &opts) {
				return
			}
			opts.User = trackedUser(actor)
			out, err := s.service.RenderHTML(r.Context(), actor, manualID, opts)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Header().Set("X-Tracking-Serial", out.Serial)
			w.Header().Set("X-Suggested-Filename", out.Filename)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(out.HTML))
			return
		}

	case "export":
		if len(parts) == 4 && r.Method == http.MethodPost {
			s.handleExport(w, r, actor, manualID)
			return
		}

	case "tenant-copies":
		if len(parts) == 4 && r.Method == http.MethodGet {
			copies, err := s.service.ListTenantCopies(r.Context(), manualID)
			respond(w, http.StatusOK, map[string]any{"copies": copies}, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, manualID string, parts []string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if len(parts) == 4 {
		versions, err := s.service.VersionHistory(r.Context(), manualID)
		respond(w, http.StatusOK, map[string]any{"versions": versions}, err)
		return
	}

	version, err := strconv.Atoi(parts[4])
	if err != nil || version < 1 {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "version must be a positive integer", nil)
		return
	}
	if len(parts) == 5 {
		payload, err := s.service.VersionSnapshot(r.Context(), manualID, version)
		respond(w, http.StatusOK, map[string]any{"version": payload}, err)
		return
	}
	if len(parts) == 6 && parts[5] == "html" {
		html, err := s.service.ArchivedHTML(r.Context(), manualID, version)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleChapters(w http.ResponseWriter, r *http.Request, actor Actor, manualID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodPost {
		var body AddChapterInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		payload, err := s.service.AddChapter(r.Context(), actor, manualID, body)
		respond(w, http.StatusCreated, payload, err)
		return
	}

	if len(parts) == 5 && parts[4] == "reorder" && r.Method == http.MethodPost {
		var body ReorderInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		payload, err := s.service.ReorderChapters(r.Context(), actor, manualID, body)
		respond(w, http.StatusOK, payload, err)
		return
	}

	if len(parts) == 5 {
		chapterID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body UpdateChapterInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err := s.service.UpdateChapter(r.Context(), actor, manualID, chapterID, body)
			respond(w, http.StatusOK, payload, err)
			return
		case http.MethodDelete:
			payload, err := s.service.RemoveChapter(r.Context(), actor, manualID, chapterID)
			respond(w, http.StatusOK, payload, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, actor Actor, manualID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodPost {
		var body AddDocumentInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		payload, err := s.service.AddDocument(r.Context(), actor, manualID, body)
		respond(w, http.StatusCreated, payload, err)
		return
	}

	if len(parts) == 5 && parts[4] == "reorder" && r.Method == http.MethodPost {
		var body ReorderDocumentsInput
		if !decodeOrReject(w, r, &body) {
			return
		}
		payload, err := s.service.ReorderDocuments(r.Context(), actor, manualID, body)
		respond(w, http.StatusOK, payload, err)
		return
	}

	if len(parts) == 5 {
		documentID := parts[4]
		switch r.Method {
		case http.MethodPut:
			var body UpdateDocumentInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			payload, err := s.service.UpdateDocument(r.Context(), actor, manualID, documentID, body)
			respond(w, http.StatusOK, payload, err)
			return
		case http.MethodDelete:
			payload, err := s.service.RemoveDocument(r.Context(), actor, manualID, documentID)
			respond(w, http.StatusOK, payload, err)
			return
		}
	}

	if len(parts) == 6 && parts[5] == "print" && r.Method == http.MethodPut {
		var body struct {
			IncludeInPrint *bool `json:"includeInPrint"`
		}
		if !decodeOrReject(w, r, &body) {
			return
		}
		if body.IncludeInPrint == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "includeInPrint is required", nil)
			return
		}
		payload, err := s.service.SetDocumentPrintInclusion(r.Context(), actor, manualID, parts[4], *body.IncludeInPrint)
		respond(w, http.StatusOK, payload, err)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleViews(w http.ResponseWriter, r *http.Request, actor Actor, manualID string, parts []string) {
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			views, err := s.service.ListViews(r.Context(), manualID)
			respond(w, http.StatusOK, map[string]any{"views": views}, err)
			return
		case http.MethodPost:
			var body CreateViewInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			view, err := s.service.CreateView(r.Context(), actor, manualID, body)
			respond(w, http.StatusCreated, map[string]any{"view": view}, err)
			return
		}
	}

	if len(parts) == 5 {
		viewID := parts[4]
		switch r.Method {
		case http.MethodGet:
			view, err := s.service.GetView(r.Context(), manualID, viewID)
			respond(w, http.StatusOK, map[string]any{"view": view}, err)
			return
		case http.MethodPut:
			var body UpdateViewInput
			if !decodeOrReject(w, r, &body) {
				return
			}
			view, err := s.service.UpdateView(r.Context(), actor, manualID, viewID, body)
			respond(w, http.StatusOK, map[string]any{"view": view}, err)
			return
		case http.MethodDelete:
			err := s.service.DeleteView(r.Context(), actor, manualID, viewID)
			respond(w, http.StatusOK, map[string]any{"ok": true}, err)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, actor Actor, manualID string) {
	var body struct {
		render.Options
		Format string `json:"format"`
	}
	body.Options = render.DefaultOptions()
	if !decodeOrReject(w, r, &body) {
		return
	}
	body.Options.User = trackedUser(actor)

	var (
		result ExportResult
		err    error
	)
	switch render.Format(strings.ToLower(strings.TrimSpace(body.Format))) {
	case render.FormatPDF, "":
		result, err = s.service.ExportPDF(r.Context(), actor, manualID, body.Options)
	case render.FormatDOCX:
		result, err = s.service.ExportDOCX(r.Context(), actor, manualID, body.Options)
	default:
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be 'pdf' or 'docx'", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+result.Filename+"\"")
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("X-Tracking-Serial", result.Serial)
	if result.Object != nil && result.Object.URL != "" {
		w.Header().Set("X-Export-URL", result.Object.URL)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	token := bearerToken(r)
	if token == "" || s.verifier == nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	identity, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return auth.Identity{}, false
	}
	return identity, true
}

func actorFrom(identity auth.Identity) Actor {
	return Actor{UserID: identity.UserID, UserName: identity.UserName, CompanyID: identity.CompanyID}
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

		elapsed := time.Since(started)
		s.service.metrics.ObserveRequest(r.Method, routeLabel(r.URL.Path), writer.status, elapsed)
		s.service.logger.WithFields(logrus.Fields{
			"request_id":  requestID,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": elapsed.Milliseconds(),
		}).Info("request")
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

// routeLabel replaces path identifiers with placeholders so request metrics
// stay low-cardinality.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "manuals" {
		return path
	}
	out := make([]string, len(parts))
	copy(out, parts)
	out[2] = ":id"
	if len(out) >= 5 && out[4] != "reorder" {
		out[4] = ":id"
	}
	return "/" + strings.Join(out, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Expose-Headers", "Content-Disposition, X-Request-ID, X-Tracking-Serial, X-Export-URL")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
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

// respond writes payload with status, or the mapped error when err is set.
func respond(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, status, payload)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrReject(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryBool(value string) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	return err == nil && parsed
}

func queryInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// trackedUser is the user a rendered copy is traced to. It always comes from
// the verified token, never from the request body.
func trackedUser(actor Actor) render.UserContext {
	return render.UserContext{UserID: actor.UserID, UserName: actor.UserName}
}
