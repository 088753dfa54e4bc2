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
	"net/http"
	"strconv"
	"strings"
	"time"

	"validai/api/internal/auth"
	"validai/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
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
		payload := map[string]any{"ok": true}
		if s.service.metrics != nil {
			payload["uptimeSeconds"] = int64(time.Since(s.service.metrics.ServerStartTime).Seconds())
		}
		writeJSON(w, http.StatusOK, payload)
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

	// Account routes, no session required.
	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signup" {
		var body struct {
			Email       string `json:"email"`
			Password    string `json:"password"`
			DisplayName string `json:"displayName"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/auth/signin" {
		var body struct {
			Email          string `json:"email"`
			Password       string `json:"password"`
			OrganizationID string `json:"organizationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.SignIn(r.Context(), body.Email, body.Password, body.OrganizationID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated":  true,
			"userId":         session.UserID,
			"userName":       session.UserName,
			"email":          session.Email,
			"organizationId": session.OrgID,
			"role":           session.Role,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/refresh" {
		var body struct {
			RefreshToken   string `json:"refreshToken"`
			OrganizationID string `json:"organizationId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		session, err := s.service.Refresh(r.Context(), body.RefreshToken, body.OrganizationID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Refresh token invalid", nil)
			return
		}
		writeJSON(w, http.StatusOK, sessionJSON(session))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/logout" {
		session := Session{}
		if token := bearerToken(r); token != "" {
			if parsed, err := s.service.SessionFromToken(r.Context(), token); err == nil {
				session = parsed
			}
		}
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		_ = decodeBody(r, &body)
		_ = s.service.Logout(r.Context(), session, body.RefreshToken)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		q := r.URL.Query()
		limit := queryInt(q.Get("limit"), 20)
		offset := queryInt(q.Get("offset"), 0)
		payload, err := s.service.Search(r.Context(), session, q.Get("q"), q.Get("type"), limit, offset)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if r.URL.Path == "/api/orgs" {
		switch r.Method {
		case http.MethodGet:
			orgs, err := s.service.ListMyOrganizations(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"organizations": orgsJSON(orgs)})
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			org, err := s.service.CreateOrganization(r.Context(), session, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, orgJSON(org))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invitations/accept" {
		var body struct {
			Token string `json:"token"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		org, err := s.service.AcceptInvitation(r.Context(), session, body.Token)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, orgJSON(org))
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" {
		switch parts[1] {
		case "orgs":
			s.handleOrgs(w, r, session, parts[2:])
			return
		case "galleries":
			s.handleGalleries(w, r, session, parts[2:])
			return
		case "processors":
			s.handleProcessors(w, r, session, parts[2:])
			return
		case "documents":
			s.handleDocuments(w, r, session, parts[2:])
			return
		case "runs":
			s.handleRuns(w, r, session, parts[2:])
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleOrgs(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	orgID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			org, err := s.service.GetOrganization(r.Context(), session, orgID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, orgJSON(org))
		case http.MethodPut, http.MethodPatch:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			org, err := s.service.UpdateOrganization(r.Context(), session, orgID, body.Name, body.Description)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, orgJSON(org))
		case http.MethodDelete:
			if err := s.service.DeleteOrganization(r.Context(), session, orgID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch rest[0] {
	case "members":
		if len(rest) == 1 && r.Method == http.MethodGet {
			members, err := s.service.ListMembers(r.Context(), session, orgID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"members": membersJSON(members)})
			return
		}
		if len(rest) == 2 {
			userID := rest[1]
			switch r.Method {
			case http.MethodPut:
				var body struct {
					Role string `json:"role"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if err := s.service.ChangeMemberRole(r.Context(), session, orgID, userID, body.Role); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			case http.MethodDelete:
				if err := s.service.RemoveMember(r.Context(), session, orgID, userID); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
	case "invitations":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				invitations, err := s.service.ListInvitations(r.Context(), session, orgID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"invitations": invitationsJSON(invitations)})
			case http.MethodPost:
				var body struct {
					Email string `json:"email"`
					Role  string `json:"role"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				invitation, token, err := s.service.CreateInvitation(r.Context(), session, orgID, body.Email, body.Role)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				payload := invitationJSON(invitation)
				if token != "" {
					payload["token"] = token
				}
				writeJSON(w, http.StatusCreated, payload)
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
		if len(rest) == 2 && r.Method == http.MethodDelete {
			if err := s.service.RevokeInvitation(r.Context(), session, orgID, rest[1]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	case "subscription":
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				subscription, err := s.service.GetSubscription(r.Context(), session, orgID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, subscriptionJSON(subscription))
			case http.MethodPut:
				var body struct {
					Plan             string     `json:"plan"`
					Status           string     `json:"status"`
					SeatLimit        int        `json:"seatLimit"`
					CurrentPeriodEnd *time.Time `json:"currentPeriodEnd"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				subscription, err := s.service.UpdateSubscription(r.Context(), session, orgID, body.Plan, body.Status, body.SeatLimit, body.CurrentPeriodEnd)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, subscriptionJSON(subscription))
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleGalleries(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			galleries, err := s.service.ListGalleries(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"galleries": galleriesJSON(galleries)})
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Visibility  string `json:"visibility"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			gallery, err := s.service.CreateGallery(r.Context(), session, body.Name, body.Description, body.Visibility)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, galleryJSON(gallery))
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	galleryID := parts[0]
	rest := parts[1:]

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			gallery, err := s.service.GetGallery(r.Context(), session, galleryID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, galleryJSON(gallery))
		case http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
				Visibility  string `json:"visibility"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			gallery, err := s.service.UpdateGallery(r.Context(), session, galleryID, body.Name, body.Description, body.Visibility)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, galleryJSON(gallery))
		case http.MethodDelete:
			if err := s.service.DeleteGallery(r.Context(), session, galleryID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if rest[0] == "processors" {
		if len(rest) == 1 {
			switch r.Method {
			case http.MethodGet:
				processors, err := s.service.ListGalleryProcessors(r.Context(), session, galleryID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"processors": processorsJSON(processors)})
			case http.MethodPost:
				var body struct {
					ProcessorID string `json:"processorId"`
				}
				if err := decodeBody(r, &body); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return
				}
				if err := s.service.AddGalleryProcessor(r.Context(), session, galleryID, body.ProcessorID); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			default:
				writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			}
			return
		}
		if len(rest) == 2 && r.Method == http.MethodDelete {
			if err := s.service.RemoveGalleryProcessor(r.Context(), session, galleryID, rest[1]); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			documents, err := s.service.ListDocuments(r.Context(), session)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": documentsJSON(documents)})
		case http.MethodPost:
			s.handleDocumentUpload(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	documentID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			document, err := s.service.GetDocument(r.Context(), session, documentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, documentJSON(document))
		case http.MethodDelete:
			if err := s.service.DeleteDocument(r.Context(), session, documentID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "download" && r.Method == http.MethodGet {
		document, reader, err := s.service.DownloadDocument(r.Context(), session, documentID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		defer reader.Close()
		w.Header().Set("Content-Type", document.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", document.Name))
		_, _ = io.Copy(w, reader)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

const maxUploadBytes = 64 << 20

func (s *HTTPServer) handleDocumentUpload(w http.ResponseWriter, r *http.Request, session Session) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart field \"file\" is required", nil)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	document, err := s.service.UploadDocument(r.Context(), session, header.Filename, mimeType, header.Size, file)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, documentJSON(document))
}

func (s *HTTPServer) handleRuns(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 1 && r.Method == http.MethodGet {
		run, err := s.service.GetRun(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, runJSON(run))
		return
	}
	if len(parts) == 2 && parts[1] == "results" && r.Method == http.MethodGet {
		results, err := s.service.ListRunResults(r.Context(), session, parts[0])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": resultsJSON(results)})
		return
	}
	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
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

		if s.service.metrics != nil {
			s.service.metrics.HTTPInFlight.Inc()
		}
		next.ServeHTTP(writer, r)

		duration := time.Since(started)
		if s.service.metrics != nil {
			s.service.metrics.HTTPInFlight.Dec()
			s.service.metrics.RecordHTTPRequest(r.Method, strconv.Itoa(writer.status), duration)
		}
		s.service.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Dur("duration", duration).
			Msg("http request")
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
	header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
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

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
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
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionJSON(session Session) map[string]any {
	return map[string]any{
		"token":          session.Token,
		"refreshToken":   session.RefreshToken,
		"userId":         session.UserID,
		"userName":       session.UserName,
		"email":          session.Email,
		"organizationId": session.OrgID,
		"role":           session.Role,
		"expiresAt":      session.ExpiresAt,
	}
}

func orgJSON(org store.Organization) map[string]any {
	return map[string]any{
		"id":          org.ID,
		"name":        org.Name,
		"slug":        org.Slug,
		"description": org.Description,
		"createdAt":   org.CreatedAt,
		"updatedAt":   org.UpdatedAt,
	}
}

func orgsJSON(orgs []store.Organization) []map[string]any {
	items := make([]map[string]any, 0, len(orgs))
	for _, org := range orgs {
		items = append(items, orgJSON(org))
	}
	return items
}

func membersJSON(members []store.Member) []map[string]any {
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, map[string]any{
			"userId":      member.UserID,
			"email":       member.Email,
			"displayName": member.DisplayName,
			"role":        member.Role,
			"joinedAt":    member.CreatedAt,
		})
	}
	return items
}

func invitationJSON(invitation store.Invitation) map[string]any {
	return map[string]any{
		"id":         invitation.ID,
		"email":      invitation.Email,
		"role":       invitation.Role,
		"expiresAt":  invitation.ExpiresAt,
		"acceptedAt": invitation.AcceptedAt,
		"createdAt":  invitation.CreatedAt,
	}
}

func invitationsJSON(invitations []store.Invitation) []map[string]any {
	items := make([]map[string]any, 0, len(invitations))
	for _, invitation := range invitations {
		items = append(items, invitationJSON(invitation))
	}
	return items
}

func subscriptionJSON(subscription store.Subscription) map[string]any {
	return map[string]any{
		"id":               subscription.ID,
		"plan":             subscription.Plan,
		"status":           subscription.Status,
		"seatLimit":        subscription.SeatLimit,
		"currentPeriodEnd": subscription.CurrentPeriodEnd,
	}
}

func galleryJSON(gallery store.Gallery) map[string]any {
	return map[string]any{
		"id":          gallery.ID,
		"name":        gallery.Name,
		"description": gallery.Description,
		"visibility":  gallery.Visibility,
		"createdAt":   gallery.CreatedAt,
		"updatedAt":   gallery.UpdatedAt,
	}
}

func galleriesJSON(galleries []store.Gallery) []map[string]any {
	items := make([]map[string]any, 0, len(galleries))
	for _, gallery := range galleries {
		items = append(items, galleryJSON(gallery))
	}
	return items
}

func documentJSON(document store.Document) map[string]any {
	return map[string]any{
		"id":        document.ID,
		"name":      document.Name,
		"sizeBytes": document.SizeBytes,
		"mimeType":  document.MimeType,
		"createdAt": document.CreatedAt,
	}
}

func documentsJSON(documents []store.Document) []map[string]any {
	items := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		items = append(items, documentJSON(document))
	}
	return items
}

func runJSON(run store.Run) map[string]any {
	return map[string]any{
		"id":                  run.ID,
		"processorId":         run.ProcessorID,
		"snapshotId":          run.SnapshotID,
		"documentId":          run.DocumentID,
		"status":              run.Status,
		"totalOperations":     run.TotalOperations,
		"completedOperations": run.CompletedOperations,
		"failedOperations":    run.FailedOperations,
		"startedAt":           run.StartedAt,
		"completedAt":         run.CompletedAt,
		"createdAt":           run.CreatedAt,
	}
}

func runsJSON(items []store.Run) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, run := range items {
		out = append(out, runJSON(run))
	}
	return out
}

func resultsJSON(results []store.OperationResult) []map[string]any {
	items := make([]map[string]any, 0, len(results))
	for _, result := range results {
		items = append(items, map[string]any{
			"id":            result.ID,
			"operationId":   result.OperationID,
			"operationName": result.OperationName,
			"operationType": result.OperationType,
			"status":        result.Status,
			"output":        result.Output,
			"errorMessage":  result.ErrorMessage,
			"createdAt":     result.CreatedAt,
		})
	}
	return items
}
