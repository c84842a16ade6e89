package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kubilitics/kubilitics-intel/internal/db"
	"github.com/kubilitics/kubilitics-intel/internal/orchestrator"
	"github.com/kubilitics/kubilitics-intel/internal/session"
)

type startRequest struct {
	Query string `json:"query"`
}

type respondRequest struct {
	Response string `json:"response"`
}

type listItem struct {
	SessionID       string         `json:"session_id"`
	Query           string         `json:"query"`
	Status          session.Status `json:"status"`
	ConfidenceScore float64        `json:"confidence_score"`
	EvidenceCount   int            `json:"evidence_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// cycleContext detaches a pipeline call from the request so a dropped
// client cannot fail or release a session halfway through a cycle.
func cycleContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleCreateInvestigation(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	sess, err := s.orch.Start(cycleContext(r), req.Query)
	if err != nil {
		if sess != nil {
			s.logger.Warn("investigation failed to start", zap.String("session_id", sess.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":   err.Error(),
				"session": sess,
			})
			return
		}
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session":    sess,
		"stream_url": fmt.Sprintf("/ws/investigations/%s", sess.ID),
	})
}

func (s *Server) handleListInvestigations(w http.ResponseWriter, r *http.Request) {
	all := s.orch.List()
	items := make([]listItem, 0, len(all))
	for _, sess := range all {
		items = append(items, listItem{
			SessionID:       sess.ID,
			Query:           sess.Query,
			Status:          sess.Status,
			ConfidenceScore: sess.Confidence,
			EvidenceCount:   len(sess.Evidence),
			CreatedAt:       sess.CreatedAt,
			UpdatedAt:       sess.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"investigations": items, "count": len(items)})
}

func (s *Server) handleGetInvestigation(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Get(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteInvestigation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.orch.Delete(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"session_id": id, "deleted": true})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	sess, err := s.orch.Respond(cycleContext(r), mux.Vars(r)["id"], req.Response)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.Report(cycleContext(r), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.orch.Summary(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleArchivedSessions(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is disabled")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	list, err := s.archive.Store().ListSessions(r.Context(), limit, offset)
	if err != nil {
		writeErr(w, err)
		return
	}
	if list == nil {
		list = []*db.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": list, "count": len(list)})
}

func (s *Server) handleArchivedReport(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is disabled")
		return
	}
	report, err := s.archive.LatestReport(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var nf *session.NotFoundError
	var ise *session.InvalidStateError
	switch {
	case errors.As(err, &nf), errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &ise):
		return http.StatusConflict
	case errors.Is(err, session.ErrEmptyQuery), errors.Is(err, orchestrator.ErrEmptyAnswer):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// byMethod routes one path by HTTP method and answers anything else with
// 405 and an Allow header.
type byMethod map[string]http.HandlerFunc

func (m byMethod) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h(w, r)
		return
	}
	allowed := make([]string, 0, len(m))
	for method := range m {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
