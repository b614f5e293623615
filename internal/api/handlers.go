package api

import (
	"encoding/json"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/moderation"
	"github.com/npezzotti/go-chatrelay/internal/report"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

const (
	msgMissingFields      = "Missing required fields"
	msgInvalidUsername    = "Invalid username. Use 2-20 characters, letters, numbers, and underscores only."
	msgUserBanned         = "User is banned from the chat."
	msgIncorrectAnswer    = "Incorrect answer. Please try again."
	msgVerified           = "Verification successful!"
	msgUnauthorized       = "Unauthorized"
	msgReportSubmitted    = "Report submitted successfully"
	msgReportNotSubmitted = "Report could not be submitted"
)

type VerifyRequest struct {
	Username  string `json:"username"`
	Answer    string `json:"answer"`
	SessionId string `json:"session_id"`
}

type ReportRequest struct {
	ReportedUser    string `json:"reported_user"`
	Reason          string `json:"reason"`
	Description     string `json:"description"`
	ReporterSession string `json:"reporter_session"`
}

// Result is the body returned by the verification and report endpoints.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *ChatRelayApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *ChatRelayApp) writeResult(w http.ResponseWriter, statusCode int, message string) {
	s.writeJson(w, statusCode, Result{
		Success: statusCode == http.StatusOK,
		Message: message,
	})
}

func (s *ChatRelayApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatRelayApp) favicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatRelayApp) verificationQuestion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	s.writeJson(w, http.StatusOK, s.gate.IssueChallenge())
}

func (s *ChatRelayApp) verifyUser(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Username == "" || req.Answer == "" || req.SessionId == "" {
		s.writeResult(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	username := moderation.Sanitize(req.Username)
	if !s.cs.ValidUsername(username) {
		s.writeResult(w, http.StatusBadRequest, msgInvalidUsername)
		return
	}

	if s.cs.IsBanned(username) {
		s.log.Printf("verification refused for banned user %q", username)
		s.writeResult(w, http.StatusForbidden, msgUserBanned)
		return
	}

	if !s.gate.CheckAnswer(req.Answer) {
		s.log.Printf("verification failed for %q", username)
		s.writeResult(w, http.StatusBadRequest, msgIncorrectAnswer)
		return
	}

	s.gate.MarkVerified(req.SessionId)
	s.log.Printf("session verified for %q", username)
	s.writeResult(w, http.StatusOK, msgVerified)
}

func (s *ChatRelayApp) submitReport(w http.ResponseWriter, r *http.Request) {
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	reported := moderation.Sanitize(req.ReportedUser)
	reason := moderation.Sanitize(req.Reason)
	if reported == "" || reason == "" || req.ReporterSession == "" {
		s.writeResult(w, http.StatusBadRequest, msgMissingFields)
		return
	}

	if !s.gate.IsVerified(req.ReporterSession) {
		s.writeResult(w, http.StatusForbidden, msgUnauthorized)
		return
	}

	if _, err := s.reports.Add(report.Report{
		ReportedUser:    reported,
		Reason:          reason,
		Description:     moderation.Sanitize(req.Description),
		ReporterSession: req.ReporterSession,
	}); err != nil {
		s.log.Printf("add report: %v", err)
		s.writeResult(w, http.StatusInternalServerError, msgReportNotSubmitted)
		return
	}

	s.stats.Incr(stats.Reports)
	s.writeResult(w, http.StatusOK, msgReportSubmitted)
}

func (s *ChatRelayApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, "*") || slices.Contains(s.allowedOrigins, origin)
}

func (s *ChatRelayApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := server.NewClient(conn, s.cs, s.log)
	if err != nil {
		s.log.Println("error creating client:", err)
		conn.Close()
		return
	}

	if err := s.cs.RegisterClient(client); err != nil {
		s.log.Println("error registering client:", err)
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}
