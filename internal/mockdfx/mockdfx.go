// Package mockdfx is an in-process DFX server speaking the REST
// endpoints and the framed websocket sub-protocol the client uses. It
// backs the integration tests and the dfx-mock command; it is not a
// production server.
//
// Result payloads are loopback: every uploaded chunk payload is echoed
// to the active subscription as one result chunk.
package mockdfx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deepaffex/dfx/pkg/protocol"
)

// Server simulates one DFX deployment.
type Server struct {
	// LicenseKey is the accepted license. Empty accepts any key.
	LicenseKey string

	// MaxChunksPerMeasurement closes a measurement after this many
	// chunks, forcing the client to rotate. Zero means unlimited.
	MaxChunksPerMeasurement int

	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu           sync.Mutex
	users        map[string]string // email -> password
	userTokens   map[string]string // token -> email
	deviceTokens map[string]bool
	measurements map[string]*measurementState
	counter      int

	// pending holds uploaded payloads not yet streamed to a subscriber.
	pending [][]byte
	sub     *subscription
}

type measurementState struct {
	chunks int
	closed bool
}

type subscription struct {
	conn      *websocket.Conn
	writeMu   *sync.Mutex
	requestID string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a mock server.
func New(opts ...Option) *Server {
	s := &Server{
		logger:       slog.Default(),
		users:        make(map[string]string),
		userTokens:   make(map[string]string),
		deviceTokens: make(map[string]bool),
		measurements: make(map[string]*measurementState),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the REST and websocket routes. The websocket endpoint
// is mounted at /ws so one listener can serve both.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/organizations/licenses", s.registerLicense)
	r.Post("/users", s.createUser)
	r.Post("/users/auth", s.loginUser)
	r.Post("/measurements", s.createMeasurement)
	r.Get("/measurements/{measurementID}", s.retrieveMeasurement)
	r.Post("/measurements/{measurementID}/data", s.addData)
	r.Get("/ws", s.websocketLoop)

	return r
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (s *Server) registerLicense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"Key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Code": "BAD_REQUEST"})
		return
	}
	if s.LicenseKey != "" && req.Key != s.LicenseKey {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"Code":    "LICENSE_INVALID",
			"Message": "license key not valid for this server",
		})
		return
	}

	token := "device-" + uuid.NewString()
	s.mu.Lock()
	s.deviceTokens[token] = true
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"Token": token})
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	if !s.validDeviceToken(bearerToken(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_TOKEN"})
		return
	}
	var req struct {
		Email    string `json:"Email"`
		Password string `json:"Password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Code": "BAD_REQUEST"})
		return
	}

	s.mu.Lock()
	s.users[req.Email] = req.Password
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"ID": "user-" + uuid.NewString()})
}

func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	if !s.validDeviceToken(bearerToken(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_TOKEN"})
		return
	}
	var req struct {
		Email    string `json:"Email"`
		Password string `json:"Password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Code": "BAD_REQUEST"})
		return
	}

	s.mu.Lock()
	password, known := s.users[req.Email]
	s.mu.Unlock()

	// Unknown user is a 200 with a code, matching the real server.
	if !known {
		writeJSON(w, http.StatusOK, map[string]string{"Code": "INVALID_USER"})
		return
	}
	if password != req.Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_PASSWORD"})
		return
	}

	token := "user-" + uuid.NewString()
	s.mu.Lock()
	s.userTokens[token] = req.Email
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"Token": token})
}

func (s *Server) createMeasurement(w http.ResponseWriter, r *http.Request) {
	if !s.validUserToken(bearerToken(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_TOKEN"})
		return
	}

	s.mu.Lock()
	s.counter++
	id := fmt.Sprintf("measurement-%04d", s.counter)
	s.measurements[id] = &measurementState{}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"ID": id})
}

func (s *Server) retrieveMeasurement(w http.ResponseWriter, r *http.Request) {
	if !s.validUserToken(bearerToken(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_TOKEN"})
		return
	}
	id := chi.URLParam(r, "measurementID")

	s.mu.Lock()
	m, ok := s.measurements[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"Code": "MEASUREMENT_NOT_FOUND"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ID":             id,
		"StatusID":       "COMPLETE",
		"ChunksReceived": m.chunks,
	})
}

func (s *Server) addData(w http.ResponseWriter, r *http.Request) {
	if !s.validUserToken(bearerToken(r)) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"Code": "INVALID_TOKEN"})
		return
	}
	id := chi.URLParam(r, "measurementID")
	var req struct {
		Payload string `json:"Payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Code": "BAD_REQUEST"})
		return
	}

	// REST payloads arrive base64-encoded.
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"Code": "BAD_REQUEST"})
		return
	}

	if !s.acceptChunk(id) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
			"Code":    "MEASUREMENT_CLOSED",
			"Message": "measurement duration exhausted",
		})
		return
	}
	s.queueResult(payload)
	writeJSON(w, http.StatusOK, map[string]string{"ID": id})
}

func (s *Server) validDeviceToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceTokens[token]
}

func (s *Server) validUserToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.userTokens[token]
	return ok
}

// acceptChunk counts a chunk against the measurement's window and
// reports whether it was accepted. Unknown measurements are accepted so
// websocket-only runs need no REST create first.
func (s *Server) acceptChunk(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.measurements[id]
	if !ok {
		m = &measurementState{}
		s.measurements[id] = m
	}
	if m.closed {
		return false
	}
	m.chunks++
	if s.MaxChunksPerMeasurement > 0 && m.chunks >= s.MaxChunksPerMeasurement {
		m.closed = true
	}
	return true
}

// queueResult hands a payload to the subscriber, or parks it until one
// arrives.
func (s *Server) queueResult(payload []byte) {
	s.mu.Lock()
	sub := s.sub
	if sub == nil {
		s.pending = append(s.pending, payload)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.sendResult(sub, payload)
}

func (s *Server) sendResult(sub *subscription, payload []byte) {
	msg := append([]byte(sub.requestID), []byte("200")...)
	msg = append(msg, payload...)

	sub.writeMu.Lock()
	defer sub.writeMu.Unlock()
	if err := sub.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		s.logger.Error("write result chunk", "error", err)
	}
}

// websocketLoop speaks the framed sub-protocol: add-data frames are
// acked and their payloads echoed as result chunks; a subscribe frame
// starts the result stream.
func (s *Server) websocketLoop(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()
	writeMu := &sync.Mutex{}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Error("websocket read", "error", err)
			}
			s.dropSubscription(conn)
			return
		}
		if len(msg) < protocol.FrameHeaderSize {
			continue
		}
		action, requestID, body, err := protocol.DecodeFrame(msg)
		if err != nil {
			continue
		}

		switch action {
		case protocol.ActionAddData:
			s.handleAddData(conn, writeMu, requestID, body)
		case protocol.ActionSubscribeResults:
			s.handleSubscribe(conn, writeMu, requestID)
		default:
			s.logger.Warn("unknown action", "action", action)
		}
	}
}

func (s *Server) handleAddData(conn *websocket.Conn, writeMu *sync.Mutex, requestID string, body []byte) {
	req, err := protocol.UnmarshalDataRequest(body)
	if err != nil {
		s.writeStatus(conn, writeMu, requestID, "400", `{"Code":"BAD_REQUEST"}`)
		return
	}

	if !s.acceptChunk(req.MeasurementID) {
		s.writeStatus(conn, writeMu, requestID, "405", `{"Code":"MEASUREMENT_CLOSED"}`)
		return
	}
	s.writeStatus(conn, writeMu, requestID, "200", `{"Code":"OK"}`)
	s.queueResult(req.Payload)
}

func (s *Server) handleSubscribe(conn *websocket.Conn, writeMu *sync.Mutex, requestID string) {
	// Confirmation is exactly 13 bytes: the sender ID plus the status.
	writeMu.Lock()
	msg := append([]byte(requestID), []byte("200")...)
	err := conn.WriteMessage(websocket.BinaryMessage, msg)
	writeMu.Unlock()
	if err != nil {
		s.logger.Error("write subscribe status", "error", err)
		return
	}

	s.mu.Lock()
	s.sub = &subscription{conn: conn, writeMu: writeMu, requestID: requestID}
	backlog := s.pending
	s.pending = nil
	sub := s.sub
	s.mu.Unlock()

	for _, payload := range backlog {
		s.sendResult(sub, payload)
	}
}

func (s *Server) dropSubscription(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil && s.sub.conn == conn {
		s.sub = nil
	}
}

// writeStatus sends an add-data status message. Status bodies are kept
// short so the message stays in the 14..60 byte class.
func (s *Server) writeStatus(conn *websocket.Conn, writeMu *sync.Mutex, requestID, status, body string) {
	msg := append([]byte(requestID), []byte(status)...)
	msg = append(msg, []byte(body)...)

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		s.logger.Error("write status", "error", err)
	}
}
