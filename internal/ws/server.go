package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/meshportal/backend/internal/config"
	"github.com/meshportal/backend/internal/discovery"
	"github.com/meshportal/backend/internal/errdefs"
	"github.com/meshportal/backend/internal/session"
	"github.com/meshportal/backend/internal/transport"
)

// Server is the request router: it maps the HTTP/WebSocket surface onto
// Session Manager and Correlator calls and shapes the responses.
type Server struct {
	cfg             *config.Config
	mgr             *session.Manager
	correlator      *session.Correlator
	broadcaster     *Broadcaster
	browser         *discovery.Browser
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string
}

func NewServer(cfg *config.Config, mgr *session.Manager, correlator *session.Correlator, broadcaster *Broadcaster, browser *discovery.Browser, frontendDir string, dev bool, embeddedHandler http.Handler) *Server {
	s := &Server{
		cfg:             cfg,
		mgr:             mgr,
		correlator:      correlator,
		broadcaster:     broadcaster,
		browser:         browser,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       cfg.Server.AuthToken,
	}

	for _, origin := range cfg.WS.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/status", s.handleStatus)
		r.Post("/connect", s.handleConnect)
		r.Post("/disconnect", s.handleDisconnect)

		r.Get("/contacts", s.handleContacts)
		r.Post("/contacts/reset-path", s.handleResetPath)
		r.Get("/contacts/{publicKey}/telemetry", s.handleTelemetry)

		r.Get("/channels", s.handleChannelList)
		r.Post("/channels", s.handleSetChannel)

		r.Get("/device", s.handleDeviceInfo)
		r.Get("/stats", s.handleStats)
		r.Post("/device/settings", s.handleSettings)
		r.Post("/device/time", s.handleDeviceTime)

		r.Post("/send", s.handleSend)
		r.Post("/remote/command", s.handleRemoteCommand)

		r.Get("/serial/ports", s.handleSerialPorts)
		r.Get("/discover", s.handleDiscover)
		r.Get("/server", s.handleServerInfo)
	})

	r.Get("/ws", s.handleWS)
	r.Handle("/metrics", promhttp.Handler())

	if s.dev {
		log.Info().Str("dir", s.frontendDir).Msg("serving frontend from filesystem")
		r.Handle("/*", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		log.Info().Msg("serving embedded frontend")
		r.Handle("/*", s.embeddedHandler)
	}

	return r
}

// ---- connection lifecycle ----

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Status())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var spec transport.Spec
	if !decodeBody(w, r, &spec) {
		return
	}
	status, err := s.mgr.Connect(r.Context(), spec)
	if err != nil {
		metricConnects.WithLabelValues(string(errdefs.KindOf(err))).Inc()
		writeError(w, err)
		return
	}
	metricConnects.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"self_info": status.SelfInfo,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.mgr.Disconnect(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---- contacts ----

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := s.mgr.Contacts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (s *Server) handleResetPath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PublicKey string `json:"public_key"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.mgr.ResetPath(r.Context(), req.PublicKey); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	publicKey := chi.URLParam(r, "publicKey")
	report, err := s.mgr.Telemetry(r.Context(), publicKey)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ---- channels ----

func (s *Server) handleChannelList(w http.ResponseWriter, r *http.Request) {
	channels, err := s.mgr.Channels(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChannelIdx int    `json:"channel_idx"`
		Name       string `json:"name"`
		Secret     string `json:"secret"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.mgr.SetChannel(r.Context(), req.ChannelIdx, req.Name, req.Secret); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---- device ----

func (s *Server) handleDeviceInfo(w http.ResponseWriter, r *http.Request) {
	report, err := s.mgr.DeviceInfo(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mgr.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	var settings session.Settings
	if !decodeBody(w, r, &settings) {
		return
	}
	results, err := s.mgr.UpdateSettings(r.Context(), settings)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "results": results})
}

func (s *Server) handleDeviceTime(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Timestamp int64 `json:"timestamp"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	deviceTime, err := s.mgr.SetDeviceTime(r.Context(), req.Timestamp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "time": deviceTime})
}

// ---- messaging ----

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req session.SendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	receipt, err := s.correlator.Send(r.Context(), req)
	if err != nil {
		kind := errdefs.KindOf(err)
		metricSends.WithLabelValues(string(kind)).Inc()
		if kind == errdefs.KindTimeout && receipt != nil {
			// The token still reaches the caller so a late ack
			// broadcast can be correlated.
			writeJSON(w, http.StatusGatewayTimeout, map[string]any{
				"error":        string(kind),
				"message":      errdefs.MessageOf(err),
				"expected_ack": receipt.ExpectedAck,
				"attempts":     receipt.Attempts,
			})
			return
		}
		writeError(w, err)
		return
	}
	metricSends.WithLabelValues("success").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"expected_ack": receipt.ExpectedAck,
		"attempts":     receipt.Attempts,
	})
}

func (s *Server) handleRemoteCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target  string `json:"target"`
		Command string `json:"command"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.mgr.RemoteCommand(r.Context(), req.Target, req.Command); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ---- host-side helpers ----

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ports": transport.ListSerialPorts()})
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	timeout := s.cfg.Discovery.Timeout
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 || secs > 30 {
			writeError(w, errdefs.InvalidRequest("timeout must be 1..30 seconds"))
			return
		}
		timeout = time.Duration(secs) * time.Second
	}
	devices, err := s.browser.Browse(r.Context(), timeout)
	if err != nil {
		log.Warn().Err(err).Msg("mdns browse failed")
		writeJSON(w, http.StatusOK, map[string]any{"devices": []discovery.Device{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": devices})
}

// handleServerInfo reports the bridge host's own health, distinct from
// device stats.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	info := make(map[string]any)
	if hi, err := host.InfoWithContext(r.Context()); err == nil {
		info["hostname"] = hi.Hostname
		info["os"] = hi.OS
		info["platform"] = hi.Platform
		info["uptime_seconds"] = hi.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(r.Context()); err == nil {
		info["memory_total"] = vm.Total
		info["memory_used_percent"] = vm.UsedPercent
	}
	if avg, err := load.AvgWithContext(r.Context()); err == nil {
		info["load1"] = avg.Load1
	}
	info["ws_clients"] = s.broadcaster.ClientCount()
	writeJSON(w, http.StatusOK, info)
}

// ---- websocket ----

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	cl := s.broadcaster.AddClient(wsConn)
	s.broadcaster.SendTo(cl, session.FrameStatus, s.mgr.Status())

	go func() {
		defer s.broadcaster.RemoveClient(cl)
		for {
			_, data, err := wsConn.ReadMessage()
			if err != nil {
				return
			}
			var cmd clientCommand
			if err := json.Unmarshal(data, &cmd); err != nil {
				continue
			}
			if cmd.Type == "ping" {
				s.broadcaster.SendTo(cl, session.FramePong, nil)
			}
		}
	}()
}

// ---- plumbing ----

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":   "unauthorized",
				"message": "missing or invalid token",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-MeshBridge-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	originHost := parsed.Host
	if originHost == r.Host {
		return true
	}
	for _, local := range []string{"localhost", "127.0.0.1", "[::1]", "::1"} {
		if originHost == local || strings.HasPrefix(originHost, local+":") {
			return true
		}
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, errdefs.InvalidRequest("malformed request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}

var kindStatus = map[errdefs.Kind]int{
	errdefs.KindInvalidRequest:   http.StatusBadRequest,
	errdefs.KindAlreadyConnected: http.StatusConflict,
	errdefs.KindNotConnected:     http.StatusBadRequest,
	errdefs.KindNotFound:         http.StatusNotFound,
	errdefs.KindConnectFailed:    http.StatusBadGateway,
	errdefs.KindDeviceError:      http.StatusBadGateway,
	errdefs.KindTimeout:          http.StatusGatewayTimeout,
	errdefs.KindTransportError:   http.StatusBadGateway,
}

func writeError(w http.ResponseWriter, err error) {
	kind := errdefs.KindOf(err)
	status, ok := kindStatus[kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, map[string]any{
		"error":   string(kind),
		"message": errdefs.MessageOf(err),
	})
}

// ListenAndServe runs the HTTP server on host:port.
func ListenAndServe(hostAddr string, port int, handler http.Handler) error {
	addr := fmt.Sprintf("%s:%d", hostAddr, port)
	log.Info().Str("addr", addr).Msg("server listening")
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}
