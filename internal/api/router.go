package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wonny/cyclebot/internal/api/handlers"
	"github.com/wonny/cyclebot/pkg/logger"
)

// Handlers bundles every endpoint group the router mounts
type Handlers struct {
	Scheduler *handlers.SchedulerHandler
	Ledger    *handlers.LedgerHandler
	Cycle     *handlers.CycleHandler
	Events    *handlers.EventsHandler // nil = no websocket stream
}

// NewRouter creates and configures the HTTP router
// ⭐ SSOT: 라우팅 설정은 이 함수에서만
func NewRouter(h Handlers, log *logger.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthCheckHandler).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()

	// 서브라우터도 405 를 직접 응답해야 함 (기본값은 404)
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowedHandler)

	// Scheduler
	api.HandleFunc("/status", h.Scheduler.GetStatus).Methods("GET")
	api.HandleFunc("/scheduler/start", h.Scheduler.Start).Methods("POST")
	api.HandleFunc("/scheduler/stop", h.Scheduler.Stop).Methods("POST")
	api.HandleFunc("/scheduler/run", h.Scheduler.RunOnce).Methods("POST")
	api.HandleFunc("/scheduler/interval", h.Scheduler.SetInterval).Methods("PUT")

	// Ledger
	api.HandleFunc("/investments", h.Ledger.ListInvestments).Methods("GET")
	api.HandleFunc("/investments/{symbol}", h.Ledger.GetInvestment).Methods("GET")
	api.HandleFunc("/investments/{symbol}/boost", h.Ledger.Boost).Methods("POST")
	api.HandleFunc("/investments/{symbol}/target", h.Ledger.SetTarget).Methods("PUT")
	api.HandleFunc("/tombstones", h.Ledger.ListTombstones).Methods("GET")
	api.HandleFunc("/ledger/sync", h.Ledger.Sync).Methods("POST")

	// Profit target cycle
	api.HandleFunc("/cycle", h.Cycle.GetCycle).Methods("GET")
	api.HandleFunc("/cycle/reset", h.Cycle.Reset).Methods("POST")

	if h.Events != nil {
		api.HandleFunc("/events", h.Events.Stream).Methods("GET")
	}

	r.Use(loggingMiddleware(log))
	r.Use(recoveryMiddleware(log))

	return r
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "cyclebot",
	})
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]string{
		"error": "method " + r.Method + " not allowed",
	})
}

// statusRecorder captures the response code for request logs
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer to http.ResponseController
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func loggingMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// websocket 은 Hijacker 가 필요하므로 래핑하지 않음
			if websocketRequest(r) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			entry := log.WithFields(map[string]interface{}{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rec.status,
				"duration": time.Since(start),
			})
			if rec.status >= http.StatusInternalServerError {
				entry.Warn("HTTP request")
				return
			}
			entry.Debug("HTTP request")
		})
	}
}

func recoveryMiddleware(log *logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"error": err,
						"path":  r.URL.Path,
					}).Error("Panic recovered")

					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					json.NewEncoder(w).Encode(map[string]string{
						"error": "Internal server error",
					})
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

func websocketRequest(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}
