package dashboard

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"forward_bot/internal/logger"
	"forward_bot/internal/metrics"
	"forward_bot/internal/scheduler"
)

// StatusSource 面板依赖的只读查询
type StatusSource interface {
	GetStatus(ctx context.Context, ownerID int64) ([]scheduler.TaskStatus, error)
	GetStats(ctx context.Context) (*scheduler.Stats, error)
}

// Server 只读状态面板
type Server struct {
	source    StatusSource
	metrics   metrics.Provider
	startTime time.Time
	http      *http.Server
}

type healthResponse struct {
	Status        string  `json:"status"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	RunningTasks  int     `json:"running_tasks"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	OwnerID int64                  `json:"owner_id"`
	Tasks   []scheduler.TaskStatus `json:"tasks"`
}

// NewServer 创建面板服务器，metrics 为 nil 时不导出 /metrics
func NewServer(addr string, source StatusSource, m metrics.Provider) *Server {
	if m == nil {
		m = metrics.New(false)
	}
	s := &Server{
		source:    source,
		metrics:   m,
		startTime: time.Now(),
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler 路由：/api/* 经过指标中间件，/healthz 与 /metrics 不计入
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.Handle("/api/status", methodHandler(http.MethodGet, http.HandlerFunc(s.handleStatus)))
	api.Handle("/api/stats", methodHandler(http.MethodGet, http.HandlerFunc(s.handleStats)))

	mux := http.NewServeMux()
	mux.Handle("/healthz", methodHandler(http.MethodGet, http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/", metricsMiddleware(s.metrics, api))
	return mux
}

// Start 在后台监听，ctx 取消时关闭
func (s *Server) Start(ctx context.Context) {
	go func() {
		logger.L().Infof("Dashboard listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Errorf("Dashboard server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.L().Warnf("Dashboard shutdown error: %v", err)
		}
	}()
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	resp := healthResponse{
		Status:        "ok",
		Uptime:        scheduler.FormatDuration(uptime),
		UptimeSeconds: uptime.Seconds(),
	}
	if stats, err := s.source.GetStats(r.Context()); err == nil {
		resp.RunningTasks = stats.RunningTasks
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("owner_id")
	ownerID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ownerID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "owner_id is required"})
		return
	}

	tasks, err := s.source.GetStatus(r.Context(), ownerID)
	if err != nil {
		logger.L().Errorf("Dashboard status query failed: owner=%d, err=%v", ownerID, err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "status unavailable"})
		return
	}
	if tasks == nil {
		tasks = []scheduler.TaskStatus{}
	}
	writeJSON(w, http.StatusOK, statusResponse{OwnerID: ownerID, Tasks: tasks})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.source.GetStats(r.Context())
	if err != nil {
		logger.L().Errorf("Dashboard stats query failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func methodHandler(method string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
