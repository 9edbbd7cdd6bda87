// Package api exposes the generation pipeline over HTTP. Report generation
// is asynchronous: submissions are accepted immediately, queued FIFO, and
// executed one at a time; clients poll for status and fetch the document when
// the run completes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draftforge/draftforge/pkg/pipeline"
	"github.com/draftforge/draftforge/pkg/plan"
	"github.com/draftforge/draftforge/pkg/progress"
	"github.com/draftforge/draftforge/pkg/store"
	"github.com/draftforge/draftforge/pkg/version"
)

// queueCapacity bounds how many submissions may wait behind the running one.
const queueCapacity = 16

// Runner executes one pipeline run. Satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, request string, kind plan.DocKind) (*pipeline.Result, error)
}

// RunStore persists run lifecycle. Satisfied by *store.Store, including a nil
// one: all its methods are nil-receiver no-ops.
type RunStore interface {
	CreateRun(ctx context.Context, id, request string) error
	DeleteRun(ctx context.Context, id string) error
	SetRunStatus(ctx context.Context, id string, status store.RunStatus) error
	CompleteRun(ctx context.Context, id string, meanQuality float64, document string) error
	FailRun(ctx context.Context, id, reason string) error
}

// report is the server-side state of one submission.
type report struct {
	ID        string
	Request   string
	DocKind   plan.DocKind
	Status    store.RunStatus
	Error     string
	Result    *pipeline.Result
	CreatedAt time.Time
}

// Server queues report requests and serves their results.
type Server struct {
	runner   Runner
	tracker  *progress.Tracker
	st       RunStore
	gatherer prometheus.Gatherer

	mu      sync.RWMutex
	reports map[string]*report

	queue chan string
	done  chan struct{}
	once  sync.Once
}

// NewServer creates a server and starts its single run worker. tracker feeds
// the live stage and counters of the in-flight run and may be nil; st may be
// nil (persistence disabled); gatherer may be nil (metrics endpoint
// disabled).
func NewServer(runner Runner, tracker *progress.Tracker, st RunStore, gatherer prometheus.Gatherer) *Server {
	if st == nil {
		st = (*store.Store)(nil)
	}
	s := &Server{
		runner:   runner,
		tracker:  tracker,
		st:       st,
		gatherer: gatherer,
		reports:  make(map[string]*report),
		queue:    make(chan string, queueCapacity),
		done:     make(chan struct{}),
	}
	go s.work()
	return s
}

// Close stops accepting work and waits for the worker to drain.
func (s *Server) Close() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}

// Engine builds the gin router.
func (s *Server) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", s.health)
	if s.gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := engine.Group("/api/v1")
	v1.POST("/reports", s.createReport)
	v1.GET("/reports/:id", s.getReport)
	v1.GET("/reports/:id/document", s.getDocument)

	return engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

// CreateReportRequest is the submission body. doc_kind is optional; when set
// it overrides the planner's classification.
type CreateReportRequest struct {
	Request string `json:"request" binding:"required"`
	DocKind string `json:"doc_kind"`
}

func (s *Server) createReport(c *gin.Context) {
	var req CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	kind := plan.DocKind(req.DocKind)
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown doc_kind: " + req.DocKind})
		return
	}

	r := &report{
		ID:        uuid.NewString(),
		Request:   req.Request,
		DocKind:   kind,
		Status:    store.StatusQueued,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.reports[r.ID] = r
	s.mu.Unlock()

	// Persist before admitting to the queue: the worker may pick the run up
	// immediately and must find its row already there.
	if err := s.st.CreateRun(c.Request.Context(), r.ID, r.Request); err != nil {
		slog.Warn("Failed to persist queued run", "report_id", r.ID, "error", err)
	}

	select {
	case s.queue <- r.ID:
	default:
		s.mu.Lock()
		delete(s.reports, r.ID)
		s.mu.Unlock()
		if err := s.st.DeleteRun(c.Request.Context(), r.ID); err != nil {
			slog.Warn("Failed to roll back rejected run", "report_id", r.ID, "error", err)
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "generation queue is full"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"report_id": r.ID, "status": store.StatusQueued})
}

func (s *Server) getReport(c *gin.Context) {
	r, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown report"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	body := gin.H{
		"report_id":  r.ID,
		"status":     r.Status,
		"created_at": r.CreatedAt,
	}
	if r.Status == store.StatusRunning && s.tracker != nil {
		snap := s.tracker.Summary()
		body["stage"] = s.tracker.CurrentStage()
		body["counters"] = gin.H{
			"llm_calls":         snap.LLMCalls,
			"retrieval_calls":   snap.RetrievalCalls,
			"snippets_gathered": snap.SnippetsGathered,
			"leaves_completed":  snap.LeavesCompleted,
		}
	}
	if r.Error != "" {
		body["error"] = r.Error
	}
	if r.Result != nil {
		body["stats"] = gin.H{
			"parts":              r.Result.Stats.Parts,
			"sections":           r.Result.Stats.Sections,
			"completed_sections": r.Result.Stats.CompletedSections,
			"total_chars":        r.Result.Stats.TotalChars,
			"mean_quality":       r.Result.Stats.MeanQuality,
		}
		failures := make([]gin.H, 0, len(r.Result.Summary.Failures))
		for _, f := range r.Result.Summary.Failures {
			failures = append(failures, gin.H{"stage": f.Stage, "leaf": f.LeafID, "reason": f.Reason})
		}
		body["summary"] = gin.H{
			"llm_calls":         r.Result.Summary.LLMCalls,
			"retrieval_calls":   r.Result.Summary.RetrievalCalls,
			"snippets_gathered": r.Result.Summary.SnippetsGathered,
			"failures":          failures,
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) getDocument(c *gin.Context) {
	r, ok := s.lookup(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown report"})
		return
	}

	s.mu.RLock()
	status, result := r.Status, r.Result
	s.mu.RUnlock()

	if status != store.StatusCompleted || result == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "report not completed", "status": status})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(result.Document))
}

func (s *Server) lookup(id string) (*report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	return r, ok
}

// work executes queued runs one at a time, in submission order.
func (s *Server) work() {
	defer close(s.done)
	for id := range s.queue {
		s.execute(id)
	}
}

func (s *Server) execute(id string) {
	s.mu.Lock()
	r, ok := s.reports[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	r.Status = store.StatusRunning
	request, kind := r.Request, r.DocKind
	s.mu.Unlock()

	ctx := context.Background()
	if err := s.st.SetRunStatus(ctx, id, store.StatusRunning); err != nil {
		slog.Warn("Failed to persist run status", "report_id", id, "error", err)
	}

	result, err := s.runner.Run(ctx, request, kind)

	s.mu.Lock()
	if err != nil {
		r.Status = store.StatusFailed
		r.Error = err.Error()
	} else {
		r.Status = store.StatusCompleted
		r.Result = result
	}
	s.mu.Unlock()

	if err != nil {
		slog.Error("Report generation failed", "report_id", id, "error", err)
		if serr := s.st.FailRun(ctx, id, err.Error()); serr != nil {
			slog.Warn("Failed to persist run failure", "report_id", id, "error", serr)
		}
		return
	}

	slog.Info("Report generation completed", "report_id", id, "run_id", result.RunID)
	if serr := s.st.CompleteRun(ctx, id, result.Stats.MeanQuality, result.Document); serr != nil {
		slog.Warn("Failed to persist completed run", "report_id", id, "error", serr)
	}
}

// ListenAndServe serves the API on addr until ctx is canceled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	slog.Info("API server listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.Close()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
