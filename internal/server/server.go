package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"upres/internal/pipeline"
	"upres/internal/storage"
)

// Server exposes the evaluation pipeline and score store over HTTP, with a
// server-sent-event stream and a websocket hub for live results.
type Server struct {
	addr     string
	store    *storage.Store
	pipeline *pipeline.Pipeline
	log      *slog.Logger
	server   *http.Server
	hub      *resultHub
}

// New creates a Server bound to addr.
func New(addr string, store *storage.Store, pipe *pipeline.Pipeline, log *slog.Logger) *Server {
	return &Server{
		addr:     addr,
		store:    store,
		pipeline: pipe,
		log:      log,
		hub:      newResultHub(log),
	}
}

// Start runs the server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run(ctx)
	go s.feedHub(ctx)

	r := mux.NewRouter()
	s.setupRoutes(r)

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		s.log.Info("shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(ctxShutdown)
	}()

	s.log.Info("server starting", "addr", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) setupRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	r.HandleFunc("/jobs", s.handleJobs).Methods("GET")
	r.HandleFunc("/jobs", s.handleSubmit).Methods("POST")
	r.HandleFunc("/scores", s.handleScores).Methods("GET")
	r.HandleFunc("/scores/{key}", s.handleScoresForKey).Methods("GET")
	r.HandleFunc("/stream", s.handleJobStream).Methods("GET")
	r.HandleFunc("/ws", s.hub.handleWebSocket).Methods("GET")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentJobs(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(recs)
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	Type      string         `json:"type"`
	InputPath string         `json:"inputPath"`
	Output    string         `json:"output"`
	Options   map[string]any `json:"options"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	jobType := pipeline.JobType(req.Type)
	switch jobType {
	case pipeline.JobEvaluate, pipeline.JobDegrade, pipeline.JobScan:
	default:
		http.Error(w, fmt.Sprintf("unknown job type %q", req.Type), http.StatusBadRequest)
		return
	}

	job := pipeline.Job{
		ID:        fmt.Sprintf("%s-%d", req.Type, time.Now().UnixNano()),
		Type:      jobType,
		InputPath: req.InputPath,
		Output:    req.Output,
		Options:   req.Options,
	}
	if job.Options == nil {
		job.Options = map[string]any{}
	}
	if err := s.pipeline.Submit(job); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"id": job.ID, "status": "queued"})
}

func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.RecentScores(100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeScores(w, recs)
}

func (s *Server) handleScoresForKey(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	recs, err := s.store.ScoresForKey(key, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeScores(w, recs)
}

// scorePayload mirrors storage.ScoreRecord with JSON-safe PSNR values.
type scorePayload struct {
	JobID      string       `json:"jobId"`
	ImageKey   string       `json:"imageKey"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	Before     scoreTripleP `json:"before"`
	After      scoreTripleP `json:"after"`
	OutputPath string       `json:"outputPath,omitempty"`
	DurationMS int64        `json:"durationMs"`
	CreatedAt  time.Time    `json:"createdAt"`
}

type scoreTripleP struct {
	PSNR any     `json:"psnr"`
	MSE  float64 `json:"mse"`
	SSIM float64 `json:"ssim"`
}

func (s *Server) writeScores(w http.ResponseWriter, recs []storage.ScoreRecord) {
	payload := make([]scorePayload, 0, len(recs))
	for _, rec := range recs {
		payload = append(payload, scorePayload{
			JobID:    rec.JobID,
			ImageKey: rec.ImageKey,
			Width:    rec.Width,
			Height:   rec.Height,
			Before: scoreTripleP{
				PSNR: jsonPSNR(rec.Before.PSNR), MSE: rec.Before.MSE, SSIM: rec.Before.SSIM,
			},
			After: scoreTripleP{
				PSNR: jsonPSNR(rec.After.PSNR), MSE: rec.After.MSE, SSIM: rec.After.SSIM,
			},
			OutputPath: rec.OutputPath,
			DurationMS: rec.Duration.Milliseconds(),
			CreatedAt:  rec.CreatedAt,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func jsonPSNR(v float64) any {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return "inf"
	}
	return v
}

// resultPayload is the wire form of a pipeline result; errors become strings.
type resultPayload struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Error string         `json:"error,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func marshalResult(res pipeline.Result) []byte {
	payload := resultPayload{
		ID:   res.Job.ID,
		Type: string(res.Job.Type),
		Meta: res.Meta,
	}
	if res.Error != nil {
		payload.Error = res.Error.Error()
	}
	b, _ := json.Marshal(payload)
	return b
}

func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-r.Context().Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: " + string(marshalResult(res)) + "\n\n"))
			flusher.Flush()
		}
	}
}

// feedHub forwards pipeline results to the websocket hub.
func (s *Server) feedHub(ctx context.Context) {
	resCh, unsubscribe := s.pipeline.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-resCh:
			if !ok {
				return
			}
			s.hub.send(marshalResult(res))
		}
	}
}
