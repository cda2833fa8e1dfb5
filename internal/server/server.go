package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"call-audit-go/internal/common"
	"call-audit-go/internal/dataset"
	"call-audit-go/internal/jobs"
	"call-audit-go/internal/logger"
	"call-audit-go/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	multipartMem = 32 << 20
)

// Server exposes the job API over HTTP.
type Server struct {
	svc      *Service
	store    JobStore
	events   *jobs.EventBus
	log      *logger.Logger
	maxBytes int64
	upload   time.Duration
	upgrader websocket.Upgrader
}

func New(svc *Service, store JobStore, events *jobs.EventBus, log *logger.Logger) *Server {
	return &Server{
		svc:      svc,
		store:    store,
		events:   events,
		log:      log.Component("http"),
		maxBytes: svc.maxBytes,
		upload:   svc.uploadTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Routes returns the API handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("POST /api/jobs", s.handleSubmit)
	mux.HandleFunc("GET /api/jobs", s.handleList)
	mux.HandleFunc("GET /api/jobs/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/jobs/{id}/result", s.handleResult)
	mux.HandleFunc("GET /api/jobs/{id}/export", s.handleExport)
	mux.HandleFunc("GET /api/jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancel)

	return s.withRequestID(mux)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", uuid.NewString())
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.WithRequest(r).WithField("duration_ms", time.Since(start).Milliseconds()).Debug("request handled")
	})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	reqLog := s.log.WithRequest(r).WithField("handler", "submit")

	// large recordings outlive the server-wide read timeout
	rc := http.NewResponseController(w)
	deadline := time.Now().Add(s.upload)
	_ = rc.SetReadDeadline(deadline)
	_ = rc.SetWriteDeadline(deadline.Add(wsWriteWait))

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+multipartMem)
	if err := r.ParseMultipartForm(multipartMem); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.writeError(w, r, common.NewValidationError("file", nil, "upload too large"))
			return
		}
		if isTimeout(err) {
			s.writeError(w, r, common.NewAppError("UPLOAD_TIMEOUT", "upload timed out before the file was received", common.ErrTimeout))
			return
		}
		s.writeError(w, r, common.NewValidationError("file", nil, "no file provided"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, common.NewValidationError("file", nil, "no file provided"))
		return
	}
	defer file.Close()

	job, err := s.svc.Submit(r.Context(), Submission{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
		Agent:       r.FormValue("agent"),
		Customer:    r.FormValue("customer"),
		Duration:    r.FormValue("duration"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reqLog.WithField("job_id", job.ID).Info("job submitted")
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": job.ID, "status": string(job.Status)})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListJobs(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]types.CallRecord, 0, len(list))
	for _, j := range list {
		out = append(out, types.NewCallRecord(j))
	}
	writeJSON(w, http.StatusOK, out)
}

// statusResponse is the status query shape.
type statusResponse struct {
	ID            string          `json:"id"`
	Status        types.JobStatus `json:"status"`
	ErrorMessage  string          `json:"error_message"`
	Progress      int             `json:"progress"`
	CurrentStep   string          `json:"current_step"`
	StatusMessage string          `json:"status_message"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		ID:            job.ID,
		Status:        job.Status,
		ErrorMessage:  job.ErrorMessage,
		Progress:      job.Progress,
		CurrentStep:   job.CurrentStep,
		StatusMessage: job.StatusMessage,
	})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	res, err := s.store.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := dataset.WriteResults(&buf, []types.JobResult{res}); err != nil {
		s.writeError(w, r, fmt.Errorf("export: %w", err))
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="call-%s.xlsx"`, res.Job.ID))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.log.WithRequest(r).WithError(err).Warn("failed to write export")
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.Cancel(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "cancelling"})
}

// handleEvents streams progress events for one job and closes after a terminal event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	reqLog := s.log.WithRequest(r).WithField("job_id", id)

	// drain client frames so control messages are processed and closes are seen
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	closeWith := func(reason string) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(wsWriteWait))
	}

	var seq int64
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	first := true
	for {
		changed := s.events.Changed()
		events, head, missed := s.events.Read(id, seq)
		for _, e := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				reqLog.WithError(err).Debug("event stream write failed")
				return
			}
			if e.Terminal() {
				closeWith(string(e.Status))
				return
			}
		}
		seq = max(seq, head)

		// the store is authoritative once the bus can no longer account for every event
		if first || missed {
			if latest, err := s.store.GetJob(r.Context(), id); err == nil {
				job = latest
			}
			if job.Status.Terminal() || missed {
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(snapshot(job)); err != nil {
					return
				}
			}
			if job.Status.Terminal() {
				closeWith(string(job.Status))
				return
			}
			first = false
		}

		select {
		case <-changed:
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func snapshot(j types.Job) jobs.Event {
	return jobs.Event{
		Timestamp: j.UpdatedAt,
		JobID:     j.ID,
		Status:    j.Status,
		Progress:  j.Progress,
		Step:      j.CurrentStep,
		Message:   j.StatusMessage,
		Error:     j.ErrorMessage,
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := common.HTTPStatus(err)
	msg := err.Error()
	var appErr *common.AppError
	var valErr *common.ValidationError
	switch {
	case errors.As(err, &valErr):
		msg = valErr.Message
	case errors.As(err, &appErr):
		msg = appErr.Message
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}

	entry := s.log.WithRequest(r).WithField("status", status)
	if status >= 500 {
		entry.WithField("error", err.Error()).Error("request failed")
	} else {
		entry.WithField("error", err.Error()).Info("request rejected")
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
