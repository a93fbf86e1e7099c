// Package monitor is the HTTP surface: a producer endpoint for
// enqueueing, schedule management, and read-only queries over tasks,
// groups, the queue and the cluster registry. It renders JSON only.
package monitor

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gorq/internal/broker"
	"gorq/internal/cluster"
	"gorq/internal/domain"
	"gorq/internal/producer"
	"gorq/internal/schedule"
	"gorq/internal/tasks"
)

type Server struct {
	tasks    *tasks.Store
	sched    *schedule.Store
	broker   *broker.Broker
	producer *producer.Producer
	liveness *cluster.Liveness
	queueKey string
}

func NewServer(ts *tasks.Store, ss *schedule.Store, b *broker.Broker, p *producer.Producer, lv *cluster.Liveness, queueKey string) http.Handler {
	s := &Server{tasks: ts, sched: ss, broker: b, producer: p, liveness: lv, queueKey: queueKey}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	r.Get("/health", s.health)

	r.Post("/api/tasks", s.pushTask)
	r.Get("/api/tasks", s.listTasks)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Get("/api/tasks/{id}/result", s.getResult)
	r.Delete("/api/tasks/{id}", s.deleteTask)

	r.Get("/api/groups/{group}/results", s.groupResults)
	r.Get("/api/groups/{group}/count", s.groupCount)
	r.Delete("/api/groups/{group}", s.deleteGroup)

	r.Get("/api/queue/size", s.queueSize)

	r.Post("/api/schedules", s.createSchedule)
	r.Get("/api/schedules", s.listSchedules)
	r.Get("/api/schedules/{id}", s.getSchedule)
	r.Put("/api/schedules/{id}", s.updateSchedule)
	r.Delete("/api/schedules/{id}", s.deleteSchedule)

	r.Get("/api/clusters", s.listClusters)
	r.Get("/api/workers", s.listWorkers)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type taskView struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Func      string     `json:"func"`
	Hook      string     `json:"hook,omitempty"`
	Group     string     `json:"group,omitempty"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Duration  int        `json:"duration_seconds"`
}

func viewTask(t domain.Task) taskView {
	return taskView{
		ID: t.ID, Name: t.Name, Func: t.Func, Hook: t.Hook, Group: t.Group,
		Status: string(t.Status), Attempts: t.Attempts,
		CreatedAt: t.CreatedAt, StartedAt: t.StartedAt, StoppedAt: t.StoppedAt,
		Duration: t.Duration,
	}
}

type pushReq struct {
	Func        string         `json:"func"`
	Args        []any          `json:"args"`
	Kwargs      map[string]any `json:"kwargs"`
	Name        string         `json:"name"`
	Group       string         `json:"group"`
	Hook        string         `json:"hook"`
	ClusterType string         `json:"cluster_type"`
}

func (s *Server) pushTask(w http.ResponseWriter, r *http.Request) {
	var req pushReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := s.producer.Push(r.Context(), producer.Request{
		Func: req.Func, Args: req.Args, Kwargs: req.Kwargs,
		Name: req.Name, Group: req.Group, Hook: req.Hook, ClusterType: req.ClusterType,
	})
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": t.ID})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := tasks.Filter{
		Status: domain.Status(q.Get("status")),
		Group:  q.Get("group"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "bad since: "+err.Error(), http.StatusBadRequest)
			return
		}
		f.Since = t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, "bad until: "+err.Error(), http.StatusBadRequest)
			return
		}
		f.Until = t
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	if f.Limit <= 0 {
		f.Limit = 100
	}
	ts, err := s.tasks.List(r.Context(), f)
	if err != nil {
		httpError(w, err)
		return
	}
	views := make([]taskView, 0, len(ts))
	for _, t := range ts {
		views = append(views, viewTask(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewTask(t))
}

func (s *Server) getResult(w http.ResponseWriter, r *http.Request) {
	v, err := s.tasks.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": v})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	if err := s.tasks.Delete(r.Context(), t.ID); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) groupResults(w http.ResponseWriter, r *http.Request) {
	failures := r.URL.Query().Get("failures") == "true"
	vs, err := s.tasks.GroupResults(r.Context(), chi.URLParam(r, "group"), failures)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": vs})
}

func (s *Server) groupCount(w http.ResponseWriter, r *http.Request) {
	failures := r.URL.Query().Get("failures") == "true"
	n, err := s.tasks.GroupCount(r.Context(), chi.URLParam(r, "group"), failures)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	cascade := r.URL.Query().Get("cascade") == "true"
	n, err := s.tasks.DeleteGroup(r.Context(), chi.URLParam(r, "group"), cascade)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"affected": n})
}

func (s *Server) queueSize(w http.ResponseWriter, r *http.Request) {
	n, err := s.broker.Size(r.Context(), s.queueKey)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": n})
}

type scheduleReq struct {
	Name    string     `json:"name"`
	Func    string     `json:"func"`
	Hook    string     `json:"hook"`
	Args    string     `json:"args"`
	Kwargs  string     `json:"kwargs"`
	Group   string     `json:"group"`
	Kind    string     `json:"kind"`
	Minutes int        `json:"minutes"`
	Cron    string     `json:"cron"`
	Repeats *int       `json:"repeats"`
	NextRun *time.Time `json:"next_run"`
}

func (r scheduleReq) toDomain() domain.Schedule {
	s := domain.Schedule{
		Name: r.Name, Func: r.Func, Hook: r.Hook,
		Args: r.Args, Kwargs: r.Kwargs, Group: r.Group,
		Recur: domain.Recurrence{
			Kind: domain.ScheduleKind(r.Kind), Minutes: r.Minutes, Cron: r.Cron,
		},
		Repeats: -1,
	}
	if r.Repeats != nil {
		s.Repeats = *r.Repeats
	}
	if r.NextRun != nil {
		s.NextRun = *r.NextRun
	}
	return s
}

type scheduleView struct {
	ID      int64     `json:"id"`
	Name    string    `json:"name,omitempty"`
	Func    string    `json:"func"`
	Hook    string    `json:"hook,omitempty"`
	Args    string    `json:"args,omitempty"`
	Kwargs  string    `json:"kwargs,omitempty"`
	Group   string    `json:"group,omitempty"`
	Kind    string    `json:"kind"`
	Minutes int       `json:"minutes,omitempty"`
	Cron    string    `json:"cron,omitempty"`
	Repeats int       `json:"repeats"`
	NextRun time.Time `json:"next_run"`
	TaskID  string    `json:"task_id,omitempty"`
}

func viewSchedule(s domain.Schedule) scheduleView {
	return scheduleView{
		ID: s.ID, Name: s.Name, Func: s.Func, Hook: s.Hook,
		Args: s.Args, Kwargs: s.Kwargs, Group: s.Group,
		Kind: string(s.Recur.Kind), Minutes: s.Recur.Minutes, Cron: s.Recur.Cron,
		Repeats: s.Repeats, NextRun: s.NextRun, TaskID: s.TaskID,
	}
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	created, err := s.sched.Create(r.Context(), req.toDomain())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSchedule(created))
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	ss, err := s.sched.List(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	views := make([]scheduleView, 0, len(ss))
	for _, sc := range ss {
		views = append(views, viewSchedule(sc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) getSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	sc, err := s.sched.Get(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSchedule(sc))
}

func (s *Server) updateSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sc := req.toDomain()
	sc.ID = id
	if err := s.sched.Update(r.Context(), sc); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewSchedule(sc))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad id", http.StatusBadRequest)
		return
	}
	if err := s.sched.Delete(r.Context(), id); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	cs, err := s.liveness.Clusters(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	ws, err := s.liveness.Workers(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func httpError(w http.ResponseWriter, err error) {
	var (
		ve *domain.ValidationError
		ae *domain.AmbiguousNameError
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.As(err, &ve):
		http.Error(w, ve.Error(), http.StatusBadRequest)
	case errors.As(err, &ae):
		http.Error(w, ae.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
