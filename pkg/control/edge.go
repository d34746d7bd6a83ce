package control

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetcore/fleetcore/pkg/ferrors"
	"github.com/fleetcore/fleetcore/pkg/metrics"
	"github.com/fleetcore/fleetcore/pkg/types"
	"github.com/google/uuid"
)

// EdgeServer is the plane's HTTP-facing API: worker registration and
// heartbeat, mission submission and lifecycle control, plus the
// internal inter-replica endpoints (add-voter, cross-region sync pull)
// and the health/metrics surface.
type EdgeServer struct {
	plane *Plane
	mux   *http.ServeMux
}

// NewEdgeServer builds the HTTP mux for plane.
func NewEdgeServer(plane *Plane) *EdgeServer {
	s := &EdgeServer{plane: plane, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *EdgeServer) Handler() http.Handler { return s.mux }

func (s *EdgeServer) routes() {
	s.mux.HandleFunc("/workers", s.handleWorkers)
	s.mux.HandleFunc("/workers/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("/missions", s.handleMissions)
	s.mux.HandleFunc("/missions/cancel", s.handleCancelMission)
	s.mux.HandleFunc("/missions/pause", s.handlePauseMission)
	s.mux.HandleFunc("/missions/resume", s.handleResumeMission)
	s.mux.HandleFunc("/missions/delete", s.handleDeleteMission)
	s.mux.HandleFunc("/missions/dispatch", s.handleDispatchMission)
	s.mux.HandleFunc("/missions/progress", s.handleMissionProgress)
	s.mux.HandleFunc("/raft/add-voter", s.handleAddVoter)
	s.mux.HandleFunc("/sync/missions", s.handleSyncMissions)

	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.Handle("/health", metrics.HealthHandler())
	s.mux.Handle("/ready", metrics.ReadyHandler())
	s.mux.Handle("/live", metrics.LivenessHandler())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch err.(type) {
	case *ferrors.NotLeaderError:
		status = http.StatusTemporaryRedirect
	case *ferrors.NotFound:
		status = http.StatusNotFound
	case *ferrors.NoFeasibleAssignment, *ferrors.VersionConflict, *ferrors.WorkerBacklogged:
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *EdgeServer) handleWorkers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var worker types.Worker
		if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if worker.ID == "" {
			worker.ID = uuid.NewString()
		}
		if err := s.plane.Resources.Register(&worker); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, worker)
	case http.MethodGet:
		id := r.URL.Query().Get("id")
		if id != "" {
			worker, err := s.plane.Node.GetWorker(id)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, worker)
			return
		}
		workers, err := s.plane.Node.ListWorkers()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workers)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *EdgeServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		WorkerID    string          `json:"worker_id"`
		Battery     float64         `json:"battery_percent"`
		Position    *types.Position `json:"position"`
		TimestampNs int64           `json:"timestamp_ns"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.plane.Resources.Heartbeat(req.WorkerID, req.Battery, req.Position, req.TimestampNs); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *EdgeServer) handleMissions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var m types.Mission
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if err := s.plane.Missions.Submit(&m); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	case http.MethodGet:
		id := r.URL.Query().Get("id")
		if id != "" {
			m, err := s.plane.Node.GetMission(id)
			if err != nil {
				writeErr(w, err)
				return
			}
			writeJSON(w, http.StatusOK, m)
			return
		}
		missions, err := s.plane.Node.ListMissions()
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, missions)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *EdgeServer) handleCancelMission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := s.plane.Node.GetMission(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.plane.Node.TransitionMission(req.ID, types.MissionCancelled, m.Progress); err != nil {
		writeErr(w, err)
		return
	}
	s.plane.Resources.ReleaseWorkers(m.AssignedWorkers)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *EdgeServer) handlePauseMission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := s.plane.Node.GetMission(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.plane.Node.TransitionMission(req.ID, types.MissionPaused, m.Progress); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *EdgeServer) handleResumeMission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	m, err := s.plane.Node.GetMission(req.ID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.plane.Node.TransitionMission(req.ID, types.MissionRunning, m.Progress); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *EdgeServer) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if m, err := s.plane.Node.GetMission(req.ID); err == nil && m != nil && !m.State.IsTerminal() {
		s.plane.Resources.ReleaseWorkers(m.AssignedWorkers)
	}
	if err := s.plane.Node.DeleteMission(req.ID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleDispatchMission triggers an immediate admission/dispatch cycle
// instead of waiting for the scheduler's next tick.
func (s *EdgeServer) handleDispatchMission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.plane.Scheduler.DispatchNow()
	writeJSON(w, http.StatusOK, map[string]string{"status": "dispatch triggered"})
}

// handleMissionProgress ingests a worker's progress report against a
// RUNNING mission, releasing its workers back to IDLE once the report
// carries the mission to SUCCEEDED.
func (s *EdgeServer) handleMissionProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ID       string  `json:"id"`
		Progress float64 `json:"progress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.plane.Missions.UpdateProgress(req.ID, req.Progress); err != nil {
		writeErr(w, err)
		return
	}
	if req.Progress >= 1.0 {
		if m, err := s.plane.Node.GetMission(req.ID); err == nil && m != nil {
			s.plane.Resources.ReleaseWorkers(m.AssignedWorkers)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *EdgeServer) handleAddVoter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		NodeID  string `json:"node_id"`
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.plane.Node.AddVoter(req.NodeID, req.Address); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *EdgeServer) handleSyncMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.plane.Sync.Snapshot()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"missions": missions})
}

// Serve starts the HTTP edge server on addr, blocking until it exits.
func (s *EdgeServer) Serve(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
