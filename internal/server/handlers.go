package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"nhooyr.io/websocket"
)

// healthResponse is the /health payload.
type healthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemPercent    float64 `json:"mem_percent"`
	SystemState   string  `json:"system_state"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.startup).Seconds(),
		SystemState:   string(s.core.SystemState()),
	}
	if pct, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(pct) > 0 {
		resp.CPUPercent = pct[0]
	}
	if stat, err := mem.VirtualMemory(); err == nil {
		resp.MemPercent = stat.UsedPercent
	}
	respondJSON(w, http.StatusOK, resp)
}

// stateResponse is the /api/state payload.
type stateResponse struct {
	SystemState      string      `json:"system_state"`
	Capital          float64     `json:"capital"`
	CurrentDrawdown  float64     `json:"current_drawdown"`
	WeeklyDrawdown   float64     `json:"weekly_drawdown"`
	DefensiveMode    bool        `json:"defensive_mode"`
	KillSwitchActive bool        `json:"kill_switch_active"`
	KillReason       string      `json:"kill_reason,omitempty"`
	Daily            interface{} `json:"daily"`
	OpenPositions    int         `json:"open_positions"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, stateResponse{
		SystemState:      string(s.core.SystemState()),
		Capital:          s.core.Capital(),
		CurrentDrawdown:  s.core.CurrentDrawdown(),
		WeeklyDrawdown:   s.core.WeeklyDrawdown(),
		DefensiveMode:    s.core.DefensiveMode(),
		KillSwitchActive: s.core.KillSwitchActive(),
		KillReason:       s.core.KillReason(),
		Daily:            s.core.DailyStats(),
		OpenPositions:    len(s.core.OpenPositions()),
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.core.OpenPositions())
}

func (s *Server) handleRecentDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.decisions.RecentDecisions(20)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read decisions")
		return
	}
	respondJSON(w, http.StatusOK, decisions)
}

func (s *Server) handleTradeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.trades.Stats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read trade stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// killSwitchRequest toggles the kill switch. Activation requires a
// reason; deactivation is a deliberate operator action.
type killSwitchRequest struct {
	Active bool   `json:"active"`
	Reason string `json:"reason"`
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, r *http.Request) {
	var req killSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Active {
		if req.Reason == "" {
			respondError(w, http.StatusBadRequest, "activation requires a reason")
			return
		}
		s.core.ActivateKillSwitch("manual: " + req.Reason)
	} else {
		s.core.DeactivateKillSwitch()
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"kill_switch_active": s.core.KillSwitchActive(),
		"reason":             s.core.KillReason(),
	})
}

// handleAlertsWS streams alerts as JSON text frames until the client
// disconnects.
func (s *Server) handleAlertsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}

	ch := s.subscribe()
	defer s.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case a := <-ch:
			b, err := json.Marshal(a)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, b)
			cancel()
			if err != nil {
				conn.Close(websocket.StatusGoingAway, "write failed")
				return
			}
		}
	}
}
