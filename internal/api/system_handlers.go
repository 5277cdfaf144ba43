package api

import (
	"fmt"
	"net/http"
	"time"
)

type healthResponse struct {
	Status        string `json:"status"`
	PendingCalls  int    `json:"pending_calls"`
	RingerPlaying bool   `json:"ringer_playing"`
	Foreground    bool   `json:"foreground"`
	StartedAt     string `json:"started_at"`
	UptimeSec     int64  `json:"uptime_sec"`
	UptimeText    string `json:"uptime_text"`
}

// handleHealth reports liveness plus a summary of call state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)
	resp := healthResponse{
		Status:     "ok",
		StartedAt:  s.startTime.Format(time.RFC3339),
		UptimeSec:  int64(uptime.Seconds()),
		UptimeText: formatUptime(uptime),
	}
	if s.resolver != nil {
		resp.PendingCalls = s.resolver.PendingCount()
	}
	if s.ringer != nil {
		resp.RingerPlaying = s.ringer.Playing()
	}
	if s.app != nil {
		resp.Foreground = s.app.Foreground()
	}
	writeJSON(w, http.StatusOK, resp)
}

// formatUptime returns a human-readable uptime string like "2d 5h 30m 12s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
