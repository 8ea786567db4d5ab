package api

import (
	"net/http"

	"github.com/nerrad567/wyzesense-bridge/internal/bridge"
)

// SensorsResponse is returned by the sensors endpoint.
type SensorsResponse struct {
	Sensors []bridge.Sensor `json:"sensors"`
	Count   int             `json:"count"`
}

// handleListSensors returns the sensor inventory.
func (s *Server) handleListSensors(w http.ResponseWriter, r *http.Request) {
	if s.sensors == nil {
		writeUnavailable(w, "sensor inventory is disabled")
		return
	}

	sensors, err := s.sensors.ListSensors(r.Context())
	if err != nil {
		s.logger.Error("listing sensors", "error", err, "request_id", requestIDFrom(r.Context()))
		writeInternalError(w, "failed to list sensors")
		return
	}

	writeJSON(w, http.StatusOK, SensorsResponse{Sensors: sensors, Count: len(sensors)})
}
