package response

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func JSON(w http.ResponseWriter, status int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to write JSON response", zap.Error(err))
	}
}

func Error(w http.ResponseWriter, status int, msg string, logger *zap.Logger) {
	JSON(w, status, ErrorResponse{Error: msg}, logger)
}

// Empty writes `{}`, used for not-found reads.
func Empty(w http.ResponseWriter, status int, logger *zap.Logger) {
	JSON(w, status, struct{}{}, logger)
}
