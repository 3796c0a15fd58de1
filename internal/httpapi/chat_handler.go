package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"llm_relay/internal/middleware"
	"llm_relay/internal/relay"
	"llm_relay/internal/utils"
)

// maxChatBodyBytes bounds a chat request body
const maxChatBodyBytes = 1 << 20

const healthTimeout = 2 * time.Second

// handleChatStream runs one metered chat turn. Failures detected before the
// stream opens are answered with a JSON error and a matching status; later
// failures are reported as error events on the stream.
func (d *Dependencies) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	accountID, ok := middleware.GetAccountID(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	role, _ := middleware.GetRole(r.Context())

	var req relay.Request
	if err := utils.DecodeJSONBody(r, &req, maxChatBodyBytes); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	turn, err := d.Relay.Begin(r.Context(), relay.Caller{AccountID: accountID, Role: role}, &req)
	if err != nil {
		var rerr *relay.Error
		if errors.As(err, &rerr) {
			utils.RespondWithError(w, rerr.HTTPStatus(), rerr.Message)
			return
		}
		utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
		return
	}

	events, err := relay.NewEventWriter(w)
	if err != nil {
		turn.Close()
		utils.RespondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	turn.Run(r.Context(), events)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(d.Checks))}
	code := http.StatusOK
	for name, check := range d.Checks {
		if err := check.Health(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	utils.RespondWithJSON(w, code, resp)
}
