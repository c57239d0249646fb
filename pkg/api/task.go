package api

import (
	"net/http"
	"time"

	"github.com/cuemby/onboard/pkg/types"
)

// TaskResponse is the public view of a task
type TaskResponse struct {
	ID             string            `json:"id"`
	SelfLink       string            `json:"selfLink"`
	Result         types.Result      `json:"result"`
	Declaration    types.Declaration `json:"declaration,omitempty"`
	CurrentConfig  types.Config      `json:"currentConfig,omitempty"`
	OriginalConfig types.Config      `json:"originalConfig,omitempty"`
	LastUpdate     *time.Time        `json:"lastUpdate,omitempty"`
}

func newTaskResponse(t *types.Task, full bool) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		SelfLink:    BasePath + "/task/" + t.ID,
		Result:      t.Result,
		Declaration: t.Declaration,
	}
	if full {
		resp.CurrentConfig = t.CurrentConfig
		resp.OriginalConfig = t.OriginalConfig
		lastUpdate := t.LastUpdate
		resp.LastUpdate = &lastUpdate
	}
	return resp
}

// StatusCode is the HTTP status reported for a task
func StatusCode(t *types.Task) int {
	if !t.Result.Status.Terminal() {
		return http.StatusAccepted
	}
	if t.Result.Code == 0 {
		if t.Result.Status == types.StatusOK {
			return http.StatusOK
		}
		return http.StatusInternalServerError
	}
	return t.Result.Code
}
