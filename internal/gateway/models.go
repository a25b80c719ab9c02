package gateway

import (
	"net/http"
)

type modelEntry struct {
	ID           string          `json:"id"`
	Object       string          `json:"object"`
	Created      int64           `json:"created"`
	OwnedBy      string          `json:"owned_by"`
	Multiplier   float64         `json:"multiplier"`
	Restrictions map[string]bool `json:"restrictions"`
}

type modelList struct {
	Data []modelEntry `json:"data"`
}

// ListModels serves GET /v1/models: every model any provider declares, once.
func (g *Gateway) ListModels(w http.ResponseWriter, r *http.Request) {
	ids := g.registry.Models()
	out := modelList{Data: make([]modelEntry, 0, len(ids))}
	for _, id := range ids {
		out.Data = append(out.Data, modelEntry{
			ID:           id,
			Object:       "model",
			Created:      0,
			OwnedBy:      g.ownedBy,
			Multiplier:   g.catalog.Multiplier(id),
			Restrictions: g.catalog.Restrictions(id),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
