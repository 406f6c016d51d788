package fakeapi

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Path is where the ranking API serves division leaderboards.
const Path = "/webapi/ILeaderboard/GetDivisionLeaderboard/v0001"

// Regions the ranking API knows about.
var Regions = []string{"americas", "europe", "se_asia", "china"}

// Handler returns a router serving generated leaderboards at Path.
func Handler(g *Generator) http.Handler {
	r := chi.NewRouter()
	r.Get(Path, func(w http.ResponseWriter, r *http.Request) {
		division := strings.TrimSpace(r.URL.Query().Get("division"))
		if !slices.Contains(Regions, division) {
			http.Error(w, "unknown division", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(g.Leaderboard(division))
	})
	return r
}
