// The reputation server shims the ERC-8004 reputation registry: clients
// append signed-off feedback entries and the governance engine queries
// fixed-point summaries, optionally narrowed to trusted sources and tags.
package main

import (
	"net/http"
	"os"
	"strconv"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/db"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/httpx"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/reputation/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

func main() {
	pool := db.MustConnect()
	st := store.New(pool)

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8092"
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/reputation", func(api chi.Router) {

		api.Post("/feedback", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				AgentID  string `json:"agent_id"`
				Source   string `json:"source"`
				Tag      string `json:"tag"`
				Value    int64  `json:"value"`
				Decimals uint8  `json:"decimals"`
				URI      string `json:"uri"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.AgentID == "" || req.Source == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "agent_id and source are required", nil)
				return
			}
			f := store.Feedback{
				FeedbackID: "fbk_" + uuid.NewString(),
				AgentID:    req.AgentID,
				Source:     req.Source,
				Tag:        req.Tag,
				Value:      req.Value,
				Decimals:   req.Decimals,
				URI:        req.URI,
			}
			if err := st.AppendFeedback(r.Context(), f); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "feedback": f})
		})

		api.Get("/summary", func(w http.ResponseWriter, r *http.Request) {
			agentID := r.URL.Query().Get("agent_id")
			if agentID == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "agent_id is required", nil)
				return
			}
			sources := store.SplitFilter(r.URL.Query().Get("sources"))
			tags := store.SplitFilter(r.URL.Query().Get("tags"))
			sum, err := st.QuerySummary(r.Context(), agentID, sources, tags)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, sum)
		})

		api.Get("/feedback", func(w http.ResponseWriter, r *http.Request) {
			agentID := r.URL.Query().Get("agent_id")
			if agentID == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "agent_id is required", nil)
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			items, err := st.ListFeedback(r.Context(), agentID, limit)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "feedback": items})
		})
	})

	http.ListenAndServe(":"+port, r)
}
