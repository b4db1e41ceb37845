// The identity server is the off-chain shim over the ERC-8004 identity
// registry and the hat tree: agent records, hat definitions, wearer
// membership, and the basic (hierarchy-level) eligibility check that
// the governance engine passes through verbatim.
package main

import (
	"errors"
	"net/http"
	"os"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/db"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/httpx"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/identity/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

func main() {
	pool := db.MustConnect()
	st := store.New(pool)

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8091"
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/identity", func(api chi.Router) {

		api.Post("/agents", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Identity     string `json:"identity"`
				AgentID      string `json:"agent_id"`
				DeclaredType string `json:"declared_type"`
				AgentURI     string `json:"agent_uri"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.Identity == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "identity is required", nil)
				return
			}
			switch req.DeclaredType {
			case "", "AI", "HUMAN", "HYBRID":
			default:
				httpx.WriteError(w, 400, "BAD_REQUEST", "declared_type must be AI, HUMAN, or HYBRID", nil)
				return
			}
			a := store.Agent{
				Identity:     req.Identity,
				AgentID:      req.AgentID,
				DeclaredType: req.DeclaredType,
				AgentURI:     req.AgentURI,
			}
			if err := st.RegisterAgent(r.Context(), a); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "agent": a})
		})

		api.Get("/agents/{identity}", func(w http.ResponseWriter, r *http.Request) {
			a, err := st.GetAgent(r.Context(), chi.URLParam(r, "identity"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "agent": a})
		})

		api.Post("/eligibility:check", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Identity string `json:"identity"`
				HatID    string `json:"hat_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			d, err := basicEligibility(r, st, req.Identity, req.HatID)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, d)
		})
	})

	r.Route("/hats", func(api chi.Router) {

		api.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req store.Hat
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if req.HatID == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "hat_id is required", nil)
				return
			}
			if err := st.CreateHat(r.Context(), req); err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "hat": req})
		})

		api.Get("/{hat_id}", func(w http.ResponseWriter, r *http.Request) {
			h, err := st.GetHat(r.Context(), chi.URLParam(r, "hat_id"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, h)
		})

		api.Get("/{hat_id}/wearers/{identity}", func(w http.ResponseWriter, r *http.Request) {
			member, err := st.IsWearer(r.Context(), chi.URLParam(r, "hat_id"), chi.URLParam(r, "identity"))
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"member": member})
		})

		api.Post("/{hat_id}/mint", func(w http.ResponseWriter, r *http.Request) {
			hatID := chi.URLParam(r, "hat_id")
			var req struct {
				Identity string `json:"identity"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := st.MintHat(r.Context(), hatID, req.Identity); err != nil {
				switch {
				case errors.Is(err, pgx.ErrNoRows):
					httpx.WriteError(w, 404, "NOT_FOUND", "unknown hat", nil)
				case errors.Is(err, store.ErrHatInactive):
					httpx.WriteError(w, 409, "HAT_INACTIVE", "hat is not active", nil)
				case errors.Is(err, store.ErrAlreadyWearer):
					httpx.WriteError(w, 409, "ALREADY_WEARER", "identity already wears this hat", nil)
				case errors.Is(err, store.ErrSupplyExhausted):
					httpx.WriteError(w, 409, "SUPPLY_EXHAUSTED", "hat supply is exhausted", nil)
				default:
					httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				}
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"hat_id":     hatID,
				"identity":   req.Identity,
				"member":     true,
			})
		})
	})

	http.ListenAndServe(":"+port, r)
}

type decision struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// basicEligibility covers the hierarchy-level gates only. Agent policy
// lives in the governance service; nothing here looks at agent records.
func basicEligibility(r *http.Request, st *store.Store, identity, hatID string) (decision, error) {
	h, err := st.GetHat(r.Context(), hatID)
	if errors.Is(err, pgx.ErrNoRows) {
		return decision{Reason: "UNKNOWN_HAT", Detail: "hat is not defined in the tree"}, nil
	}
	if err != nil {
		return decision{}, err
	}
	if !h.Active {
		return decision{Reason: "HAT_INACTIVE", Detail: "hat is not active"}, nil
	}
	member, err := st.IsWearer(r.Context(), hatID, identity)
	if err != nil {
		return decision{}, err
	}
	if member {
		return decision{Reason: "ALREADY_WEARER", Detail: "identity already wears this hat"}, nil
	}
	return decision{Eligible: true}, nil
}
