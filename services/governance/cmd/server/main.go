package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/db"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/domain"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/httpx"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/policystore"
	"github.com/ClawDAOBot/erc8004-poa-integration/pkg/vouching"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/config"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/hatsclient"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/identityclient"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/repclient"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/store"
	"github.com/ClawDAOBot/erc8004-poa-integration/services/governance/internal/stream"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type actorContext struct {
	Identity string `json:"identity"`
}

// auditSink mirrors engine events to the audit trail and to stream
// subscribers. It is purely observational: the durable request state the
// engine restores from is written by the vouch handlers, not here.
type auditSink struct {
	st  *store.Store
	hub *stream.Hub
}

func (s *auditSink) Emit(ev vouching.Event) {
	eventID := "evt_" + uuid.NewString()
	if err := s.st.AppendAuditEvent(context.Background(), eventID, ev); err != nil {
		log.Printf("audit: append event: %v", err)
	}
	s.hub.Broadcast(map[string]any{"event_id": eventID, "event": ev})
}

// vouchWriter is the durable slice of the store the vouch handlers need.
type vouchWriter interface {
	SaveRequest(ctx context.Context, req *domain.VouchRequest) error
	SaveResponse(ctx context.Context, requestID string, voucher domain.Identity, support bool, evidenceURL string) error
}

func openVouchRequestHandler(engine *vouching.Engine, st vouchWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ActorContext actorContext `json:"actor_context"`
			Candidate    string       `json:"candidate"`
			HatID        string       `json:"hat_id"`
			EvidenceURL  string       `json:"evidence_url"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		out, err := engine.RequestVouch(r.Context(),
			domain.Identity(req.ActorContext.Identity), domain.Identity(req.Candidate),
			domain.HatID(req.HatID), req.EvidenceURL)
		if err != nil {
			var elig *vouching.EligibilityError
			if errors.As(err, &elig) {
				httpx.WriteError(w, 403, string(elig.Decision.Reason), elig.Decision.Detail, elig.Decision)
				return
			}
			httpx.WriteDomainError(w, err)
			return
		}
		if err := st.SaveRequest(r.Context(), out); err != nil {
			httpx.WriteError(w, 500, "PERSIST_FAILED", err.Error(), out)
			return
		}
		httpx.WriteJSON(w, 201, map[string]any{"request_id": httpx.NewRequestID(), "vouch_request": out})
	}
}

func submitVouchHandler(engine *vouching.Engine, st vouchWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := chi.URLParam(r, "request_id")
		var req struct {
			ActorContext actorContext `json:"actor_context"`
			Support      bool         `json:"support"`
			EvidenceURL  string       `json:"evidence_url"`
		}
		if err := httpx.ReadJSON(r, &req); err != nil {
			httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
			return
		}
		out, err := engine.SubmitVouch(r.Context(), requestID,
			domain.Identity(req.ActorContext.Identity), req.Support, req.EvidenceURL)
		if err != nil && out == nil {
			httpx.WriteDomainError(w, err)
			return
		}
		// The vote is committed in memory; write it down before reporting
		// anything else so a restart cannot lose it without the caller
		// having been told.
		voucher := domain.Identity(req.ActorContext.Identity)
		if perr := st.SaveResponse(r.Context(), out.RequestID, voucher, req.Support, req.EvidenceURL); perr != nil {
			httpx.WriteError(w, 500, "PERSIST_FAILED", perr.Error(), out)
			return
		}
		if perr := st.SaveRequest(r.Context(), out); perr != nil {
			httpx.WriteError(w, 500, "PERSIST_FAILED", perr.Error(), out)
			return
		}
		if err != nil {
			// The request is terminal; only the downstream grant failed.
			httpx.WriteError(w, 502, "GRANT_FAILED", err.Error(), out)
			return
		}
		httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vouch_request": out})
	}
}

func main() {
	cfg, err := config.Load(os.Getenv("GOV_CONFIG"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool := db.MustConnect()
	st := store.New(pool)
	hub := stream.NewHub()

	admins := policystore.NewAllowList()
	for _, id := range cfg.AdminIdentities {
		admins[domain.Identity(id)] = struct{}{}
	}
	policies := policystore.New(admins)
	if snap, err := st.LoadLatestPolicy(context.Background()); err != nil {
		log.Fatalf("load policy: %v", err)
	} else if snap != nil {
		policies.Restore(*snap)
	}

	identity := identityclient.New(cfg.IdentityBaseURL)
	reputation := repclient.New(cfg.ReputationBaseURL)
	hats := hatsclient.New(cfg.HatsBaseURL)

	engine := vouching.New(vouching.Config{
		Policies:   policies,
		Identity:   identity,
		Reputation: reputation,
		Grants:     hats,
		Quorums:    hats,
		Audit:      &auditSink{st: st, hub: hub},
		Delegates:  admins,
	})
	open, err := st.LoadOpenRequests(context.Background())
	if err != nil {
		log.Fatalf("load open requests: %v", err)
	}
	engine.Restore(open)
	log.Printf("governance: restored %d open vouch requests", len(open))

	// Persist each new policy version as it commits.
	policies.Subscribe(func(ev policystore.ChangeEvent) {
		snap := policies.Snapshot()
		if err := st.SavePolicyVersion(context.Background(), snap, ev.Group, ev.Actor); err != nil {
			log.Printf("policy: persist version %d: %v", snap.Version, err)
		}
		hub.Broadcast(map[string]any{"event": "POLICY_CHANGED", "change": ev})
	})

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/gov", func(api chi.Router) {

		api.Post("/admin/agent-policy", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ActorContext actorContext       `json:"actor_context"`
				Policy       domain.AgentPolicy `json:"policy"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := policies.SetAgentPolicy(domain.Identity(req.ActorContext.Identity), req.Policy); err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "version": policies.Snapshot().Version})
		})

		api.Post("/admin/hat-rules/{hat_id}", func(w http.ResponseWriter, r *http.Request) {
			hat := domain.HatID(chi.URLParam(r, "hat_id"))
			var req struct {
				ActorContext actorContext         `json:"actor_context"`
				Rules        domain.HatAgentRules `json:"rules"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := policies.SetHatAgentRules(domain.Identity(req.ActorContext.Identity), hat, req.Rules); err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "hat_id": hat, "version": policies.Snapshot().Version})
		})

		api.Post("/admin/vouching-matrix", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ActorContext actorContext          `json:"actor_context"`
				Matrix       domain.VouchingMatrix `json:"matrix"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := policies.SetVouchingMatrix(domain.Identity(req.ActorContext.Identity), req.Matrix); err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "version": policies.Snapshot().Version})
		})

		api.Post("/admin/agent-capabilities", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				ActorContext actorContext             `json:"actor_context"`
				Capabilities domain.AgentCapabilities `json:"capabilities"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			if err := policies.SetAgentCapabilities(domain.Identity(req.ActorContext.Identity), req.Capabilities); err != nil {
				httpx.WriteDomainError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "version": policies.Snapshot().Version})
		})

		api.Get("/policies", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "policies": policies.Snapshot()})
		})

		api.Get("/eligibility", func(w http.ResponseWriter, r *http.Request) {
			identity := domain.Identity(r.URL.Query().Get("identity"))
			hat := domain.HatID(r.URL.Query().Get("hat_id"))
			if identity == "" || hat == "" {
				httpx.WriteError(w, 400, "BAD_REQUEST", "identity and hat_id are required", nil)
				return
			}
			d, err := engine.Evaluate(r.Context(), identity, hat)
			if err != nil {
				httpx.WriteError(w, 502, "UPSTREAM_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "identity": identity, "hat_id": hat, "decision": d})
		})

		api.Get("/capabilities/{class}", func(w http.ResponseWriter, r *http.Request) {
			class := vouching.ActionClass(chi.URLParam(r, "class"))
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id": httpx.NewRequestID(),
				"class":      class,
				"allowed":    engine.AgentMayAct(class),
			})
		})

		api.Post("/vouch-requests", openVouchRequestHandler(engine, st))

		api.Post("/vouch-requests/{request_id}/responses", submitVouchHandler(engine, st))

		api.Get("/vouch-requests", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vouch_requests": engine.OpenRequests()})
		})

		api.Get("/vouch-requests/{request_id}", func(w http.ResponseWriter, r *http.Request) {
			out, ok := engine.Request(chi.URLParam(r, "request_id"))
			if !ok {
				httpx.WriteDomainError(w, domain.ErrNotFound)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vouch_request": out})
		})

		api.Get("/identities/{identity}/hats/{hat_id}/request", func(w http.ResponseWriter, r *http.Request) {
			identity := domain.Identity(chi.URLParam(r, "identity"))
			hat := domain.HatID(chi.URLParam(r, "hat_id"))
			out, ok := engine.RequestFor(identity, hat)
			if !ok {
				httpx.WriteDomainError(w, domain.ErrNotFound)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "vouch_request": out})
		})

		api.Get("/identities/{identity}/hats/{hat_id}/membership", func(w http.ResponseWriter, r *http.Request) {
			identity := domain.Identity(chi.URLParam(r, "identity"))
			hat := domain.HatID(chi.URLParam(r, "hat_id"))
			member, err := hats.IsMember(r.Context(), identity, hat)
			if err != nil {
				httpx.WriteError(w, 502, "UPSTREAM_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "identity": identity, "hat_id": hat, "member": member})
		})

		api.Get("/audit/events", func(w http.ResponseWriter, r *http.Request) {
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			events, err := st.ListAuditEvents(r.Context(), r.URL.Query().Get("request_id"), limit)
			if err != nil {
				httpx.WriteError(w, 500, "DB_ERROR", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "events": events})
		})

		api.Get("/stream", hub.Handler())
	})

	log.Printf("governance: listening on :%s", cfg.ListenPort)
	if err := http.ListenAndServe(":"+cfg.ListenPort, r); err != nil {
		log.Fatal(err)
	}
}
