package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{DB: db} }

var (
	ErrHatInactive     = errors.New("HAT_INACTIVE")
	ErrAlreadyWearer   = errors.New("ALREADY_WEARER")
	ErrSupplyExhausted = errors.New("SUPPLY_EXHAUSTED")
)

type Agent struct {
	Identity     string    `json:"identity"`
	AgentID      string    `json:"agent_id"`
	DeclaredType string    `json:"declared_type"`
	AgentURI     string    `json:"agent_uri,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) RegisterAgent(ctx context.Context, a Agent) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO registry_agents(identity,agent_id,declared_type,agent_uri)
VALUES($1,$2,$3,$4)
ON CONFLICT (identity) DO UPDATE SET
  agent_id=EXCLUDED.agent_id,
  declared_type=EXCLUDED.declared_type,
  agent_uri=EXCLUDED.agent_uri
`, a.Identity, a.AgentID, a.DeclaredType, a.AgentURI)
	return err
}

func (s *Store) GetAgent(ctx context.Context, identity string) (Agent, error) {
	var a Agent
	err := s.DB.QueryRow(ctx, `
SELECT identity,agent_id,declared_type,agent_uri,created_at
FROM registry_agents
WHERE identity=$1
`, identity).Scan(&a.Identity, &a.AgentID, &a.DeclaredType, &a.AgentURI, &a.CreatedAt)
	return a, err
}

type Hat struct {
	HatID       string    `json:"hat_id"`
	Name        string    `json:"name"`
	ParentHatID *string   `json:"parent_hat_id,omitempty"`
	VouchQuorum int       `json:"vouch_quorum"`
	MaxSupply   int       `json:"max_supply"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (s *Store) CreateHat(ctx context.Context, h Hat) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO hats(hat_id,name,parent_hat_id,vouch_quorum,max_supply,active)
VALUES($1,$2,$3,$4,$5,$6)
ON CONFLICT (hat_id) DO UPDATE SET
  name=EXCLUDED.name,
  parent_hat_id=EXCLUDED.parent_hat_id,
  vouch_quorum=EXCLUDED.vouch_quorum,
  max_supply=EXCLUDED.max_supply,
  active=EXCLUDED.active
`, h.HatID, h.Name, h.ParentHatID, h.VouchQuorum, h.MaxSupply, h.Active)
	return err
}

func (s *Store) GetHat(ctx context.Context, hatID string) (Hat, error) {
	var h Hat
	err := s.DB.QueryRow(ctx, `
SELECT hat_id,name,parent_hat_id,vouch_quorum,max_supply,active,created_at
FROM hats
WHERE hat_id=$1
`, hatID).Scan(&h.HatID, &h.Name, &h.ParentHatID, &h.VouchQuorum, &h.MaxSupply, &h.Active, &h.CreatedAt)
	return h, err
}

func (s *Store) IsWearer(ctx context.Context, hatID, identity string) (bool, error) {
	var one int
	err := s.DB.QueryRow(ctx, `
SELECT 1 FROM hat_wearers WHERE hat_id=$1 AND identity=$2 AND standing='GOOD'
`, hatID, identity).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MintHat grants the hat inside one transaction so the supply check and
// the insert cannot race.
func (s *Store) MintHat(ctx context.Context, hatID, identity string) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, hatID); err != nil {
		return err
	}

	var active bool
	var maxSupply int
	if err := tx.QueryRow(ctx, `SELECT active,max_supply FROM hats WHERE hat_id=$1`, hatID).
		Scan(&active, &maxSupply); err != nil {
		return err
	}
	if !active {
		return ErrHatInactive
	}

	var worn int
	if err := tx.QueryRow(ctx, `
SELECT count(*) FROM hat_wearers WHERE hat_id=$1 AND standing='GOOD'
`, hatID).Scan(&worn); err != nil {
		return err
	}
	if maxSupply > 0 && worn >= maxSupply {
		return ErrSupplyExhausted
	}

	ct, err := tx.Exec(ctx, `
INSERT INTO hat_wearers(hat_id,identity,standing)
VALUES($1,$2,'GOOD')
ON CONFLICT (hat_id,identity) DO NOTHING
`, hatID, identity)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrAlreadyWearer
	}
	return tx.Commit(ctx)
}
