package models

import "time"

// SubTeam is a named grouping of agent ids inside an agent team, with
// optional supervisory instructions and extra context.
type SubTeam struct {
	ID               string   `json:"id"`
	Name             string   `json:"name,omitempty"`
	AgentIDs         []string `json:"agent_ids"`
	SupervisorPrompt string   `json:"supervisor_prompt,omitempty"`
	ExtraInfo        []string `json:"extra_info,omitempty"`
	Description      string   `json:"description,omitempty"`
}

// AgentTeam is a user-owned aggregate of one or more sub-teams.
// Read-only input to the query composer; mutated only by team management.
type AgentTeam struct {
	ID            string    `json:"id" db:"id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Name          string    `json:"name" db:"name"`
	Description   string    `json:"description,omitempty" db:"description"`
	ProvisionType int       `json:"provision_type" db:"provision_type"` // 1: self-provisioned, 2: assisted
	Teams         []SubTeam `json:"teams" db:"-"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
