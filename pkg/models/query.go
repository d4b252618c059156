package models

// TeamSpec is the per-sub-team entry of a composed task query. The reduced
// form used for routing state carries only the id and member list.
type TeamSpec struct {
	TeamID           string   `json:"team_id"`
	Members          []string `json:"members"`
	SupervisorPrompt string   `json:"supervisor_prompt,omitempty"`
	ExtraInfo        []string `json:"extra_info,omitempty"`
}

// StateOption is the minimal routing state the engine wants separately from
// the full instructions.
type StateOption struct {
	ID      string     `json:"id"` // user id
	AgentID string     `json:"agent_id"`
	Teams   []TeamSpec `json:"teams"`
}

// TaskQuery is the structured payload handed to the execution engine.
type TaskQuery struct {
	UserID      string      `json:"user_id"`
	TaskMessage string      `json:"task_message"`
	Teams       []TeamSpec  `json:"teams"`
	StateOption StateOption `json:"state_option"`
	ThreadID    string      `json:"thread_id"`
}
