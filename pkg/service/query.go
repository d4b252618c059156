package service

import (
	"github.com/GlyderLabs/api/pkg/models"
)

// TeamDirectory resolves an agent id to its team topology. Satisfied by
// storage.Store.
type TeamDirectory interface {
	GetAgentTeam(agentID string) (models.AgentTeam, error)
}

// ComposeTaskQuery translates a user request and an agent-team topology into
// the structured payload the execution engine expects. Each sub-team appears
// twice: in full form with supervisor instructions and extra context, and in
// reduced form (id + members only) inside the state option. The composition
// is pure and deterministic given the same topology snapshot.
func ComposeTaskQuery(dir TeamDirectory, userID, agentID, message, threadID string) (models.TaskQuery, error) {
	team, err := dir.GetAgentTeam(agentID)
	if err != nil {
		return models.TaskQuery{}, err
	}

	full := make([]models.TeamSpec, 0, len(team.Teams))
	reduced := make([]models.TeamSpec, 0, len(team.Teams))
	for _, sub := range team.Teams {
		members := sub.AgentIDs
		if members == nil {
			members = []string{}
		}
		full = append(full, models.TeamSpec{
			TeamID:           sub.ID,
			Members:          members,
			SupervisorPrompt: sub.SupervisorPrompt,
			ExtraInfo:        sub.ExtraInfo,
		})
		reduced = append(reduced, models.TeamSpec{
			TeamID:  sub.ID,
			Members: members,
		})
	}

	return models.TaskQuery{
		UserID:      userID,
		TaskMessage: message,
		Teams:       full,
		StateOption: models.StateOption{
			ID:      userID,
			AgentID: agentID,
			Teams:   reduced,
		},
		ThreadID: threadID,
	}, nil
}
