package api

// StateResponse is the body of GET /agent/:name/state.
type StateResponse struct {
	AgentName         string `json:"agentName"`
	NextEventNumber   int    `json:"nextEventNumber"`
	CurrentTurnNumber int    `json:"currentTurnNumber"`
	IsTurnInProgress  bool   `json:"isTurnInProgress"`
	MessageCount      int    `json:"messageCount"`
	HasLlmConfig      bool   `json:"hasLlmConfig"`
}

// AgentListResponse is the body of GET /api/v1/agents.
type AgentListResponse struct {
	Agents []string `json:"agents"`
}

// AgentStatesResponse is the body of GET /api/v1/agents/states.
type AgentStatesResponse struct {
	Agents map[string]StateResponse `json:"agents"`
}

// AckResponse acknowledges an action endpoint.
type AckResponse struct {
	AgentName string `json:"agentName"`
	Message   string `json:"message"`
}
