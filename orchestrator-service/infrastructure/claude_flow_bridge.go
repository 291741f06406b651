package infrastructure

import (
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
)

// NewClaudeFlowBridge builds the bridge for claude-flow swarm backends.
// Paths follow the claude-flow HTTP API surface.
func NewClaudeFlowBridge() domain.Bridge {
	return newHTTPBridge(domain.ServiceTypeClaudeFlow, map[domain.OperationType]string{
		domain.OpSwarmInitialize: "/api/swarm/init",
		domain.OpSwarmScale:      "/api/swarm/scale",
		domain.OpSwarmDestroy:    "/api/swarm/destroy",
		domain.OpAgentSpawn:      "/api/agents/spawn",
		domain.OpTaskOrchestrate: "/api/tasks/orchestrate",
		domain.OpMemoryStore:     "/api/memory/store",
		domain.OpMemoryRetrieve:  "/api/memory/retrieve",
	})
}
