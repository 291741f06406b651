package infrastructure

import (
	"github.com/meinzeug/autodevai-orchestrator/orchestrator-service/domain"
)

// NewCodexBridge builds the bridge for codex code-assistance backends
func NewCodexBridge() domain.Bridge {
	return newHTTPBridge(domain.ServiceTypeCodex, map[domain.OperationType]string{
		domain.OpCodeGenerate: "/v1/code/generate",
		domain.OpCodeReview:   "/v1/code/review",
		domain.OpCodeExplain:  "/v1/code/explain",
	})
}
