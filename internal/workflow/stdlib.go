package workflow

import "github.com/meridianhq/orchestrator/pkg/models"

// registerStandardLibrary installs the three standard-library workflows:
// simple_research, research_analyze_write, and fallback.
func registerStandardLibrary(r *Runner) {
	r.Register(&models.WorkflowDefinition{
		Name: "simple_research",
		Steps: []models.WorkflowStep{
			{AgentID: "researcher", InputRule: models.InputFromQuery},
		},
	})

	r.Register(&models.WorkflowDefinition{
		Name: "research_analyze_write",
		Steps: []models.WorkflowStep{
			{AgentID: "researcher", InputRule: models.InputFromQuery},
			{AgentID: "analyst", InputRule: models.InputFromPriorStep},
			{AgentID: "writer", InputRule: models.InputFromPriorStep},
		},
	})

	r.Register(&models.WorkflowDefinition{
		Name: "fallback",
		Steps: []models.WorkflowStep{
			{AgentID: "fallback_agent", InputRule: models.InputFromQuery},
		},
	})
}
