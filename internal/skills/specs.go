package skills

import (
	"encoding/json"

	"github.com/edgecore/engined/internal/agent"
)

// genericArgsSchema accepts any JSON object; individual skills define
// their own argument shape in their own documentation, not in the
// static config the dispatcher loads.
var genericArgsSchema = json.RawMessage(`{"type":"object"}`)

// Specs publishes one agent.ToolSpec per registered skill, for the
// planner's tool/skill listing and its JSON Schema arg validation gate.
func Specs(entries []Entry) []agent.ToolSpec {
	specs := make([]agent.ToolSpec, 0, len(entries))
	for _, e := range entries {
		specs = append(specs, agent.ToolSpec{
			Name:        e.Name,
			Description: "subprocess skill: " + e.Name,
			Schema:      genericArgsSchema,
		})
	}
	return specs
}
