package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// stepLimitMessage is the well-known failure text for exceeding
// the hard step cap.
const stepLimitMessage = "agent exceeded step limit"

// duplicateActionMessage is the well-known failure text the repeated-action
// guard reports.
const duplicateActionMessage = "agent repeated same action too many times"

const malformedRetryMessage = "invalid output, please emit one JSON action"

// Runtime executes the planner loop described in the agent-runtime
// contract: one JSON action per step, bounded by a step cap, a
// repeated-action fingerprint guard, and a parse-retry budget, with
// tool/skill results fed back as synthetic observation steps. This
// mirrors the teacher's AgenticLoop state machine (stream → execute
// tools → continue/complete), generalized from provider-native
// streamed tool calls to a planner that must itself emit one JSON
// action in plain text per turn.
type Runtime struct {
	planner Planner
	tools   ToolExecutor
	skills  SkillExecutor
	cfg     Config
	log     *slog.Logger

	userID int64
	chatID int64
}

// New builds a Runtime scoped to one user/chat, the same way
// NewLLMPlanner binds a single user id per instance: userID/chatID are
// threaded into every call_skill dispatch for request-line attribution.
func New(planner Planner, tools ToolExecutor, skills SkillExecutor, cfg Config, log *slog.Logger, userID, chatID int64) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{
		planner: planner,
		tools:   tools,
		skills:  skills,
		cfg:     sanitizeConfig(cfg),
		log:     log.With("component", "agent_runtime"),
		userID:  userID,
		chatID:  chatID,
	}
}

// Run drives the planner loop to completion: a respond action, a step
// cap, a repeated-action abort, or an exhausted parse-retry budget.
func (r *Runtime) Run(ctx context.Context, goal string, toolSpecs, skillSpecs []ToolSpec, memoryBlock string) Outcome {
	traj := &Trajectory{}
	fingerprints := make(map[string]int)
	retryNotice := ""

	for step := 0; step < r.cfg.StepLimit; step++ {
		action, raw, err := r.planStep(ctx, goal, toolSpecs, skillSpecs, step, traj, memoryBlock, retryNotice)
		if err != nil {
			return r.fail(traj, err.Error())
		}
		if action == nil {
			// Malformed output budget exhausted.
			return r.fail(traj, malformedRetryMessage+": retry budget exhausted")
		}
		retryNotice = ""

		switch action.Type {
		case ActionThink:
			traj.Append(Step{Kind: StepThink, Content: action.Content})
			continue

		case ActionRespond:
			traj.Append(Step{Kind: StepRespond, Content: action.Content})
			return Outcome{Respond: true, Content: action.Content, Trajectory: traj.Steps()}

		case ActionCallTool, ActionCallSkill:
			name := action.Tool
			kind := StepCallTool
			if action.Type == ActionCallSkill {
				name = action.Skill
				kind = StepCallSkill
			}

			fp := actionFingerprint(kind, name, action.Args)
			fingerprints[fp]++
			if fingerprints[fp] > r.cfg.DupLimit {
				return r.fail(traj, duplicateActionMessage)
			}

			traj.Append(Step{Kind: kind, Tool: action.Tool, Skill: action.Skill, Args: action.Args})
			result, duration := r.execute(ctx, action)
			traj.Append(Step{
				Kind:       StepObservation,
				Tool:       action.Tool,
				Skill:      action.Skill,
				Result:     truncate(result, r.cfg.ObservationCap),
				DurationMS: duration.Milliseconds(),
			})

		default:
			retryNotice = fmt.Sprintf("unknown action type %q: %s", action.Type, malformedRetryMessage)
			r.log.Warn("planner emitted unknown action type", "type", action.Type, "raw", raw)
		}
	}

	return r.fail(traj, stepLimitMessage)
}

// planStep calls the planner, parsing its raw output as exactly one
// JSON Action, re-prompting with a retry notice up to ParseRetryLimit
// times on malformed output. Returns (nil, lastRaw, nil) once the
// retry budget is exhausted without producing valid JSON.
func (r *Runtime) planStep(ctx context.Context, goal string, tools, skills []ToolSpec, step int, traj *Trajectory, memoryBlock, retryNotice string) (*Action, string, error) {
	var lastRaw string
	for attempt := 0; attempt <= r.cfg.ParseRetryLimit; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, r.cfg.StepTimeout)
		raw, err := r.planner.Plan(stepCtx, PlanRequest{
			Goal:        goal,
			Tools:       tools,
			Skills:      skills,
			StepIndex:   step,
			Trajectory:  traj.Steps(),
			MemoryBlock: memoryBlock,
			RetryNotice: retryNotice,
		})
		cancel()
		if err != nil {
			return nil, "", fmt.Errorf("planner call failed: %w", err)
		}
		lastRaw = raw

		action, parseErr := parseAction(raw)
		if parseErr == nil {
			if schemaErr := validateActionArgs(tools, skills, action); schemaErr != nil {
				r.log.Warn("tool-call args failed schema validation", "attempt", attempt, "error", schemaErr)
				retryNotice = fmt.Sprintf("%s: %s", malformedRetryMessage, schemaErr.Error())
				continue
			}
			return action, raw, nil
		}

		r.log.Warn("malformed planner output", "attempt", attempt, "error", parseErr)
		retryNotice = malformedRetryMessage
	}
	return nil, lastRaw, nil
}

func (r *Runtime) execute(ctx context.Context, action *Action) (string, time.Duration) {
	start := time.Now()
	var result string
	var err error

	switch action.Type {
	case ActionCallTool:
		if r.tools == nil {
			err = fmt.Errorf("no tool executor configured")
		} else {
			result, err = r.tools.ExecuteTool(ctx, action.Tool, action.Args)
		}
	case ActionCallSkill:
		if r.skills == nil {
			err = fmt.Errorf("no skill executor configured")
		} else {
			result, err = r.skills.ExecuteSkill(ctx, r.userID, r.chatID, action.Skill, action.Args)
		}
	}

	if err != nil {
		return "error: " + err.Error(), time.Since(start)
	}
	return result, time.Since(start)
}

func (r *Runtime) fail(traj *Trajectory, reason string) Outcome {
	return Outcome{Respond: false, Error: reason, Trajectory: traj.Steps()}
}

// parseAction extracts exactly one JSON action object from raw
// planner output, tolerating surrounding prose the same way the
// intent router's extractJSON does.
func parseAction(raw string) (*Action, error) {
	jsonText := extractJSONObject(raw)
	var a Action
	if err := json.Unmarshal([]byte(jsonText), &a); err != nil {
		return nil, err
	}
	switch a.Type {
	case ActionThink, ActionCallTool, ActionCallSkill, ActionRespond:
	default:
		return nil, fmt.Errorf("unrecognized action type %q", a.Type)
	}
	return &a, nil
}

// validateActionArgs checks a call_tool/call_skill action's args
// against the matching ToolSpec's JSON Schema, when one is declared.
// Specs without a schema are not validated; unknown tool/skill names
// are left for the executor to reject.
func validateActionArgs(tools, skills []ToolSpec, action *Action) error {
	var specs []ToolSpec
	var name string
	switch action.Type {
	case ActionCallTool:
		specs, name = tools, action.Tool
	case ActionCallSkill:
		specs, name = skills, action.Skill
	default:
		return nil
	}

	for _, spec := range specs {
		if spec.Name != name || len(spec.Schema) == 0 {
			continue
		}
		sch, err := jsonschema.CompileString(name+".schema.json", string(spec.Schema))
		if err != nil {
			return fmt.Errorf("compile schema for %s: %w", name, err)
		}
		payload, err := json.Marshal(action.Args)
		if err != nil {
			return fmt.Errorf("encode args for %s: %w", name, err)
		}
		var decoded any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			return fmt.Errorf("decode args for %s: %w", name, err)
		}
		if err := sch.Validate(decoded); err != nil {
			return fmt.Errorf("args for %s: %w", name, err)
		}
		return nil
	}
	return nil
}

func extractJSONObject(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start >= 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}
