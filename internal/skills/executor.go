package skills

import "context"

// ExecuteSkill adapts Dispatcher to agent.SkillExecutor, threading the
// caller's user/chat scope into the request line Invoke sends the
// skill subprocess.
func (d *Dispatcher) ExecuteSkill(ctx context.Context, userID, chatID int64, name string, args map[string]any) (string, error) {
	result := d.Invoke(ctx, userID, chatID, name, args, nil)
	if result.Outcome != OutcomeOK {
		if result.ErrorText == "" {
			result.ErrorText = string(result.Outcome)
		}
		return "", &skillError{outcome: result.Outcome, text: result.ErrorText}
	}
	return result.Text, nil
}

type skillError struct {
	outcome Outcome
	text    string
}

func (e *skillError) Error() string { return string(e.outcome) + ": " + e.text }
