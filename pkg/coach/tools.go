// Package coach drives the weekly plan choreography over a realtime
// session: register the three plan tools, walk the conversation through
// review, adjustment and confirmation, and persist each step's result.
package coach

// The three tools the model can invoke, in choreography order.
const (
	ToolReviewPlan  = "review_current_weekly_plan"
	ToolAdjustPlan  = "adjust_exercise_plan"
	ToolConfirmPlan = "confirm_final_plan"
)

// Result store keys, one per completed step. Later completions of the same
// step overwrite the earlier entry.
const (
	KeyLastReview       = "lastReviewPlan"
	KeyLastAdjustment   = "lastExerciseAdjustment"
	KeyLastConfirmation = "lastPlanConfirmation"
)

// Follow-up instructions sent after each completed step.
const (
	adjustInstructions = "The user's feedback on their weekly plan has been recorded. " +
		"Discuss what should change, agree on an adjustment with the user, then call " +
		"adjust_exercise_plan with a short summary of the change."

	confirmInstructions = "The adjustment has been recorded. Read the final weekly plan " +
		"back to the user and, once they agree to it, call confirm_final_plan."

	farewellInstructions = "The plan is confirmed. Thank the user, wish them a good " +
		"week of training and say goodbye."
)

// Tool is a function the model may invoke during the conversation, in the
// realtime API's session.update wire shape.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Tools returns the three plan tool definitions. They are static
// configuration, registered exactly once per session.
func Tools() []Tool {
	return []Tool{
		{
			Type:        "function",
			Name:        ToolReviewPlan,
			Description: "Record the user's feedback on their current weekly exercise plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_feedback": map[string]any{
						"type":        "string",
						"description": "What the user said about the current plan, in their own words.",
					},
				},
				"required": []string{"user_feedback"},
			},
		},
		{
			Type:        "function",
			Name:        ToolAdjustPlan,
			Description: "Record the adjustment agreed for the weekly exercise plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"adjustment_summary": map[string]any{
						"type":        "string",
						"description": "A short summary of how the plan was adjusted.",
					},
				},
				"required": []string{"adjustment_summary"},
			},
		},
		{
			Type:        "function",
			Name:        ToolConfirmPlan,
			Description: "Record the user's final confirmation of the adjusted plan.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"final_plan_summary": map[string]any{
						"type":        "string",
						"description": "The confirmed weekly plan in one or two sentences.",
					},
					"user_agreed": map[string]any{
						"type":        "boolean",
						"description": "Whether the user explicitly agreed to the final plan.",
					},
				},
				"required": []string{"final_plan_summary", "user_agreed"},
			},
		},
	}
}
