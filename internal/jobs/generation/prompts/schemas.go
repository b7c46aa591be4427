package prompts

// Schema builders for the structured-generation calls. OpenAI strict
// json_schema requires additionalProperties:false and every property
// listed in required; per-item semantics are enforced in the
// normalizers, not here.

func stringSchema() map[string]any { return map[string]any{"type": "string"} }

func stringArraySchema() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": stringSchema(),
	}
}

func conceptIdeaSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       stringSchema(),
			"description": stringSchema(),
			"rationale":   stringSchema(),
		},
		"required":             []string{"title", "description", "rationale"},
		"additionalProperties": false,
	}
}

func ConceptIdeasSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ideas": map[string]any{
				"type":  "array",
				"items": conceptIdeaSchema(),
			},
		},
		"required":             []string{"ideas"},
		"additionalProperties": false,
	}
}

func phrasingSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"question":    stringSchema(),
			"explanation": stringSchema(),
			"type": map[string]any{
				"type": "string",
				"enum": []string{"multiple-choice", "true-false"},
			},
			"options":        stringArraySchema(),
			"correct_answer": stringSchema(),
		},
		"required":             []string{"question", "explanation", "type", "options", "correct_answer"},
		"additionalProperties": false,
	}
}

func PhrasingsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"phrasings": map[string]any{
				"type":  "array",
				"items": phrasingSchema(),
			},
		},
		"required":             []string{"phrasings"},
		"additionalProperties": false,
	}
}
