package stages

// JSON-Schema maps (draft 2020-12 subset) constraining each LLM stage's
// response. Passed to the generator for pre-validation and kept strict so a
// drifting model fails loudly instead of corrupting downstream stages.

func parsedContentSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"main_topic":        map[string]any{"type": "string", "minLength": 1},
			"definitions":       stringArray(),
			"key_equations":     stringArray(),
			"core_claims":       stringArray(),
			"example_instances": stringArray(),
		},
		"required": []string{"main_topic", "definitions", "key_equations", "core_claims", "example_instances"},
	}
}

func conceptExtractionSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"core_concepts": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"concept_name":          map[string]any{"type": "string", "minLength": 1},
						"intuitive_explanation": map[string]any{"type": "string"},
						"mathematical_form":     map[string]any{"type": "string"},
						"why_it_matters":        map[string]any{"type": "string"},
					},
					"required": []string{"concept_name", "intuitive_explanation", "mathematical_form", "why_it_matters"},
				},
			},
			"concept_ordering": stringArray(),
		},
		"required": []string{"core_concepts", "concept_ordering"},
	}
}

func pedagogyPlanSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"scenes": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"scene_id":                   map[string]any{"type": "integer"},
						"scene_title":                map[string]any{"type": "string", "minLength": 1},
						"learning_goal":              map[string]any{"type": "string"},
						"visual_metaphor":            map[string]any{"type": "string"},
						"equations_to_show":          stringArray(),
						"animation_strategy":         map[string]any{"type": "string"},
						"estimated_duration_seconds": map[string]any{"type": "integer", "minimum": 1},
					},
					"required": []string{"scene_id", "scene_title", "learning_goal", "visual_metaphor", "equations_to_show", "animation_strategy"},
				},
			},
		},
		"required": []string{"scenes"},
	}
}

func sceneInstructionsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"scene_instructions": map[string]any{
				"type":     "array",
				"minItems": 1,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"scene_id": map[string]any{"type": "integer"},
						"objects": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"obj_id":     map[string]any{"type": "string", "minLength": 1},
									"obj_type":   map[string]any{"type": "string", "minLength": 1},
									"properties": map[string]any{"type": "object"},
								},
								"required": []string{"obj_id", "obj_type", "properties"},
							},
						},
						"animations": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"action":   map[string]any{"type": "string", "minLength": 1},
									"target":   map[string]any{"type": "string"},
									"duration": map[string]any{"type": "number"},
									"kwargs":   map[string]any{"type": "object"},
								},
								"required": []string{"action", "target"},
							},
						},
						"camera_actions": stringArray(),
					},
					"required": []string{"scene_id", "objects", "animations"},
				},
			},
		},
		"required": []string{"scene_instructions"},
	}
}

func animationCodeSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"manim_class_name": map[string]any{"type": "string", "minLength": 1},
			"python_code":      map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"manim_class_name", "python_code"},
	}
}

func stringArray() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string"},
	}
}
