package phase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/atlasworks/convoy/pkg/models"
)

// tableSchema validates the shape of a custom phase table document before
// the struct-level rules run.
const tableSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["name", "agent_sequence", "completion_criteria", "estimated_hours", "max_hours"],
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"agent_sequence": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"completion_criteria": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
			"estimated_hours": {"type": "number", "exclusiveMinimum": 0},
			"max_hours": {"type": "number", "exclusiveMinimum": 0},
			"parallel": {"type": "boolean"},
			"next_phase": {"type": "string"}
		},
		"additionalProperties": false
	}
}`

// Table is an ordered, validated phase sequence. Progression follows the
// declared order, so transitions are forward-only by construction.
type Table struct {
	phases []models.PhaseDefinition
	index  map[string]int
}

// DefaultTable returns the built-in delivery lifecycle.
func DefaultTable() *Table {
	table, err := newTable([]models.PhaseDefinition{
		{
			Name:               "discovery",
			AgentSequence:      []string{"analyst"},
			CompletionCriteria: []string{"requirements_gathered"},
			EstimatedHours:     8,
			MaxHours:           16,
			NextPhase:          "plan",
		},
		{
			Name:               "plan",
			AgentSequence:      []string{"project_manager"},
			CompletionCriteria: []string{"plan_approved"},
			EstimatedHours:     4,
			MaxHours:           8,
			NextPhase:          "design",
		},
		{
			Name:               "design",
			AgentSequence:      []string{"architect"},
			CompletionCriteria: []string{"design_documented"},
			EstimatedHours:     12,
			MaxHours:           24,
			NextPhase:          "build",
		},
		{
			Name:               "build",
			AgentSequence:      []string{"developer"},
			CompletionCriteria: []string{"implementation_complete"},
			EstimatedHours:     40,
			MaxHours:           80,
			NextPhase:          "validate",
		},
		{
			Name:               "validate",
			AgentSequence:      []string{"tester", "reviewer"},
			CompletionCriteria: []string{"tests_passed", "code_reviewed"},
			EstimatedHours:     16,
			MaxHours:           32,
			Parallel:           true,
			NextPhase:          "launch",
		},
		{
			Name:               "launch",
			AgentSequence:      []string{"project_manager"},
			CompletionCriteria: []string{"release_approved"},
			EstimatedHours:     4,
			MaxHours:           8,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("default phase table is invalid: %v", err))
	}

	return table
}

// ParseTable builds a table from a JSON document, validating it against the
// schema, the struct rules, and the forward-only chain invariant.
func ParseTable(raw []byte) (*Table, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(tableSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to validate phase table: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return nil, fmt.Errorf("phase table document is invalid: %s", strings.Join(details, "; "))
	}

	var phases []models.PhaseDefinition
	if err := json.Unmarshal(raw, &phases); err != nil {
		return nil, fmt.Errorf("failed to parse phase table: %w", err)
	}

	validate := validator.New()
	for i := range phases {
		if err := validate.Struct(&phases[i]); err != nil {
			return nil, fmt.Errorf("phase %q is invalid: %w", phases[i].Name, err)
		}
	}

	return newTable(phases)
}

func newTable(phases []models.PhaseDefinition) (*Table, error) {
	if len(phases) == 0 {
		return nil, fmt.Errorf("phase table is empty")
	}

	index := make(map[string]int, len(phases))

	for i, phase := range phases {
		if _, exists := index[phase.Name]; exists {
			return nil, fmt.Errorf("duplicate phase %q", phase.Name)
		}

		index[phase.Name] = i
	}

	for i, phase := range phases {
		if phase.NextPhase == "" {
			continue
		}

		next, ok := index[phase.NextPhase]
		if !ok {
			return nil, fmt.Errorf("phase %q points to unknown phase %q", phase.Name, phase.NextPhase)
		}

		if next <= i {
			return nil, fmt.Errorf("phase %q points backwards to %q", phase.Name, phase.NextPhase)
		}
	}

	return &Table{phases: phases, index: index}, nil
}

// Get returns the named phase definition.
func (t *Table) Get(name string) (*models.PhaseDefinition, error) {
	i, ok := t.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, name)
	}

	phase := t.phases[i]

	return &phase, nil
}

// First returns the entry phase of the table.
func (t *Table) First() *models.PhaseDefinition {
	phase := t.phases[0]

	return &phase
}

// Phases returns the table in declared order.
func (t *Table) Phases() []models.PhaseDefinition {
	return append([]models.PhaseDefinition(nil), t.phases...)
}
