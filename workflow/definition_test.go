package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certflow/certflow/types"
)

func validDefinition() *Definition {
	return &Definition{
		ID:   "halal-certification",
		Name: "Halal Certification",
		Steps: []Step{
			{ID: "document-review", Capability: "document-processing"},
			{ID: "ingredient-analysis", Capability: "ingredient-analysis"},
			{
				ID:         "certificate-generation",
				Capability: "certificate-generation",
				Conditions: []Condition{
					{Field: "overallStatus", Operator: OpEq, Value: "HALAL"},
				},
			},
		},
		Timeout: time.Minute,
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestDefinition_Validate_OK(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validDefinition().Validate())
}

func TestDefinition_Validate_RequiresID(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.ID = ""
	err := def.Validate()
	assert.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrValidation))
}

func TestDefinition_Validate_RequiresSteps(t *testing.T) {
	t.Parallel()
	def := &Definition{ID: "empty"}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no steps")
}

func TestDefinition_Validate_DuplicateStepID(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.Steps = append(def.Steps, Step{ID: "document-review", Capability: "x"})
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step id")
}

func TestDefinition_Validate_RequiresCapability(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.Steps[1].Capability = ""
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "has no capability")
}

func TestDefinition_Validate_RoutingTargetsMustExist(t *testing.T) {
	t.Parallel()

	def := validDefinition()
	def.Steps[0].OnSuccess = "ghost"
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "on_success")

	def = validDefinition()
	def.Steps[0].OnError = "ghost"
	err = def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "on_error")
}

func TestDefinition_Validate_SelfAndBackwardRoutingAllowed(t *testing.T) {
	t.Parallel()

	// Loops are legal in a definition; the engine's visit ceiling bounds
	// them at execution time.
	def := validDefinition()
	def.Steps[2].OnSuccess = "document-review"
	assert.NoError(t, def.Validate())

	def.Steps[1].OnError = "ingredient-analysis"
	assert.NoError(t, def.Validate())
}

func TestDefinition_Validate_Conditions(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.Steps[2].Conditions = []Condition{{Field: "", Operator: OpEq}}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "condition 0")
}

func TestDefinition_Validate_Input(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.Steps[0].Input = &StepInput{Kind: InputKindFunc}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "input")
}

func TestDefinition_Validate_RetryPolicy(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.Steps[0].Retry = &RetryPolicy{MaxAttempts: 0}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "retry policy")
}

func TestDefinition_Validate_FallbackStrategy(t *testing.T) {
	t.Parallel()

	def := validDefinition()
	def.OnError = ErrorHandlingStrategy{Type: StrategyFallback}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "requires a fallback step")

	def.OnError.FallbackStep = "ghost"
	err = def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	def.OnError.FallbackStep = "document-review"
	assert.NoError(t, def.Validate())
}

func TestDefinition_Validate_UnknownStrategy(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	def.OnError = ErrorHandlingStrategy{Type: "explode"}
	err := def.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown error strategy")
}

// ---------------------------------------------------------------------------
// stepIndex and clone
// ---------------------------------------------------------------------------

func TestDefinition_StepIndex(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	assert.Equal(t, 0, def.stepIndex("document-review"))
	assert.Equal(t, 2, def.stepIndex("certificate-generation"))
	assert.Equal(t, -1, def.stepIndex("ghost"))
}

func TestDefinition_CloneIsolation(t *testing.T) {
	t.Parallel()
	def := validDefinition()
	cp := def.clone()
	require.Equal(t, def.ID, cp.ID)
	require.Len(t, cp.Steps, len(def.Steps))

	cp.Steps[0].Capability = "changed"
	cp.Steps[2].Conditions[0].Value = "HARAM"

	assert.Equal(t, "document-processing", def.Steps[0].Capability)
	assert.Equal(t, "HALAL", def.Steps[2].Conditions[0].Value)
}
