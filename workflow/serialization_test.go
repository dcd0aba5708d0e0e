package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serializableDefinition() *Definition {
	def, err := NewBuilder("halal-certification").
		WithName("Halal Certification").
		WithVersion("1.0.0").
		WithTimeout(time.Minute).
		OnError(ErrorHandlingStrategy{Type: StrategySkip}).
		Step("document-review", "document-processing").
		WithInput(StaticInput(map[string]any{"source": "upload"})).
		WithRetry(RetryPolicy{MaxAttempts: 3, Strategy: BackoffExponential, BaseDelay: 10 * time.Millisecond}).
		Done().
		Step("certificate-generation", "certificate-generation").
		When("overallStatus", OpEq, "HALAL").
		Done().
		Build()
	if err != nil {
		panic(err)
	}
	return def
}

func TestDefinition_JSONRoundTrip(t *testing.T) {
	t.Parallel()
	def := serializableDefinition()

	out, err := def.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"halal-certification"`)
	assert.Contains(t, out, `"document-review"`)

	back, err := FromJSON(out)
	require.NoError(t, err)

	assert.Equal(t, def.ID, back.ID)
	assert.Equal(t, def.Version, back.Version)
	assert.Equal(t, def.Timeout, back.Timeout)
	assert.Equal(t, StrategySkip, back.OnError.Type)
	require.Len(t, back.Steps, 2)
	require.NotNil(t, back.Steps[0].Retry)
	assert.Equal(t, 3, back.Steps[0].Retry.MaxAttempts)
	assert.Equal(t, BackoffExponential, back.Steps[0].Retry.Strategy)
	require.Len(t, back.Steps[1].Conditions, 1)
	assert.Equal(t, "HALAL", back.Steps[1].Conditions[0].Value)
}

func TestDefinition_YAMLRoundTrip(t *testing.T) {
	t.Parallel()
	def := serializableDefinition()

	out, err := def.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "halal-certification")

	back, err := FromYAML(out)
	require.NoError(t, err)

	assert.Equal(t, def.ID, back.ID)
	assert.Equal(t, def.Timeout, back.Timeout)
	require.Len(t, back.Steps, 2)
	assert.Equal(t, "document-processing", back.Steps[0].Capability)
	require.Len(t, back.Steps[1].Conditions, 1)
	assert.Equal(t, OpEq, back.Steps[1].Conditions[0].Operator)
}

func TestFromJSON_Malformed(t *testing.T) {
	t.Parallel()
	_, err := FromJSON("{not json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal workflow")
}

func TestFromJSON_ValidatesParsedDefinition(t *testing.T) {
	t.Parallel()

	// Structurally valid JSON, semantically broken definition.
	_, err := FromJSON(`{"id":"x","steps":[{"id":"a","capability":""}]}`)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "has no capability")
}

func TestFromYAML_Malformed(t *testing.T) {
	t.Parallel()
	_, err := FromYAML("steps: [unclosed")
	assert.Error(t, err)
}

func TestFromJSON_FunctionInputRejected(t *testing.T) {
	t.Parallel()

	// A function input survives marshalling only as its kind tag, so a
	// loaded definition with one cannot run and must fail validation.
	def := serializableDefinition()
	def.Steps[0].Input = FuncInput(func(ec *ExecutionContext) any { return nil })
	out, err := def.ToJSON()
	require.NoError(t, err)

	_, err = FromJSON(out)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "serialized")
}

func TestDefinition_FileRoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	def := serializableDefinition()

	jsonPath := filepath.Join(dir, "wf.json")
	require.NoError(t, def.SaveToJSONFile(jsonPath))
	back, err := LoadFromJSONFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, def.ID, back.ID)

	yamlPath := filepath.Join(dir, "wf.yaml")
	require.NoError(t, def.SaveToYAMLFile(yamlPath))
	back, err = LoadFromYAMLFile(yamlPath)
	require.NoError(t, err)
	assert.Equal(t, def.ID, back.ID)

	info, err := os.Stat(jsonPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestLoadFromJSONFile_Missing(t *testing.T) {
	t.Parallel()
	_, err := LoadFromJSONFile(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
