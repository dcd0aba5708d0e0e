package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certflow/certflow"
)

func newDemoEngine(t *testing.T) *certflow.Engine {
	t.Helper()
	engine, err := certflow.New()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	require.NoError(t, registerDemoWorkforce(engine))
	require.NoError(t, registerDemoWorkflow(engine))
	return engine
}

func TestDemoWorkflow_CompliantApplicationGetsCertificate(t *testing.T) {
	t.Parallel()
	engine := newDemoEngine(t)

	result, err := engine.ExecuteWorkflow(context.Background(), demoWorkflowID, sampleApplication(false))
	require.NoError(t, err)
	require.True(t, result.Success, "result: %+v", result)

	cert, ok := result.Results["certificate-generation"].(map[string]any)
	require.True(t, ok, "certificate output missing: %v", result.Results)
	assert.Equal(t, "issued", cert["status"])
	assert.NotEmpty(t, cert["certificateId"])
	assert.Equal(t, "Barokah Foods Sdn Bhd", cert["company"])

	notice, ok := result.Results["notification"].(map[string]any)
	require.True(t, ok, "applicant notice missing: %v", result.Results)
	assert.Equal(t, true, notice["notified"])
	assert.Equal(t, "qa@barokahfoods.example", notice["recipient"])

	_, ranFallback := result.Results["notify-failure"]
	assert.False(t, ranFallback, "failure notice must not run on the happy path")
}

func TestDemoWorkflow_HaramIngredientsStopBeforeCertificate(t *testing.T) {
	t.Parallel()
	engine := newDemoEngine(t)

	result, err := engine.ExecuteWorkflow(context.Background(), demoWorkflowID, sampleApplication(true))
	require.NoError(t, err)
	require.True(t, result.Success)

	analysis, ok := result.Results["ingredient-analysis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "HARAM", analysis["overallStatus"])

	flagged, ok := analysis["flagged"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, flagged, 1)
	assert.Equal(t, "pork gelatin", flagged[0]["name"])

	_, issued := result.Results["certificate-generation"]
	assert.False(t, issued, "non-compliant product must not get a certificate")
	_, notified := result.Results["notification"]
	assert.False(t, notified)
}

func TestDemoWorkflow_FallbackNotifiesOnFailure(t *testing.T) {
	t.Parallel()
	engine, err := certflow.New()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	require.NoError(t, engine.Registry().Register(newDocumentExtractor()))
	require.NoError(t, engine.Registry().Register(newIngredientAnalyzer()))
	require.NoError(t, engine.Registry().Register(newNotifier()))
	broken := certflow.NewFuncAgent("broken-generator", []string{"certificate-generation"},
		func(ctx context.Context, input any) (any, error) {
			return nil, errors.New("template store unavailable")
		})
	require.NoError(t, engine.Registry().Register(broken))
	require.NoError(t, registerDemoWorkflow(engine))

	result, rerr := engine.ExecuteWorkflow(context.Background(), demoWorkflowID, sampleApplication(false))
	require.NoError(t, rerr)
	require.True(t, result.Success, "fallback should recover the run: %+v", result)

	failure, ok := result.Results["notify-failure"].(map[string]any)
	require.True(t, ok, "fallback notice missing: %v", result.Results)
	assert.Equal(t, true, failure["notified"])

	_, notified := result.Results["notification"]
	assert.False(t, notified, "applicant notice must not follow a failed issue")
}

func TestIngredientList_Shapes(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"salt", "sugar"},
		ingredientList(map[string]any{"ingredients": []any{"salt", "sugar", 7}}))
	assert.Equal(t, []string{"salt"},
		ingredientList(map[string]any{"ingredients": []string{"salt"}}))
	assert.Nil(t, ingredientList(map[string]any{"ingredients": "salt"}))
	assert.Nil(t, ingredientList(nil))
}

func TestDemoWorkflow_Definition(t *testing.T) {
	t.Parallel()

	def, err := demoWorkflow()
	require.NoError(t, err)
	assert.Equal(t, demoWorkflowID, def.ID)
	assert.Len(t, def.Steps, 5)
}
