package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-cluster-organization/acqgateway/internal/model"
	"github.com/jeeves-cluster-organization/acqgateway/internal/value"
)

func testSample() value.Value {
	return value.Map(map[string]value.Value{
		"temp":   value.Float(21.5),
		"status": value.String("running"),
		"device": value.Map(map[string]value.Value{
			"tempC": value.Int(42),
		}),
	})
}

func TestApplyReturnsNilWithoutRuleAndAutoMappingDisabled(t *testing.T) {
	e := NewEngine("", nil)
	rec, err := e.Apply("src-1", testSample(), model.SourceSpec{ID: "src-1", AutoMapping: false})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestApplyAutogeneratesWhenAutoMappingEnabled(t *testing.T) {
	e := NewEngine("", nil)
	rec, err := e.Apply("src-1", testSample(), model.SourceSpec{ID: "src-1", AutoMapping: true})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEmpty(t, rec.Measurements)

	_, ok := e.Rule("src-1")
	assert.True(t, ok, "autogenerate should persist the starter rule so subsequent samples reuse it")
}

func TestApplyRunsExplicitRuleInDeclarationOrderLaterWins(t *testing.T) {
	e := NewEngine("", nil)
	rule := model.MappingRule{
		SourceID: "src-1",
		Mappings: []model.FieldMapping{
			{SourceField: "temp", TargetField: "reading.value", Transform: model.Transform{Kind: model.TransformDirect}},
			{SourceField: "device.tempC", TargetField: "reading.value", Transform: model.Transform{Kind: model.TransformDirect}},
		},
	}
	require.NoError(t, e.AddRule(rule, false))

	rec, err := e.Apply("src-1", testSample(), model.SourceSpec{ID: "src-1"})
	require.NoError(t, err)
	require.Len(t, rec.Measurements, 1)
	i, ok := rec.Measurements[0].Value.(int64)
	require.True(t, ok)
	assert.Equal(t, int64(42), i, "later mapping to the same target path should win")
}

func TestApplySkipsMissingSourceField(t *testing.T) {
	e := NewEngine("", nil)
	rule := model.MappingRule{
		SourceID: "src-1",
		Mappings: []model.FieldMapping{
			{SourceField: "does.not.exist", TargetField: "x", Transform: model.Transform{Kind: model.TransformDirect}},
			{SourceField: "temp", TargetField: "temp", Transform: model.Transform{Kind: model.TransformDirect}},
		},
	}
	require.NoError(t, e.AddRule(rule, false))

	rec, err := e.Apply("src-1", testSample(), model.SourceSpec{ID: "src-1"})
	require.NoError(t, err)
	require.Len(t, rec.Measurements, 1)
	assert.Equal(t, "temp", rec.Measurements[0].ID)
}

func TestAddRuleRefusesToOverwriteHandEditedRuleWithoutForce(t *testing.T) {
	e := NewEngine("", nil)
	handEdited := model.MappingRule{SourceID: "src-1", AutoGenerated: false}
	require.NoError(t, e.AddRule(handEdited, false))

	err := e.AddRule(model.MappingRule{SourceID: "src-1", AutoGenerated: true}, false)
	assert.ErrorIs(t, err, model.ErrRuleExistsNotForced)

	require.NoError(t, e.AddRule(model.MappingRule{SourceID: "src-1", AutoGenerated: true}, true))
	rule, _ := e.Rule("src-1")
	assert.True(t, rule.AutoGenerated)
}

func TestAddRuleRejectsMalformedFormula(t *testing.T) {
	e := NewEngine("", nil)
	rule := model.MappingRule{
		SourceID: "src-1",
		Mappings: []model.FieldMapping{
			{SourceField: "temp", TargetField: "t", Transform: model.Transform{Kind: model.TransformFormula, Expr: "x + y"}},
		},
	}
	assert.Error(t, e.AddRule(rule, false))
}

func TestAutogenerateProducesSnakeCaseTargetsAndInferredTransforms(t *testing.T) {
	e := NewEngine("", nil)
	rule := e.Autogenerate("src-1", testSample(), model.SourceSpec{ID: "src-1", Type: model.DriverModbus})

	byTarget := make(map[string]model.FieldMapping)
	for _, fm := range rule.Mappings {
		byTarget[fm.TargetField] = fm
	}

	tempC, ok := byTarget["device_temp_c"]
	require.True(t, ok, "dotted + camelCase source path should become a snake_case target")
	assert.Equal(t, model.TransformNumber, tempC.Transform.Kind)

	status, ok := byTarget["status"]
	require.True(t, ok)
	assert.Equal(t, model.TransformString, status.Transform.Kind)

	assert.True(t, rule.AutoGenerated)
}

func TestRemoveRuleDeletesEntry(t *testing.T) {
	e := NewEngine("", nil)
	require.NoError(t, e.AddRule(model.MappingRule{SourceID: "src-1"}, false))
	require.NoError(t, e.RemoveRule("src-1"))

	_, ok := e.Rule("src-1")
	assert.False(t, ok)
}

func TestSaveLoadRoundTripsThroughAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")

	e1 := NewEngine(path, nil)
	require.NoError(t, e1.AddRule(model.MappingRule{
		SourceID: "src-1",
		Mappings: []model.FieldMapping{{SourceField: "temp", TargetField: "temp", Transform: model.Transform{Kind: model.TransformDirect}}},
	}, false))

	e2 := NewEngine(path, nil)
	require.NoError(t, e2.Load())

	rule, ok := e2.Rule("src-1")
	require.True(t, ok)
	require.Len(t, rule.Mappings, 1)
	assert.Equal(t, "temp", rule.Mappings[0].TargetField)
}

func TestLoadMissingFileIsEmptyCatalog(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(filepath.Join(dir, "nonexistent.json"), nil)
	require.NoError(t, e.Load())

	_, ok := e.Rule("anything")
	assert.False(t, ok)
}

func TestLoadDropsInvalidEntriesButKeepsValidOnes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"sourceId": ""}, {"sourceId": "src-1"}]`), 0o644))

	e := NewEngine(path, nil)
	require.NoError(t, e.Load())

	_, ok := e.Rule("src-1")
	assert.True(t, ok)
}
