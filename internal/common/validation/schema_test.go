package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name":   {"type": "string", "minLength": 1},
		"amount": {"type": ["number", "null"], "exclusiveMinimum": 0},
		"contact": {
			"type": "object",
			"required": ["email"],
			"properties": {"email": {"type": "string"}}
		}
	}
}`

func TestSchema_Valid(t *testing.T) {
	s := MustCompile(testSchema)

	res, err := s.Validate(map[string]interface{}{"name": "Jane", "amount": nil})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Errors)
}

func TestSchema_Errors(t *testing.T) {
	s := MustCompile(testSchema)

	res, err := s.Validate(map[string]interface{}{
		"amount":  -5,
		"contact": map[string]interface{}{},
	})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.HasErrors("name"))
	assert.True(t, res.HasErrors("amount"))
	assert.True(t, res.HasErrors("contact.email"))
	assert.Len(t, res.GetErrorsForField("contact"), 1)
	assert.Len(t, res.GetErrorMessages(), len(res.Errors))
}

func TestSchema_ValidatesStructs(t *testing.T) {
	type doc struct {
		Name   string   `json:"name"`
		Amount *float64 `json:"amount"`
	}
	s := MustCompile(testSchema)

	res, err := s.Validate(doc{Name: "Jane"})
	require.NoError(t, err)
	assert.True(t, res.Valid)

	zero := 0.0
	res, err = s.Validate(doc{Name: "Jane", Amount: &zero})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.True(t, res.HasErrors("amount"))
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile(`{"type": "nonsense"}`)
	assert.Error(t, err)

	assert.Panics(t, func() { MustCompile(`not json`) })
}
