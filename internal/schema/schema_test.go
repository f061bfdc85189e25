package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const numberPairSchema = `{
	"type": "object",
	"required": ["x", "y"],
	"properties": {
		"x": {"type": "number"},
		"y": {"type": "number"}
	}
}`

func TestValidateJSON_Valid(t *testing.T) {
	assert.NoError(t, ValidateJSON(numberPairSchema, `{"x": 1, "y": 2}`))
}

func TestValidateJSON_MissingRequired(t *testing.T) {
	err := ValidateJSON(numberPairSchema, `{"x": 1}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing required property "y"`)
}

func TestValidateJSON_WrongType(t *testing.T) {
	err := ValidateJSON(numberPairSchema, `{"x": "hello", "y": 2}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a number")
}

func TestValidateJSON_EmptySchemaAlwaysPasses(t *testing.T) {
	assert.NoError(t, ValidateJSON("", `{"anything": true}`))
}

func TestValidate_Enum(t *testing.T) {
	s, err := Parse(`{"type": "string", "enum": ["add", "multiply"]}`)
	require.NoError(t, err)
	assert.NoError(t, s.Validate("add"))
	assert.Error(t, s.Validate("divide"))
}

func TestValidate_Array(t *testing.T) {
	s, err := Parse(`{"type": "array", "items": {"type": "integer"}}`)
	require.NoError(t, err)
	assert.NoError(t, s.Validate([]any{1.0, 2.0, 3.0}))
	assert.Error(t, s.Validate([]any{1.0, 2.5}))
	assert.Error(t, s.Validate("not an array"))
}
