package schemas

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentSchema = `{
	"type": "object",
	"required": ["document"],
	"properties": {
		"document": {"type": "string", "minLength": 1},
		"pages": {"type": "integer", "minimum": 1}
	}
}`

func TestCompile_Valid(t *testing.T) {
	s, err := Compile("pdf_extraction.arguments", documentSchema)
	require.NoError(t, err)
	assert.Equal(t, "pdf_extraction.arguments", s.Name())
}

func TestCompile_Empty(t *testing.T) {
	_, err := Compile("empty", "  ")
	require.Error(t, err)

	var loadErr *SchemaLoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Contains(t, err.Error(), "schema is empty")
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	require.Error(t, err)

	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}

func TestSchema_Validate(t *testing.T) {
	s, err := Compile("args", documentSchema)
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, s.Validate(map[string]any{"document": "paper.pdf", "pages": 3}))
	})

	t.Run("missing field", func(t *testing.T) {
		err := s.Validate(map[string]any{"pages": 3})
		require.Error(t, err)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		require.Len(t, validationErr.Errors, 1)
		assert.Equal(t, "(root)", validationErr.Errors[0].Field)
		assert.Contains(t, err.Error(), "validation against args failed")
	})

	t.Run("wrong type", func(t *testing.T) {
		err := s.Validate(map[string]any{"document": "paper.pdf", "pages": "three"})
		require.Error(t, err)

		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		assert.Equal(t, "pages", validationErr.Errors[0].Field)
	})
}

func TestValidateJSONString(t *testing.T) {
	assert.NoError(t, ValidateJSONString(documentSchema, `{"document": "a.pdf"}`))

	err := ValidateJSONString(documentSchema, `{"document": ""}`)
	require.Error(t, err)
	var validationErr *ValidationError
	assert.True(t, errors.As(err, &validationErr))

	err = ValidateJSONString(`not json`, `{}`)
	var loadErr *SchemaLoadError
	assert.True(t, errors.As(err, &loadErr))
}
