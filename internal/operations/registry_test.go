package operations

import (
	"context"
	"errors"
	"testing"

	"github.com/jonathan/extraction-pipeline/internal/schemas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echo(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"text": args["document"]}, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register(Spec{Name: "echo", Func: echo}))
	assert.True(t, r.Has("echo"))
	assert.False(t, r.Has("other"))

	err := r.Register(Spec{Name: "echo", Func: echo})
	assert.ErrorContains(t, err, "already registered")

	assert.ErrorContains(t, r.Register(Spec{Func: echo}), "name is empty")
	assert.ErrorContains(t, r.Register(Spec{Name: "nofunc"}), "no function")

	err = r.Register(Spec{Name: "bad", Func: echo, ArgumentSchema: `{"type": 5}`})
	var loadErr *schemas.SchemaLoadError
	assert.ErrorAs(t, err, &loadErr)
	assert.False(t, r.Has("bad"))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Spec{Name: "b", Func: echo})
	r.MustRegister(Spec{Name: "a", Func: echo})

	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.Panics(t, func() { r.MustRegister(Spec{Name: "a", Func: echo}) })
}

func TestRegistry_ValidateArguments(t *testing.T) {
	defaults, err := DefaultSchemas()
	require.NoError(t, err)

	r := NewRegistry()
	r.MustRegister(Spec{Name: PDFExtraction, ArgumentSchema: defaults[PDFExtraction].Arguments, Func: echo})
	r.MustRegister(Spec{Name: "free", Func: echo})

	assert.NoError(t, r.ValidateArguments(PDFExtraction, map[string]any{"document": "paper.pdf"}))
	assert.NoError(t, r.ValidateArguments("free", nil))

	err = r.ValidateArguments(PDFExtraction, map[string]any{})
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, PDFExtraction, argErr.Operation)
	var validationErr *schemas.ValidationError
	assert.ErrorAs(t, err, &validationErr)

	err = r.ValidateArguments("missing", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestRegistry_Invoke(t *testing.T) {
	defaults, err := DefaultSchemas()
	require.NoError(t, err)

	r := NewRegistry()
	r.MustRegister(Spec{Name: PDFExtraction, ResultSchema: defaults[PDFExtraction].Result, Func: echo})
	r.MustRegister(Spec{Name: "nil", Func: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, nil
	}})
	r.MustRegister(Spec{Name: "fails", Func: func(context.Context, map[string]any) (map[string]any, error) {
		return nil, errors.New("service exploded")
	}})

	result, err := r.Invoke(context.Background(), PDFExtraction, map[string]any{"document": "paper text"})
	require.NoError(t, err)
	assert.Equal(t, "paper text", result["text"])

	// echo returns text=nil when document is missing, violating the result schema
	_, err = r.Invoke(context.Background(), PDFExtraction, map[string]any{})
	var resultErr *ResultError
	assert.ErrorAs(t, err, &resultErr)

	result, err = r.Invoke(context.Background(), "nil", nil)
	require.NoError(t, err)
	assert.Empty(t, result)

	_, err = r.Invoke(context.Background(), "fails", nil)
	assert.EqualError(t, err, "service exploded")

	_, err = r.Invoke(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestDefaultSchemas_Compile(t *testing.T) {
	defaults, err := DefaultSchemas()
	require.NoError(t, err)

	for _, name := range []string{PDFExtraction, VariableExtraction, CodeToAMR, EquationsToAMR,
		ProfileModel, LinkAMR, ProfileDataset} {
		pair, ok := defaults[name]
		require.True(t, ok, name)
		_, err := schemas.Compile(name, pair.Arguments)
		assert.NoError(t, err, name)
		_, err = schemas.Compile(name, pair.Result)
		assert.NoError(t, err, name)
	}
}
