package operations

import (
	"embed"
	"fmt"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Names of the built-in extraction operations.
const (
	PDFExtraction      = "pdf_extraction"
	VariableExtraction = "variable_extraction"
	CodeToAMR          = "code_to_amr"
	EquationsToAMR     = "equations_to_amr"
	ProfileModel       = "profile_model"
	LinkAMR            = "link_amr"
	ProfileDataset     = "profile_dataset"
)

// SchemaPair holds the argument and result schemas of an operation.
type SchemaPair struct {
	Arguments string
	Result    string
}

var defaultSchemaFiles = map[string][2]string{
	PDFExtraction:      {"pdf_extraction.arguments.json", "pdf_extraction.result.json"},
	VariableExtraction: {"variable_extraction.arguments.json", "variable_extraction.result.json"},
	CodeToAMR:          {"code_to_amr.arguments.json", "amr.result.json"},
	EquationsToAMR:     {"equations_to_amr.arguments.json", "amr.result.json"},
	ProfileModel:       {"profile_model.arguments.json", "profile.result.json"},
	LinkAMR:            {"link_amr.arguments.json", "amr.result.json"},
	ProfileDataset:     {"profile_dataset.arguments.json", "profile.result.json"},
}

// DefaultSchemas returns the schemas of the built-in operations keyed by name.
func DefaultSchemas() (map[string]SchemaPair, error) {
	out := make(map[string]SchemaPair, len(defaultSchemaFiles))
	for name, files := range defaultSchemaFiles {
		args, err := schemaFS.ReadFile("schemas/" + files[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", files[0], err)
		}
		result, err := schemaFS.ReadFile("schemas/" + files[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", files[1], err)
		}
		out[name] = SchemaPair{Arguments: string(args), Result: string(result)}
	}
	return out, nil
}

// RegisterServices registers an HTTP operation for every configured service.
// Built-in operation names get their default schemas; other names are
// registered without schemas.
func RegisterServices(r *Registry, services map[string]string, opts *HTTPOptions) error {
	defaults, err := DefaultSchemas()
	if err != nil {
		return err
	}
	for name, endpoint := range services {
		pair := defaults[name]
		if err := r.Register(Spec{
			Name:           name,
			ArgumentSchema: pair.Arguments,
			ResultSchema:   pair.Result,
			Func:           NewHTTPOperation(endpoint, opts),
		}); err != nil {
			return fmt.Errorf("failed to register service %s: %w", name, err)
		}
	}
	return nil
}
