package scenarios

// Input is one kind of scenario input file.
type Input string

// Scenario inputs and the file each is read from
const (
	Paper     Input = "paper.pdf"
	Code      Input = "code.zip"
	Equations Input = "equations.txt"
	Dataset   Input = "dataset.csv"
)

// Inputs lists every known input.
var Inputs = []Input{Paper, Code, Equations, Dataset}

// Rule states which inputs a stage needs: all of AllOf and, when AnyOf is
// non-empty, at least one of AnyOf.
type Rule struct {
	AllOf []Input
	AnyOf []Input
}

// Satisfied reports whether the available inputs satisfy the rule.
func (r Rule) Satisfied(has func(Input) bool) bool {
	for _, in := range r.AllOf {
		if !has(in) {
			return false
		}
	}
	if len(r.AnyOf) == 0 {
		return true
	}
	for _, in := range r.AnyOf {
		if has(in) {
			return true
		}
	}
	return false
}

// Rules maps stage names to applicability rules. Stages without a rule are
// never applicable.
type Rules map[string]Rule

// DefaultRules covers the built-in extraction stages.
func DefaultRules() Rules {
	return Rules{
		"pdf_extraction":      {AllOf: []Input{Paper}},
		"variable_extraction": {AllOf: []Input{Paper}},
		"code_to_amr":         {AllOf: []Input{Code}},
		"equations_to_amr":    {AllOf: []Input{Equations}},
		"profile_model":       {AllOf: []Input{Paper, Code}},
		"link_amr":            {AllOf: []Input{Paper}, AnyOf: []Input{Code, Equations}},
		"profile_dataset":     {AllOf: []Input{Dataset}},
	}
}
