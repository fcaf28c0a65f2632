package evaluation

import (
	"strings"
)

// LanguagePython is the only language the evaluator image runs
const LanguagePython = "python"

// Request is one evaluation request
type Request struct {
	Code     string         `json:"code"`
	Language string         `json:"language"`
	Scope    map[string]any `json:"scope"`
}

// Validate checks the request before any workspace or sandbox is created.
// An empty scope object is valid; a missing or null one is not.
func (r *Request) Validate() error {
	if r.Code == "" || r.Language == "" || r.Scope == nil {
		return ErrMissingFields
	}

	if !strings.EqualFold(r.Language, LanguagePython) {
		return ErrUnsupportedLanguage
	}

	return nil
}
