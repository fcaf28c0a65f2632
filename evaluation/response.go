package evaluation

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Outcome classifies how an evaluation ended
type Outcome string

const (
	OutcomeOK              Outcome = "ok"
	OutcomeRuntimeError    Outcome = "runtime_error"
	OutcomeInvalidOutput   Outcome = "invalid_output"
	OutcomeContainerError  Outcome = "container_error"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeServerError     Outcome = "server_error"
)

// Message prefixes of the errors synthesized by the evaluator
const (
	InvalidOutputPrefix  = "Invalid output format: "
	ContainerErrorPrefix = "Container error: "
)

// Response is the result of one evaluation. A Response decoded from sandbox
// output marshals back to exactly the document the sandbox printed.
type Response struct {
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Logs   []string        `json:"logs,omitempty"`

	raw     json.RawMessage
	outcome Outcome
}

// MarshalJSON implements json.Marshaler
func (r Response) MarshalJSON() ([]byte, error) {
	if r.raw != nil {
		return r.raw, nil
	}
	type plain Response
	return json.Marshal(plain(r))
}

// Outcome reports how the evaluation that produced r ended
func (r Response) Outcome() Outcome {
	if r.outcome != "" {
		return r.outcome
	}
	if r.Error != "" {
		return OutcomeRuntimeError
	}
	return OutcomeOK
}

// ErrorResponse builds a response carrying only msg
func ErrorResponse(msg string) Response {
	return Response{Error: msg}
}

func containerError(err error) Response {
	return Response{Error: ContainerErrorPrefix + err.Error(), outcome: OutcomeContainerError}
}

func invalidOutput(text string) Response {
	return Response{Error: InvalidOutputPrefix + text, outcome: OutcomeInvalidOutput}
}

// Decode parses de-framed sandbox output. Output must be exactly one JSON
// object; it is passed through untouched. Anything else becomes an
// "Invalid output format" error that carries the raw text.
func Decode(text string) Response {
	data := bytes.TrimSpace([]byte(text))

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return invalidOutput(text)
	}

	resp := Response{
		Output: fields["output"],
		raw:    json.RawMessage(data),
	}
	// Typed views are best effort; the raw document is what callers get.
	if v, ok := fields["error"]; ok {
		_ = json.Unmarshal(v, &resp.Error)
	}
	if v, ok := fields["logs"]; ok {
		_ = json.Unmarshal(v, &resp.Logs)
	}

	return resp
}

// OutcomeOf classifies the result of Evaluator.Evaluate
func OutcomeOf(resp Response, err error) Outcome {
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			return OutcomeValidationError
		}
		return OutcomeServerError
	}
	return resp.Outcome()
}
