package gate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const noReason = "no reason given"

// DecisionSchema is the JSON schema every review response must satisfy.
const DecisionSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "allowed": { "type": "boolean" },
    "reason": { "type": "string" }
  },
  "required": ["allowed"]
}`

var decisionSchemaLoader = gojsonschema.NewStringLoader(DecisionSchema)

// Decision is the verdict for one proposed write.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// DecodeError reports a review response that is not a valid decision object.
type DecodeError struct {
	Raw string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode review response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ParseDecision decodes a review response, tolerating markdown code fences.
// A deny always comes back with a non-empty reason.
func ParseDecision(raw string) (Decision, error) {
	text := strings.ReplaceAll(raw, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	result, err := gojsonschema.Validate(decisionSchemaLoader, gojsonschema.NewStringLoader(text))
	if err != nil {
		return Decision{}, &DecodeError{Raw: raw, Err: err}
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return Decision{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%s", strings.Join(errs, "; "))}
	}

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, &DecodeError{Raw: raw, Err: err}
	}
	d.Reason = strings.TrimSpace(d.Reason)
	if !d.Allowed && d.Reason == "" {
		d.Reason = noReason
	}
	return d, nil
}
