package agent

import (
	"encoding/json"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/resilience"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DecodeResponse parses an LLM text response into T and checks it against
// T's validate tags. Malformed or schema-violating output becomes a
// ValidationError, which the runner treats as retryable.
func DecodeResponse[T any](agent model.AgentID, raw string) (*T, error) {
	payload := ExtractJSON(raw)
	if payload == "" {
		return nil, resilience.NewValidationError(string(agent), eris.New("response contains no JSON object"))
	}

	var out T
	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, resilience.NewValidationError(string(agent), eris.Wrap(err, "decode response"))
	}

	if err := validate.Struct(&out); err != nil {
		return nil, resilience.NewValidationError(string(agent), eris.Wrap(err, "response schema"))
	}
	return &out, nil
}

// ExtractJSON strips markdown code fences and surrounding prose, returning
// the outermost JSON object in the text. Models occasionally wrap their
// output despite instructions not to.
func ExtractJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

// MarshalData serializes an agent payload into the raw form carried on
// AgentResult.
func MarshalData(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "agent: marshal payload")
	}
	return b, nil
}
