package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectEvaluationRequested:
		var p EvaluationRequestedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if err := p.Event.Validate(); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case SubjectEvaluationCompleted:
		var p EvaluationCompletedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.EvaluationKey == "" || p.Status == "" {
			return fmt.Errorf("schema validation failed for %s: evaluation_key and status are required", subject)
		}
	}
	return nil
}
