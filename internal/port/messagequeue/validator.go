package messagequeue

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation
// (future-proof for new message types).
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	if strings.HasPrefix(subject, SubjectRunsUpdatedPrefix) {
		var p RunUpdatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.RunID == "" || p.Type == "" {
			return fmt.Errorf("schema validation failed for %s: run_id and type are required", subject)
		}
		return nil
	}
	return nil
}
