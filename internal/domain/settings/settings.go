// Package settings defines the platform policy settings stored in the database.
package settings

import (
	"fmt"
	"time"
)

// Recognized setting keys. Unknown keys are rejected by the admin API.
const (
	KeyGMVPApprovedOnly       = "gm_vp_approved_only"
	KeyManagerVisibilityScope = "manager_visibility_scope" // reserved
	KeyAllowSelfRegistration  = "allow_self_registration"  // reserved
	KeyRequireApproval        = "require_approval"         // reserved
)

// Recognized is the set of keys the admin API accepts.
var Recognized = map[string]bool{
	KeyGMVPApprovedOnly:       true,
	KeyManagerVisibilityScope: true,
	KeyAllowSelfRegistration:  true,
	KeyRequireApproval:        true,
}

// Defaults holds the value assumed when a key is absent from the table.
var Defaults = map[string]string{
	KeyGMVPApprovedOnly: "true",
}

// Setting represents a key-value policy setting.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate rejects unknown keys and malformed values.
func Validate(key, value string) error {
	if !Recognized[key] {
		return fmt.Errorf("unknown setting key %q", key)
	}
	if key == KeyGMVPApprovedOnly && value != "true" && value != "false" {
		return fmt.Errorf("setting %s must be \"true\" or \"false\"", key)
	}
	return nil
}

// UpdateRequest holds the fields to update one or more settings.
type UpdateRequest struct {
	Settings map[string]string `json:"settings"`
}
