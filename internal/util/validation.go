package util

import "github.com/google/uuid"

// IsValidUUID accepts only the canonical 36 character form, so path ids
// like "{...}" or "urn:uuid:..." never reach the database.
func IsValidUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
