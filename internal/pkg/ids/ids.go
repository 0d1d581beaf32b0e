// Package ids generates prefixed identifiers.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns "<prefix>_<uuid without dashes>".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
