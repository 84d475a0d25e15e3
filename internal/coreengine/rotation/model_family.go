package rotation

import (
	"regexp"
	"strings"
)

var modelVersionSuffix = regexp.MustCompile(`-(\d{3}|\d{2}-\d{2})$`)

// ModelFamily derives the quota family for a model name. The provider meters
// quota per family, so versioned and preview aliases of the same model share
// one exhaustion flag, while distinct variants (e.g. a -lite model) are their
// own family.
func ModelFamily(model string) string {
	family := model
	if idx := strings.Index(family, "-preview"); idx > 0 {
		family = family[:idx]
	}
	for {
		trimmed := modelVersionSuffix.ReplaceAllString(family, "")
		if trimmed == family {
			break
		}
		family = trimmed
	}
	return family
}
