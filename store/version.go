package store

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// initialVersion is assigned to the first appended prompt version.
const initialVersion = "1.0.0"

// nextVersion computes the identifier following latest. Appends bump the
// minor component, so the sequence reads 1.0.0, 1.1.0, 1.2.0, ...
// Semver ordering makes identifiers monotonic and comparable.
func nextVersion(latest string) (string, error) {
	if latest == "" {
		return initialVersion, nil
	}

	v, err := semver.StrictNewVersion(strings.TrimPrefix(latest, "v"))
	if err != nil {
		return "", fmt.Errorf("invalid latest version %q: %w", latest, err)
	}

	next := v.IncMinor()
	return next.String(), nil
}

// ValidateVersion checks that a version identifier is a well-formed
// semantic version. Failures wrap ErrInvalidID.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("%w: version is empty", ErrInvalidID)
	}
	if _, err := semver.StrictNewVersion(strings.TrimPrefix(version, "v")); err != nil {
		return fmt.Errorf("%w: not a semantic version: %q", ErrInvalidID, version)
	}
	return nil
}
