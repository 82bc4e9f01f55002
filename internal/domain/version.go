package domain

import (
	"fmt"
	"strconv"
)

// FirstVersion is the version of a report that was never amended.
const FirstVersion = "00"

const versionWidth = 2

// VersionNumber parses a zero-padded version. Malformed versions count as zero.
func VersionNumber(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// NextVersion returns the version following v, keeping the zero padding.
func NextVersion(v string) string {
	return fmt.Sprintf("%0*d", versionWidth, VersionNumber(v)+1)
}

// IsAmendment reports whether the version belongs to an amended report.
func IsAmendment(v string) bool {
	return VersionNumber(v) > 0
}
