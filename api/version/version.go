// Package version holds the process-wide version identity, initialized
// lazily on first read and immutable afterwards.
package version

import (
	"sync"

	"github.com/coreos/go-semver/semver"
	"github.com/sirupsen/logrus"
)

// Version is the default, overridden at build time via
// -ldflags "-X github.com/isoserve/isoserve/api/version.Version=x.y.z".
var Version = "0.0.0"

var (
	once    sync.Once
	current string
)

// Get returns the process version. The first call freezes it, validating
// that the build-time value is a semantic version and falling back to the
// default if it is not.
func Get() string {
	once.Do(func() {
		current = Version
		if _, err := semver.NewVersion(current); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{"version": current}).Warn("invalid version string, using default")
			current = "0.0.0"
		}
	})
	return current
}
