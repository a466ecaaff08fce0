/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package libinfo

import (
	"debug/buildinfo"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
)

// LibName is the name of the module used in the User-Agent header and log prefixes.
const LibName = "go-dcrkit"

const libPath = "github.com/acronis/" + LibName

const develVersion = "v0.0.0"

var libVersion string
var libVersionOnce sync.Once

func initLibVersion() {
	buildInfo, _ := debug.ReadBuildInfo()
	if buildInfo != nil && buildInfo.Main.Path == libPath && buildInfo.Main.Version != "(devel)" {
		libVersion = buildInfo.Main.Version
	} else {
		libVersion = extractLibVersion(buildInfo, libPath)
	}
	if libVersion == "" {
		libVersion = develVersion
	}
}

// extractLibVersion looks for the module in the dependencies, major version suffixes (/v2, /v3, ...) included.
func extractLibVersion(buildInfo *buildinfo.BuildInfo, modulePath string) string {
	if buildInfo == nil {
		return ""
	}
	for _, dep := range buildInfo.Deps {
		if dep.Path == modulePath || strings.HasPrefix(dep.Path, modulePath+"/v") {
			return dep.Version
		}
	}
	return ""
}

// GetLibVersion returns the version of the module as it is recorded in the build info.
func GetLibVersion() string {
	libVersionOnce.Do(initLibVersion)
	return libVersion
}

// UserAgent returns the User-Agent header value of the outbound requests made by the module.
func UserAgent() string {
	return LibName + "/" + GetLibVersion() + " (" + runtime.Version() + ")"
}

// LogPrefix returns the prefix of the messages logged by the module's components.
func LogPrefix() string {
	return "[" + LibName + "/" + GetLibVersion() + "] "
}
