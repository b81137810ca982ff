// Package version provides the build version of the ledgerdesk server.
package version

import "fmt"

// Version is the service current released version.
var Version = "0.3.1"

// DevVersion is the service current development version.
var DevVersion = "0.3.1"

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

func GetMinorVersion(version string) string {
	for i := len(version) - 1; i >= 0; i-- {
		if version[i] == '.' {
			return version[:i]
		}
	}
	return version
}

func String(mode string) string {
	return fmt.Sprintf("ledgerdesk/%s (%s)", GetCurrentVersion(mode), mode)
}
