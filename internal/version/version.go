// Package version holds the build version of the execution runtime.
package version

// Version is overridden at build time:
//
//	go build -ldflags "-X github.com/robofit/arcor2-sub003/internal/version.Version=x.y.z"
var Version = "0.1.0"

// APIVersion is the version of the event protocol written to the telemetry sink.
const APIVersion = "1.0.0"
