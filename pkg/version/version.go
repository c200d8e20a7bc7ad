package version

// Build holds the build identifier, injected via -ldflags "-X vpc-mesh/pkg/version.Build=...".
var Build = "dev"

// String returns the program name with its build.
func String() string {
	return "vpc-mesh " + Build
}
