package common

// Version is set at build time via -ldflags "-X github.com/Felyppe1/certmill/internal/common.Version=..."
var Version = "dev"

// GetVersion returns the application version string
func GetVersion() string {
	return Version
}
