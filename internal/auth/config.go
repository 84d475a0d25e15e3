// Package auth guards the admin management surface with a cookie session.
package auth

import (
	"os"

	"oral-eval-platform/internal/logger"
)

var adminUsername string
var adminPassword string

// LoadAdminCredentials loads the admin username and password from
// environment variables. Admin routes reject every request until both are
// configured.
func LoadAdminCredentials() {
	adminUsername = os.Getenv("ADMIN_USERNAME")
	adminPassword = os.Getenv("ADMIN_PASSWORD")

	log := logger.New().Module("auth")
	if adminUsername == "" {
		log.Warn("ADMIN_USERNAME environment variable not set, admin routes disabled")
	}
	if adminPassword == "" {
		log.Warn("ADMIN_PASSWORD environment variable not set, admin routes disabled")
	}
}
