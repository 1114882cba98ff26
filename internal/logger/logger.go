// Package logger builds the shared structured logger.
package logger

import "go.uber.org/zap"

// New returns a production JSON logger, or a human-readable development
// logger for any other environment.
func New(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
