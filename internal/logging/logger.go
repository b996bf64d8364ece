// Package logging builds the structured zap logger, adapted from the
// teacher's internal/logging/logger.go.
package logging

import (
	"go.uber.org/zap"
)

// NewLogger creates the service-wide structured logger.
func NewLogger(serviceName string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.InitialFields = map[string]interface{}{
		"service": serviceName,
	}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger, nil
}

// WithDevice scopes a logger to one device actor's realm/device_id, the
// per-device analogue of the teacher's WithRequestID.
func WithDevice(logger *zap.Logger, realm, deviceID string) *zap.Logger {
	return logger.With(zap.String("realm", realm), zap.String("device_id", deviceID))
}

// WithMessage further scopes a device logger to a single in-flight message.
func WithMessage(logger *zap.Logger, messageID string) *zap.Logger {
	return logger.With(zap.String("message_id", messageID))
}
