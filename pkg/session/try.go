package session

import "go.uber.org/zap"

// attempt runs a best-effort operation: a failure is logged and otherwise
// ignored. Used where the protocol must keep going whether or not the other
// side heard us (bye on exit, configuration on handshake).
func attempt(log *zap.Logger, op string, fn func() error) {
	if err := fn(); err != nil {
		log.Debug("best-effort operation failed", zap.String("op", op), zap.Error(err))
	}
}
