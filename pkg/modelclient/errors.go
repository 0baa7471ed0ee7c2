package modelclient

import (
	"context"
	"errors"
	"net"
	"net/url"
)

// ErrTimeout is returned when a call exceeds one of the configured timeout
// tiers (connect, read, or total).
var ErrTimeout = errors.New("model request timed out")

// ErrConnection is returned on transport failure before or during the
// exchange.
var ErrConnection = errors.New("model connection failed")

// classifyTransportError folds a transport-layer failure into the client's
// error taxonomy, keeping the original error in the chain.
func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return errors.Join(ErrTimeout, err)
		}
		return errors.Join(ErrConnection, err)
	}

	return errors.Join(ErrConnection, err)
}
