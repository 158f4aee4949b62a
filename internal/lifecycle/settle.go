package lifecycle

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const dialTimeout = 200 * time.Millisecond

// settle waits until addr accepts a TCP connection or max elapses. It reports
// whether the address became reachable. An empty addr waits the full delay.
func settle(ctx context.Context, addr string, max time.Duration) bool {
	if max <= 0 {
		return false
	}
	if addr == "" {
		select {
		case <-ctx.Done():
		case <-time.After(max):
		}
		return false
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 50 * time.Millisecond
	eb.MaxInterval = 500 * time.Millisecond
	eb.MaxElapsedTime = max

	var d net.Dialer
	err := backoff.Retry(func() error {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		conn, err := d.DialContext(dctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	}, backoff.WithContext(eb, ctx))
	return err == nil
}
