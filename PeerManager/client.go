package PeerManager

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Announce sends u to the peer server at addr and waits for its reply.
func Announce(ctx context.Context, addr string, u *RouteUpdate) (*RouteReply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "contacting %s", addr)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(connTimeout)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := writeFrame(conn, u.Marshal()); err != nil {
		return nil, errors.Wrap(err, "sending update")
	}
	data, err := readFrame(conn)
	if err != nil {
		return nil, err
	}
	var reply RouteReply
	if err := reply.Unmarshal(data); err != nil {
		return nil, errors.Wrap(err, "decoding reply")
	}
	return &reply, nil
}
