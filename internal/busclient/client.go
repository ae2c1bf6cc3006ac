// Package busclient is the D-Bus client side of internal/service's
// org.rust_fp.RustFp interface, shared by the fpctl CLI (component 4.K) and
// the PAM-style auth plug-in (component 4.L) so neither hand-rolls its own
// dbus call sites.
package busclient

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"fpauthd/internal/service"
	"fpauthd/internal/wire"
)

// Client wraps a system-bus connection bound to one RustFp object.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// Dial connects to the system bus and binds to busName at busPath.
func Dial(busName, busPath string) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("busclient: connect system bus: %w", err)
	}
	obj := conn.Object(busName, dbus.ObjectPath(busPath))
	return &Client{conn: conn, obj: obj}, nil
}

// Close closes the underlying bus connection.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) method(name string) string {
	return service.InterfaceName + "." + name
}

// GetMaxTemplates returns the sensor's template capacity.
func (c *Client) GetMaxTemplates(ctx context.Context) (uint64, error) {
	var n uint64
	err := c.obj.CallWithContext(ctx, c.method("GetMaxTemplates"), 0).Store(&n)
	return n, err
}

// GetFpInfo returns the sensor's reported template_max.
func (c *Client) GetFpInfo(ctx context.Context) (uint32, error) {
	var n uint32
	err := c.obj.CallWithContext(ctx, c.method("GetFpInfo"), 0).Store(&n)
	return n, err
}

// StartEnroll enqueues a new enroll operation and returns its id.
func (c *Client) StartEnroll(ctx context.Context) (uint32, error) {
	var id uint32
	err := c.obj.CallWithContext(ctx, c.method("StartEnroll"), 0).Store(&id)
	return id, err
}

// EnrollProgress is GetEnrollProgress's decoded reply.
type EnrollProgress struct {
	Found    bool
	Template []byte
	Done     bool
	Images   uint32
}

// GetEnrollProgress reads opID's current enroll status.
func (c *Client) GetEnrollProgress(ctx context.Context, opID uint32, waitForNext bool) (EnrollProgress, error) {
	var p EnrollProgress
	err := c.obj.CallWithContext(ctx, c.method("GetEnrollProgress"), 0, opID, waitForNext).
		Store(&p.Found, &p.Template, &p.Done, &p.Images)
	return p, err
}

// WaitForOperationStart blocks until opID is at the head of the queue.
func (c *Client) WaitForOperationStart(ctx context.Context, opID uint32) error {
	return c.obj.CallWithContext(ctx, c.method("WaitForOperationStart"), 0, opID).Err
}

// ClearOperationResult removes opID's status entry.
func (c *Client) ClearOperationResult(ctx context.Context, opID uint32) error {
	return c.obj.CallWithContext(ctx, c.method("ClearOperationResult"), 0, opID).Err
}

// MatchFinger enqueues a match operation and returns its id.
func (c *Client) MatchFinger(ctx context.Context, templates [][]byte) (uint32, error) {
	var id uint32
	err := c.obj.CallWithContext(ctx, c.method("MatchFinger"), 0, templates).Store(&id)
	return id, err
}

// GetMatchResult reads and decodes opID's match decision (§6.2 encoding).
func (c *Client) GetMatchResult(ctx context.Context, opID uint32, wait bool) (decided, matched bool, index uint32, err error) {
	var encoded []byte
	if err = c.obj.CallWithContext(ctx, c.method("GetMatchResult"), 0, opID, wait).Store(&encoded); err != nil {
		return false, false, 0, err
	}
	decided, matched, index, err = wire.DecodeMatchResult(encoded)
	return
}

// EnrollStep calls the stateless enroll-step API and decodes its reply
// (§6.2 encoding). Pass id == 0 to start a new enrollment.
func (c *Client) EnrollStep(ctx context.Context, id uint32) (wire.EnrollStepReply, error) {
	var encoded []byte
	if err := c.obj.CallWithContext(ctx, c.method("EnrollStep"), 0, id).Store(&encoded); err != nil {
		return wire.EnrollStepReply{}, err
	}
	return wire.DecodeEnrollStep(encoded)
}
