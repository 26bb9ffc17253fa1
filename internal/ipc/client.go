package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"iencode/internal/api"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return decodeError(c.client.Call(serviceName+"."+method, req, resp))
}

// decodeError rebuilds sentinel errors from "<code>: <message>" server errors.
func decodeError(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	code, message, ok := strings.Cut(string(serverErr), ": ")
	if !ok {
		return err
	}
	switch code {
	case api.CodeInvalid, api.CodeNotFound, api.CodeNotOwner, api.CodeNotQueued,
		api.CodeDuplicate, api.CodeQueueFull, api.CodeUnavailable:
		return api.ErrorFromCode(code, message)
	case api.CodeInternal:
		return errors.New(message)
	}
	return err
}

// Stop requests the daemon process to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Enqueue submits a job.
func (c *Client) Enqueue(req EnqueueRequest) (*EnqueueResponse, error) {
	var resp EnqueueResponse
	if err := c.call("Enqueue", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel requests cancellation of id on behalf of requester.
func (c *Client) Cancel(id, requester string) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.call("Cancel", CancelRequest{ID: id, Requester: requester}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reprioritize moves a queued job to lane.
func (c *Client) Reprioritize(id, lane, requester string) (*ReprioritizeResponse, error) {
	var resp ReprioritizeResponse
	req := ReprioritizeRequest{ID: id, Lane: lane, Requester: requester}
	if err := c.call("Reprioritize", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns the live queue snapshot, optionally for one owner.
func (c *Client) List(owner string) (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", ListRequest{Owner: owner}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Describe fetches a single job.
func (c *Client) Describe(id string) (*DescribeResponse, error) {
	var resp DescribeResponse
	if err := c.call("Describe", DescribeRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Purge runs the retention sweep now.
func (c *Client) Purge(days int) (*PurgeResponse, error) {
	var resp PurgeResponse
	if err := c.call("Purge", PurgeRequest{Days: days}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a test notification via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
