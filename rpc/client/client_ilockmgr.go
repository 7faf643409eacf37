package client

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"github.com/ValentinKolb/dCloud/lib/lockmgr"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"net/http"
	"net/url"
	"time"
)

var _ lockmgr.ILockManager = (*Client)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see the lockmgr package in interface.go)
// --------------------------------------------------------------------------

func (c *Client) AcquireLock(ctx context.Context, key string, timeout time.Duration) (ok bool, ownerID []byte, err error) {
	path := common.AdminRouteLock + "/" + url.PathEscape(key)
	if timeout > 0 {
		path += "?timeout=" + url.QueryEscape(timeout.String())
	}
	resp, err := c.lockRequest(ctx, http.MethodPost, path)
	if err != nil {
		return false, nil, err
	}
	if !resp.Ok {
		return false, nil, nil
	}
	ownerID, err = hex.DecodeString(resp.Owner)
	if err != nil {
		return false, nil, err
	}
	return true, ownerID, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string, ownerID []byte) (ok bool, err error) {
	path := common.AdminRouteLock + "/" + url.PathEscape(key) + "?owner=" + hex.EncodeToString(ownerID)
	resp, err := c.lockRequest(ctx, http.MethodDelete, path)
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *Client) lockRequest(ctx context.Context, method, path string) (*common.LockResponse, error) {
	resp, err := c.invoke(ctx, method, path, nil, nil)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, errorOf(resp)
	}
	var lr common.LockResponse
	if err := json.Unmarshal(resp.body, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}
