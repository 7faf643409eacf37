package client

import (
	"context"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"net/http"
	"net/url"
)

// --------------------------------------------------------------------------
// Key Value Methods
// --------------------------------------------------------------------------

func kvPath(key string) string {
	return common.AdminRouteKV + "/" + url.PathEscape(key)
}

// Get returns the value of key and whether it exists
func (c *Client) Get(ctx context.Context, key string) (value []byte, found bool, err error) {
	resp, err := c.invoke(ctx, http.MethodGet, kvPath(key), nil, nil)
	if err != nil {
		return nil, false, err
	}
	switch resp.status {
	case http.StatusOK:
		return resp.body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, errorOf(resp)
	}
}

// Home returns the home node of key
func (c *Client) Home(ctx context.Context, key string) (string, error) {
	resp, err := c.invoke(ctx, http.MethodGet, kvPath(key), nil, nil)
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusOK && resp.status != http.StatusNotFound {
		return "", errorOf(resp)
	}
	return resp.header.Get(common.HeaderHome), nil
}

// Put sets the value of key and returns the previous value, if there was one
func (c *Client) Put(ctx context.Context, key string, value []byte) (prev []byte, existed bool, err error) {
	resp, err := c.invoke(ctx, http.MethodPut, kvPath(key), value, nil)
	if err != nil {
		return nil, false, err
	}
	switch resp.status {
	case http.StatusOK:
		return resp.body, true, nil
	case http.StatusCreated:
		return nil, false, nil
	default:
		return nil, false, errorOf(resp)
	}
}

// PutIfAbsent sets the value of key only if the key does not exist. If it does,
// the current value is returned.
func (c *Client) PutIfAbsent(ctx context.Context, key string, value []byte) (ok bool, cur []byte, err error) {
	resp, err := c.invoke(ctx, http.MethodPut, kvPath(key), value, map[string]string{"If-None-Match": "*"})
	if err != nil {
		return false, nil, err
	}
	switch resp.status {
	case http.StatusCreated:
		return true, nil, nil
	case http.StatusPreconditionFailed:
		return false, resp.body, nil
	default:
		return false, nil, errorOf(resp)
	}
}

// Delete removes key and returns the previous value, if there was one
func (c *Client) Delete(ctx context.Context, key string) (prev []byte, existed bool, err error) {
	resp, err := c.invoke(ctx, http.MethodDelete, kvPath(key), nil, nil)
	if err != nil {
		return nil, false, err
	}
	switch resp.status {
	case http.StatusOK:
		return resp.body, true, nil
	case http.StatusNotFound:
		return nil, false, nil
	default:
		return nil, false, errorOf(resp)
	}
}

// Keys returns the user keys held by the node, with homeOnly only those it is
// home of
func (c *Client) Keys(ctx context.Context, homeOnly bool) ([]string, error) {
	path := common.AdminRouteKV + "/"
	if homeOnly {
		path += "?home=true"
	}
	var keys []string
	if err := c.getJSON(ctx, path, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}
