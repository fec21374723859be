package status

import (
	"fmt"
	"net/http"

	"github.com/antonholmquist/jason"
	"github.com/pkg/errors"
)

// Exported errors
var (
	ErrNotFound       = errors.New("not found")
	ErrUnexpectedResp = errors.New("unexpected response code")
)

// Client talks to a status server.
type Client struct {
	// HostURL is the base address of the server, e.g. "http://localhost:14001".
	HostURL string
}

// Status returns the batch snapshot.
func (c *Client) Status() (*jason.Object, error) {
	v, err := c.doJasonGet("GET", "/status")
	if err != nil {
		return nil, err
	}
	return v.Object()
}

// Failures returns the packages which failed so far.
func (c *Client) Failures() ([]*jason.Object, error) {
	v, err := c.doJasonGet("GET", "/failures")
	if err != nil {
		return nil, err
	}
	return v.ObjectArray()
}

// History returns the ledger entries of a batch.
func (c *Client) History(batch string) ([]*jason.Object, error) {
	v, err := c.doJasonGet("GET", "/history/"+batch)
	if err != nil {
		return nil, err
	}
	return v.ObjectArray()
}

// Cancel asks the batch to stop and returns its status.
func (c *Client) Cancel() (*jason.Object, error) {
	v, err := c.doJasonGet("POST", "/cancel")
	if err != nil {
		return nil, err
	}
	return v.Object()
}

func (c *Client) doJasonGet(method, path string) (*jason.Value, error) {
	req, err := http.NewRequest(method, c.HostURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case 200:
		return jason.NewValueFromReader(resp.Body)
	case 404:
		return nil, errors.Wrap(ErrNotFound, path)
	default:
		return nil, errors.Wrap(ErrUnexpectedResp, fmt.Sprintf("%s: received status %d", path, resp.StatusCode))
	}
}
