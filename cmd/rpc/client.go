package rpc

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/canopy-network/layercast/controller"
	"github.com/canopy-network/layercast/lib"
)

type Client struct {
	rpcURL string
	client http.Client
}

func NewClient(rpcURL string, timeout time.Duration) *Client {
	return &Client{rpcURL: strings.TrimSuffix(rpcURL, "/"), client: http.Client{Timeout: timeout}}
}

func (c *Client) Version() (version *string, err lib.ErrorI) {
	version = new(string)
	err = c.get(VersionRouteName, version)
	return
}

func (c *Client) Status() (p *controller.Status, err lib.ErrorI) {
	p = new(controller.Status)
	err = c.get(StatusRouteName, p)
	return
}

func (c *Client) Metrics() (p map[string]float64, err lib.ErrorI) {
	p = make(map[string]float64)
	err = c.get(MetricsRouteName, &p)
	return
}

func (c *Client) Events() (p *EventsResponse, err lib.ErrorI) {
	p = new(EventsResponse)
	err = c.get(EventsRouteName, p)
	return
}

// Start() releases the start gate of the remote process
func (c *Client) Start() (p *controller.Status, err lib.ErrorI) {
	p = new(controller.Status)
	err = c.post(StartRouteName, nil, p)
	return
}

func (c *Client) ResourceUsage() (p *ResourceUsageResponse, err lib.ErrorI) {
	p = new(ResourceUsageResponse)
	err = c.get(ResourceUsageRouteName, p)
	return
}

func (c *Client) Config() (p *lib.Config, err lib.ErrorI) {
	p = new(lib.Config)
	err = c.get(ConfigRouteName, p)
	return
}

func (c *Client) url(routeName string) string {
	return c.rpcURL + routePaths[routeName].Path
}

func (c *Client) post(routeName string, json []byte, ptr any) lib.ErrorI {
	resp, err := c.client.Post(c.url(routeName), ApplicationJSON, bytes.NewBuffer(json))
	if err != nil {
		return ErrPostRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) get(routeName string, ptr any) lib.ErrorI {
	resp, err := c.client.Get(c.url(routeName))
	if err != nil {
		return ErrGetRequest(err)
	}
	return c.unmarshal(resp, ptr)
}

func (c *Client) unmarshal(resp *http.Response, ptr any) lib.ErrorI {
	defer resp.Body.Close()
	bz, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrReadBody(err)
	}
	if resp.StatusCode != http.StatusOK {
		return ErrHttpStatus(resp.Status, resp.StatusCode, bz)
	}
	return lib.UnmarshalJSON(bz, ptr)
}
