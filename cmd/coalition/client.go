package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// client posts forms to the json api of a server.
type client struct {
	addr string
	http *http.Client
}

func (c *client) url(path string) string {
	if strings.HasPrefix(c.addr, "http://") || strings.HasPrefix(c.addr, "https://") {
		return strings.TrimSuffix(c.addr, "/") + path
	}
	return "http://" + c.addr + path
}

// post sends the form to the api and returns the response body.
// A response with an error status is returned as an error.
func (c *client) post(path string, data url.Values) ([]byte, error) {
	hc := c.http
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.PostForm(c.url(path), data)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := struct {
			Code  int
			Error string
		}{}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, errors.Errorf("%v: %v", resp.Status, apiErr.Error)
		}
		return nil, errors.Errorf("%v: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// postJSON posts the form and decodes the json response into v.
func (c *client) postJSON(path string, data url.Values, v interface{}) error {
	body, err := c.post(path, data)
	if err != nil {
		return err
	}
	err = json.Unmarshal(body, v)
	if err != nil {
		return errors.Wrapf(err, "decode %v", path)
	}
	return nil
}

// table is a response listing rows of values, which are named by Vars.
type table struct {
	Vars []string
	Rows [][]interface{}
}

// get returns the named value of the i-th row as string.
func (t *table) get(i int, name string) string {
	for n, v := range t.Vars {
		if v != name {
			continue
		}
		row := t.Rows[i]
		if n >= len(row) || row[n] == nil {
			return ""
		}
		switch x := row[n].(type) {
		case string:
			return x
		case float64:
			return strconv.FormatFloat(x, 'f', -1, 64)
		default:
			b, _ := json.Marshal(x)
			return string(b)
		}
	}
	return ""
}
