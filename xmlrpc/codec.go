package xmlrpc

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/imagvfx/coalition"
)

// methodCall is a request envelope.
type methodCall struct {
	XMLName xml.Name `xml:"methodCall"`
	Method  string   `xml:"methodName"`
	Params  []param  `xml:"params>param"`
}

type param struct {
	Value value `xml:"value"`
}

// value is a value in xml-rpc encoding.
// Only one of the fields is set, except Text which is the value of a bare string.
type value struct {
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	I8       *string    `xml:"i8"`
	Boolean  *string    `xml:"boolean"`
	String   *string    `xml:"string"`
	Double   *string    `xml:"double"`
	DateTime *string    `xml:"dateTime.iso8601"`
	Base64   *string    `xml:"base64"`
	Array    *arrayVal  `xml:"array"`
	Struct   *structVal `xml:"struct"`
	Nil      *struct{}  `xml:"nil"`
	Text     string     `xml:",chardata"`
}

type arrayVal struct {
	Data []value `xml:"data>value"`
}

type structVal struct {
	Members []member `xml:"member"`
}

type member struct {
	Name  string `xml:"name"`
	Value value  `xml:"value"`
}

// decodeCall reads a method call from r.
// Params are converted into int, bool, string, float64, []interface{},
// map[string]interface{} or nil.
func decodeCall(r io.Reader) (string, []interface{}, error) {
	call := methodCall{}
	dec := xml.NewDecoder(r)
	err := dec.Decode(&call)
	if err != nil {
		return "", nil, errors.Wrap(err, "decode method call")
	}
	params := make([]interface{}, 0, len(call.Params))
	for i, p := range call.Params {
		v, err := p.Value.decode()
		if err != nil {
			return "", nil, errors.Wrapf(err, "param %v", i)
		}
		params = append(params, v)
	}
	return strings.TrimSpace(call.Method), params, nil
}

func (v value) decode() (interface{}, error) {
	switch {
	case v.Int != nil:
		return strconv.Atoi(strings.TrimSpace(*v.Int))
	case v.I4 != nil:
		return strconv.Atoi(strings.TrimSpace(*v.I4))
	case v.I8 != nil:
		return strconv.Atoi(strings.TrimSpace(*v.I8))
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1":
			return true, nil
		case "0":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean: %q", *v.Boolean)
	case v.String != nil:
		return *v.String, nil
	case v.Double != nil:
		return strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
	case v.DateTime != nil:
		return strings.TrimSpace(*v.DateTime), nil
	case v.Base64 != nil:
		return strings.TrimSpace(*v.Base64), nil
	case v.Array != nil:
		arr := make([]interface{}, 0, len(v.Array.Data))
		for _, d := range v.Array.Data {
			el, err := d.decode()
			if err != nil {
				return nil, err
			}
			arr = append(arr, el)
		}
		return arr, nil
	case v.Struct != nil:
		st := make(map[string]interface{}, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			el, err := m.Value.decode()
			if err != nil {
				return nil, errors.Wrapf(err, "member %v", m.Name)
			}
			st[m.Name] = el
		}
		return st, nil
	case v.Nil != nil:
		return nil, nil
	}
	return v.Text, nil
}

const xmlHeader = `<?xml version="1.0"?>` + "\n"

// encodeResponse encodes a successful response with the value.
func encodeResponse(v interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodResponse><params><param>")
	err := encodeValue(buf, v)
	if err != nil {
		return nil, err
	}
	buf.WriteString("</param></params></methodResponse>")
	return buf.Bytes(), nil
}

// encodeFault encodes a fault response.
func encodeFault(f *Fault) []byte {
	buf := &bytes.Buffer{}
	buf.WriteString(xmlHeader)
	buf.WriteString("<methodResponse><fault>")
	// It cannot fail, the members are all known types.
	encodeValue(buf, map[string]interface{}{
		"faultCode":   f.Code,
		"faultString": f.String,
	})
	buf.WriteString("</fault></methodResponse>")
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	buf.WriteString("<value>")
	switch v := v.(type) {
	case nil:
		buf.WriteString("<nil/>")
	case int:
		fmt.Fprintf(buf, "<int>%d</int>", v)
	case int64:
		fmt.Fprintf(buf, "<int>%d</int>", v)
	case coalition.JobID:
		fmt.Fprintf(buf, "<int>%d</int>", v)
	case bool:
		b := 0
		if v {
			b = 1
		}
		fmt.Fprintf(buf, "<boolean>%d</boolean>", b)
	case float64:
		fmt.Fprintf(buf, "<double>%s</double>", strconv.FormatFloat(v, 'f', -1, 64))
	case string:
		buf.WriteString("<string>")
		xml.EscapeText(buf, []byte(v))
		buf.WriteString("</string>")
	case []coalition.JobID:
		buf.WriteString("<array><data>")
		for _, el := range v {
			encodeValue(buf, el)
		}
		buf.WriteString("</data></array>")
	case []interface{}:
		buf.WriteString("<array><data>")
		for _, el := range v {
			err := encodeValue(buf, el)
			if err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteString("<struct>")
		for _, k := range keys {
			buf.WriteString("<member><name>")
			xml.EscapeText(buf, []byte(k))
			buf.WriteString("</name>")
			err := encodeValue(buf, v[k])
			if err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	default:
		return fmt.Errorf("cannot encode %T", v)
	}
	buf.WriteString("</value>")
	return nil
}
