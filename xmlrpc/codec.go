// Package xmlrpc is the wire-level XML-RPC client and server this
// library's ROS master/slave APIs are built on. It fills the role that
// "github.com/fetchrobotics/rosgo/xmlrpc" plays elsewhere in this
// ecosystem; that package's source wasn't available here, so this is a
// from-scratch implementation of the same seam: plain stdlib net/http
// and encoding/xml, logged with logrus, errors wrapped with pkg/errors.
package xmlrpc

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Fault is a native XML-RPC fault response, distinct from the
// three-element [code, message, data] envelope every ROS master/slave
// method otherwise returns: unknown methods fault, known methods use
// the envelope.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

func marshalValue(w io.Writer, v interface{}) error {
	io.WriteString(w, "<value>")
	if err := marshalInner(w, v); err != nil {
		return err
	}
	io.WriteString(w, "</value>")
	return nil
}

func marshalInner(w io.Writer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		io.WriteString(w, "<string></string>")
	case bool:
		if t {
			io.WriteString(w, "<boolean>1</boolean>")
		} else {
			io.WriteString(w, "<boolean>0</boolean>")
		}
	case int:
		fmt.Fprintf(w, "<int>%d</int>", t)
	case int32:
		fmt.Fprintf(w, "<int>%d</int>", t)
	case int64:
		fmt.Fprintf(w, "<int>%d</int>", t)
	case uint32:
		fmt.Fprintf(w, "<int>%d</int>", t)
	case float64:
		fmt.Fprintf(w, "<double>%s</double>", strconv.FormatFloat(t, 'f', -1, 64))
	case string:
		io.WriteString(w, "<string>")
		xml.EscapeText(w, []byte(t))
		io.WriteString(w, "</string>")
	case []byte:
		fmt.Fprintf(w, "<base64>%s</base64>", base64.StdEncoding.EncodeToString(t))
	case []interface{}:
		io.WriteString(w, "<array><data>")
		for _, item := range t {
			if err := marshalValue(w, item); err != nil {
				return err
			}
		}
		io.WriteString(w, "</data></array>")
	case map[string]interface{}:
		io.WriteString(w, "<struct>")
		for k, val := range t {
			io.WriteString(w, "<member><name>")
			xml.EscapeText(w, []byte(k))
			io.WriteString(w, "</name>")
			if err := marshalValue(w, val); err != nil {
				return err
			}
			io.WriteString(w, "</member>")
		}
		io.WriteString(w, "</struct>")
	default:
		return errors.Errorf("xmlrpc: cannot marshal value of type %T", v)
	}
	return nil
}

func marshalCall(w io.Writer, method string, params []interface{}) error {
	io.WriteString(w, xml.Header)
	io.WriteString(w, "<methodCall><methodName>")
	xml.EscapeText(w, []byte(method))
	io.WriteString(w, "</methodName><params>")
	for _, p := range params {
		io.WriteString(w, "<param>")
		if err := marshalValue(w, p); err != nil {
			return err
		}
		io.WriteString(w, "</param>")
	}
	io.WriteString(w, "</params></methodCall>")
	return nil
}

func marshalResponse(w io.Writer, v interface{}) error {
	io.WriteString(w, xml.Header)
	io.WriteString(w, "<methodResponse><params><param>")
	if err := marshalValue(w, v); err != nil {
		return err
	}
	io.WriteString(w, "</param></params></methodResponse>")
	return nil
}

func marshalFault(w io.Writer, f *Fault) error {
	io.WriteString(w, xml.Header)
	io.WriteString(w, "<methodResponse><fault>")
	if err := marshalValue(w, map[string]interface{}{
		"faultCode":   f.Code,
		"faultString": f.Message,
	}); err != nil {
		return err
	}
	io.WriteString(w, "</fault></methodResponse>")
	return nil
}

// parser walks an XML-RPC document token by token. encoding/xml's
// Decoder is reused rather than unmarshalling into structs because the
// <value> schema is recursive and self-describing (its element name
// carries its own type), which encoding/xml's static struct tags can't
// express directly.
type parser struct {
	dec *xml.Decoder
}

func newParser(r io.Reader) *parser {
	return &parser{dec: xml.NewDecoder(r)}
}

// nextStart advances to the next start element, skipping character data.
func (p *parser) nextStart() (xml.StartElement, bool, error) {
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return xml.StartElement{}, false, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, nil
		case xml.EndElement:
			return xml.StartElement{}, false, nil
		}
	}
}

// nextStartOrText advances to either the next start element or, if the
// element closes with only character data in it, returns that text with
// hasChild=false. Needed because a bare <value>text</value> (no type
// tag) is a legal implicit string under the XML-RPC spec.
func (p *parser) nextStartOrText() (xml.StartElement, bool, string, error) {
	var sb strings.Builder
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return xml.StartElement{}, false, "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			return t, true, "", nil
		case xml.EndElement:
			return xml.StartElement{}, false, sb.String(), nil
		case xml.CharData:
			sb.Write(t)
		}
	}
}

func (p *parser) charData() (string, error) {
	var sb strings.Builder
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			return sb.String(), nil
		case xml.StartElement:
			// Nested markup inside scalar text is not expected for ROS traffic.
			if err := p.dec.Skip(); err != nil {
				return "", err
			}
		}
	}
}

// parseValue parses the contents of a <value> element (the caller has
// already consumed the <value> start tag).
func (p *parser) parseValue() (interface{}, error) {
	child, hasChild, text, err := p.nextStartOrText()
	if err != nil {
		return nil, err
	}
	if !hasChild {
		// Bare <value>text</value> with no type tag defaults to string,
		// per the XML-RPC spec (some peers omit the <string> wrapper).
		return text, nil
	}
	switch child.Name.Local {
	case "i4", "int":
		s, err := p.charData()
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "xmlrpc: invalid <int>")
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return int32(n), nil
	case "boolean":
		s, err := p.charData()
		if err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return strings.TrimSpace(s) == "1", nil
	case "double":
		s, err := p.charData()
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.Wrap(err, "xmlrpc: invalid <double>")
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return f, nil
	case "string":
		s, err := p.charData()
		if err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return s, nil
	case "base64":
		s, err := p.charData()
		if err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.Wrap(err, "xmlrpc: invalid <base64>")
		}
		return b, nil
	case "array":
		arr, err := p.parseArray()
		if err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return arr, nil
	case "struct":
		st, err := p.parseStruct()
		if err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return st, nil
	default:
		if err := p.dec.Skip(); err != nil {
			return nil, err
		}
		if err := p.consumeEnd(); err != nil {
			return nil, err
		}
		return nil, errors.Errorf("xmlrpc: unsupported value type <%s>", child.Name.Local)
	}
}

// consumeEnd consumes the next end tag: the </value> closing the current
// value, or the </array> that follows an array's </data>.
func (p *parser) consumeEnd() error {
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return err
		}
		if _, ok := tok.(xml.EndElement); ok {
			return nil
		}
	}
}

func (p *parser) parseArray() ([]interface{}, error) {
	// Expect <data> then repeated <value>.
	dataStart, ok, err := p.nextStart()
	if err != nil {
		return nil, err
	}
	if !ok || dataStart.Name.Local != "data" {
		return nil, errors.New("xmlrpc: expected <data> inside <array>")
	}
	var items []interface{}
	for {
		el, ok, err := p.nextStart()
		if err != nil {
			return nil, err
		}
		if !ok {
			break // </data>
		}
		if el.Name.Local != "value" {
			if err := p.dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	// consume </array>
	if err := p.consumeEnd(); err != nil {
		return nil, err
	}
	return items, nil
}

func (p *parser) parseStruct() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	for {
		memberStart, ok, err := p.nextStart()
		if err != nil {
			return nil, err
		}
		if !ok {
			break // </struct>
		}
		if memberStart.Name.Local != "member" {
			if err := p.dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		name, value, err := p.parseMember()
		if err != nil {
			return nil, err
		}
		result[name] = value
	}
	return result, nil
}

func (p *parser) parseMember() (string, interface{}, error) {
	var name string
	var value interface{}
	for {
		el, ok, err := p.nextStart()
		if err != nil {
			return "", nil, err
		}
		if !ok {
			return name, value, nil // </member>
		}
		switch el.Name.Local {
		case "name":
			name, err = p.charData()
			if err != nil {
				return "", nil, err
			}
		case "value":
			value, err = p.parseValue()
			if err != nil {
				return "", nil, err
			}
		default:
			if err := p.dec.Skip(); err != nil {
				return "", nil, err
			}
		}
	}
}

// parseMethodCall parses a <methodCall> document into a method name and
// its positional parameters.
func parseMethodCall(r io.Reader) (string, []interface{}, error) {
	p := newParser(r)
	root, ok, err := p.nextStart()
	if err != nil {
		return "", nil, err
	}
	if !ok || root.Name.Local != "methodCall" {
		return "", nil, errors.New("xmlrpc: expected <methodCall>")
	}
	var method string
	var params []interface{}
	for {
		el, ok, err := p.nextStart()
		if err != nil {
			return "", nil, err
		}
		if !ok {
			break
		}
		switch el.Name.Local {
		case "methodName":
			method, err = p.charData()
			if err != nil {
				return "", nil, err
			}
		case "params":
			params, err = p.parseParams()
			if err != nil {
				return "", nil, err
			}
		default:
			if err := p.dec.Skip(); err != nil {
				return "", nil, err
			}
		}
	}
	return method, params, nil
}

func (p *parser) parseParams() ([]interface{}, error) {
	var params []interface{}
	for {
		paramStart, ok, err := p.nextStart()
		if err != nil {
			return nil, err
		}
		if !ok {
			return params, nil
		}
		if paramStart.Name.Local != "param" {
			if err := p.dec.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		valStart, ok, err := p.nextStart()
		if err != nil {
			return nil, err
		}
		if !ok || valStart.Name.Local != "value" {
			return nil, errors.New("xmlrpc: expected <value> inside <param>")
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		params = append(params, v)
		// consume </param>
		for {
			tok, err := p.dec.Token()
			if err != nil {
				return nil, err
			}
			if _, ok := tok.(xml.EndElement); ok {
				break
			}
		}
	}
}

// parseMethodResponse parses a <methodResponse> document, returning
// either the single response value or a Fault.
func parseMethodResponse(r io.Reader) (interface{}, *Fault, error) {
	p := newParser(r)
	root, ok, err := p.nextStart()
	if err != nil {
		return nil, nil, err
	}
	if !ok || root.Name.Local != "methodResponse" {
		return nil, nil, errors.New("xmlrpc: expected <methodResponse>")
	}
	el, ok, err := p.nextStart()
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, errors.New("xmlrpc: empty <methodResponse>")
	}
	switch el.Name.Local {
	case "params":
		params, err := p.parseParams()
		if err != nil {
			return nil, nil, err
		}
		if len(params) != 1 {
			return nil, nil, errors.Errorf("xmlrpc: expected exactly one response param, got %d", len(params))
		}
		return params[0], nil, nil
	case "fault":
		valStart, ok, err := p.nextStart()
		if err != nil {
			return nil, nil, err
		}
		if !ok || valStart.Name.Local != "value" {
			return nil, nil, errors.New("xmlrpc: expected <value> inside <fault>")
		}
		v, err := p.parseValue()
		if err != nil {
			return nil, nil, err
		}
		st, ok := v.(map[string]interface{})
		if !ok {
			return nil, nil, errors.New("xmlrpc: fault value is not a struct")
		}
		code, _ := st["faultCode"].(int32)
		msg, _ := st["faultString"].(string)
		return nil, &Fault{Code: int(code), Message: msg}, nil
	default:
		return nil, nil, errors.Errorf("xmlrpc: unexpected element <%s> in methodResponse", el.Name.Local)
	}
}
