package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/dr-dobermann/syncbus/bus"
)

// DefaultComposer makes a bus message from the SOAP request.
//
// Message content is the body payload as XML text, message type is the
// qualified name of the payload element. Header entries become IN-scoped
// message context properties named by their qualified names.
type DefaultComposer struct{}

func (DefaultComposer) Compose(raw []byte, ex *bus.Exchange) (*bus.Message, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	payload := env.Payload()

	root, err := rootElement(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid SOAP body: %w", err)
	}

	msg := ex.CreateMessage().
		SetContent(string(payload)).
		WithType(QName(root.Space, root.Local))

	if env.Header != nil {
		hh, err := headerEntries(env.Header.Content)
		if err != nil {
			return nil, fmt.Errorf("invalid SOAP header: %w", err)
		}

		for _, h := range hh {
			msg.Context().SetProperty(h.Name, h.Value, bus.ScopeIn)
		}
	}

	return msg, nil
}

// headerEntries reads top level header elements along with their text.
func headerEntries(data []byte) ([]HeaderEntry, error) {
	d := xml.NewDecoder(bytes.NewReader(data))

	hh := []HeaderEntry{}

	for {
		t, err := d.Token()
		if err == io.EOF {
			return hh, nil
		}

		if err != nil {
			return nil, err
		}

		se, ok := t.(xml.StartElement)
		if !ok {
			continue
		}

		var v string
		if err := d.DecodeElement(&v, &se); err != nil {
			return nil, err
		}

		hh = append(hh, HeaderEntry{
			Name:  QName(se.Name.Space, se.Name.Local),
			Value: strings.TrimSpace(v),
		})
	}
}

// =============================================================================
// DefaultDecomposer makes a SOAP response from the exchange message.
//
// Payloads which are complete SOAP envelopes are returned as is,
// SOAP faults are wrapped into an envelope. Other payloads of a faulted
// exchange are put into the fault detail.
//
// OUT-scoped exchange context properties named in Headers are added
// as SOAP header entries.
type DefaultDecomposer struct {
	Headers []string
}

func (dd DefaultDecomposer) Decompose(ex *bus.Exchange) ([]byte, error) {
	msg := ex.Message()
	if msg == nil {
		return NewEnvelope(nil, dd.headers(ex)...), nil
	}

	var payload []byte

	switch c := msg.Content.(type) {
	case nil:
		return nil, fmt.Errorf("null response from service")

	case string:
		payload = []byte(c)

	case []byte:
		payload = c

	default:
		return nil, fmt.Errorf("unsupported response payload type %T", c)
	}

	payload = bytes.TrimSpace(payload)

	root, err := rootElement(payload)
	if err != nil {
		return nil, fmt.Errorf("unable to parse SOAP message: %w", err)
	}

	if root.Space == EnvelopeNS {
		switch strings.ToLower(root.Local) {
		case "envelope":
			return payload, nil

		case "fault":
			return NewEnvelope(payload, dd.headers(ex)...), nil
		}
	}

	if ex.State() == bus.Fault {
		var detail bytes.Buffer
		detail.WriteString("<FaultContents>")
		detail.Write(payload)
		detail.WriteString("</FaultContents>")

		payload = faultXML(ServerFaultCode, "Send failed", detail.Bytes())
	}

	return NewEnvelope(payload, dd.headers(ex)...), nil
}

func (dd DefaultDecomposer) headers(ex *bus.Exchange) []HeaderEntry {
	hh := []HeaderEntry{}

	for _, n := range dd.Headers {
		p, ok := ex.Context().Property(n, bus.ScopeOut)
		if !ok || p.Value == nil {
			continue
		}

		hh = append(hh, HeaderEntry{n, fmt.Sprint(p.Value)})
	}

	return hh
}
