/*
Package soap holds SOAP 1.1 envelope plumbing used by the protocol
endpoint: operation name extraction, fault generation and the default
message composer and decomposer.

Payloads flow through the bus as XML text (string). Their type identifiers
are qualified names in the "{namespace}local" form.
*/
package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	EnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"

	// FaultMessageType is the type identifier of SOAP fault payloads.
	FaultMessageType = "{" + EnvelopeNS + "}Fault"

	ServerFaultCode   = "soap:Server"
	AppErrorFaultCode = "soap:Server.AppError"
)

// Envelope is a parsed SOAP envelope. Header and Body keep their
// inner XML as is.
type Envelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Header  *Header  `xml:"http://schemas.xmlsoap.org/soap/envelope/ Header"`
	Body    Body     `xml:"http://schemas.xmlsoap.org/soap/envelope/ Body"`
}

type Header struct {
	Content []byte `xml:",innerxml"`
}

type Body struct {
	Content []byte `xml:",innerxml"`
}

// QName returns the type identifier of the local name in the namespace ns.
func QName(ns, local string) string {
	if ns == "" {
		return local
	}

	return "{" + ns + "}" + local
}

// LocalPart returns the local part of the qualified name qn.
func LocalPart(qn string) string {
	if i := strings.LastIndex(qn, "}"); i >= 0 {
		return qn[i+1:]
	}

	return qn
}

// Namespace returns the namespace part of the qualified name qn.
func Namespace(qn string) string {
	if strings.HasPrefix(qn, "{") {
		if i := strings.Index(qn, "}"); i > 0 {
			return qn[1:i]
		}
	}

	return ""
}

// Parse decodes the raw SOAP envelope.
func Parse(raw []byte) (*Envelope, error) {
	env := new(Envelope)

	if err := xml.Unmarshal(raw, env); err != nil {
		return nil, fmt.Errorf("couldn't parse SOAP envelope: %w", err)
	}

	return env, nil
}

// Payload returns the body content without surrounding spaces.
func (env *Envelope) Payload() []byte {
	return bytes.TrimSpace(env.Body.Content)
}

// OperationName returns the local name of the first body element of the
// raw SOAP request.
func OperationName(raw []byte) (string, error) {
	env, err := Parse(raw)
	if err != nil {
		return "", err
	}

	root, err := rootElement(env.Payload())
	if err != nil {
		return "", fmt.Errorf("couldn't get operation name: %w", err)
	}

	return root.Local, nil
}

// rootElement returns the name of the first element of the XML fragment.
func rootElement(data []byte) (xml.Name, error) {
	d := xml.NewDecoder(bytes.NewReader(data))

	for {
		t, err := d.Token()
		if err == io.EOF {
			return xml.Name{}, fmt.Errorf("no element found")
		}

		if err != nil {
			return xml.Name{}, err
		}

		if se, ok := t.(xml.StartElement); ok {
			return se.Name, nil
		}
	}
}

// HeaderEntry is a single SOAP header element with a text value.
type HeaderEntry struct {
	Name  string
	Value string
}

// NewEnvelope wraps the body XML fragment into a SOAP envelope.
func NewEnvelope(body []byte, headers ...HeaderEntry) []byte {
	var b bytes.Buffer

	b.WriteString(`<soap:Envelope xmlns:soap="` + EnvelopeNS + `">`)

	if len(headers) > 0 {
		b.WriteString("<soap:Header>")

		for _, h := range headers {
			writeElement(&b, h.Name, h.Value)
		}

		b.WriteString("</soap:Header>")
	}

	b.WriteString("<soap:Body>")
	b.Write(body)
	b.WriteString("</soap:Body></soap:Envelope>")

	return b.Bytes()
}

// writeElement writes a text element named by the qualified name qn.
func writeElement(w *bytes.Buffer, qn, value string) {
	local := LocalPart(qn)

	w.WriteString("<" + local)
	if ns := Namespace(qn); ns != "" {
		w.WriteString(` xmlns="`)
		_ = xml.EscapeText(w, []byte(ns))
		w.WriteString(`"`)
	}

	w.WriteString(">")
	_ = xml.EscapeText(w, []byte(value))
	w.WriteString("</" + local + ">")
}
