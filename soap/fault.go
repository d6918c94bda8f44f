package soap

import (
	"bytes"
	"encoding/xml"
	"fmt"

	"github.com/dr-dobermann/syncbus/bus"
)

// Fault is a parsed SOAP 1.1 fault.
type Fault struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Fault"`
	Code    string   `xml:"faultcode"`
	String  string   `xml:"faultstring"`
	Detail  *Detail  `xml:"detail"`
}

type Detail struct {
	Content []byte `xml:",innerxml"`
}

// faultXML builds a soap:Fault element.
func faultXML(code, msg string, detail []byte) []byte {
	var b bytes.Buffer

	b.WriteString(`<soap:Fault xmlns:soap="` + EnvelopeNS + `">`)
	b.WriteString("<faultcode>" + code + "</faultcode>")
	b.WriteString("<faultstring>")
	_ = xml.EscapeText(&b, []byte(msg))
	b.WriteString("</faultstring>")

	if detail != nil {
		b.WriteString("<detail>")
		b.Write(detail)
		b.WriteString("</detail>")
	}

	b.WriteString("</soap:Fault>")

	return b.Bytes()
}

// GenerateFault returns a SOAP envelope with the server fault
// describing err.
func GenerateFault(err error) []byte {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}

	return NewEnvelope(faultXML(ServerFaultCode, msg, nil))
}

// ParseFault returns the fault of the raw SOAP envelope.
// If the envelope holds no fault, nil is returned.
func ParseFault(raw []byte) (*Fault, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	root, err := rootElement(env.Payload())
	if err != nil || root.Space != EnvelopeNS || root.Local != "Fault" {
		return nil, nil
	}

	f := new(Fault)
	if err := xml.Unmarshal(env.Payload(), f); err != nil {
		return nil, fmt.Errorf("couldn't parse SOAP fault: %w", err)
	}

	return f, nil
}

// =============================================================================
// HandlerErrorTransformer turns error fault payloads into SOAP fault
// elements with the soap:Server.AppError code.
type HandlerErrorTransformer struct{}

func (HandlerErrorTransformer) From() string { return bus.ErrorType }

func (HandlerErrorTransformer) To() string { return FaultMessageType }

func (HandlerErrorTransformer) Transform(content interface{}) (interface{}, error) {
	err, ok := content.(error)
	if !ok {
		return nil, fmt.Errorf("error expected, got %T", content)
	}

	var msg bytes.Buffer
	msg.WriteString("<message>")
	_ = xml.EscapeText(&msg, []byte(err.Error()))
	msg.WriteString("</message>")

	return string(faultXML(AppErrorFaultCode, err.Error(), msg.Bytes())), nil
}
