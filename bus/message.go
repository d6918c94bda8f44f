package bus

import (
	"sort"
	"sync"
)

// ErrorType is the type identifier given to fault messages
// carrying an error value.
const ErrorType = "syncbus:error"

// Scope splits context properties into the request and the reply ones.
type Scope uint8

const (
	ScopeIn Scope = iota
	ScopeOut
)

func (s Scope) String() string {
	return []string{"IN", "OUT"}[s]
}

// Property is a single named context value.
type Property struct {
	Name  string
	Value interface{}
	Scope Scope
}

// Context holds scoped named properties of a Message or an Exchange.
type Context struct {
	sync.Mutex

	props [2]map[string]Property
}

func newContext() *Context {
	return &Context{
		props: [2]map[string]Property{{}, {}},
	}
}

// SetProperty sets or replaces the property name in the scope s.
func (c *Context) SetProperty(name string, value interface{}, s Scope) {
	c.Lock()
	defer c.Unlock()

	c.props[s][name] = Property{name, value, s}
}

// Property returns the property name from the scope s.
func (c *Context) Property(name string, s Scope) (Property, bool) {
	c.Lock()
	defer c.Unlock()

	p, ok := c.props[s][name]

	return p, ok
}

// Properties returns all properties of the scope s ordered by name.
func (c *Context) Properties(s Scope) []Property {
	c.Lock()
	defer c.Unlock()

	pp := make([]Property, 0, len(c.props[s]))
	for _, p := range c.props[s] {
		pp = append(pp, p)
	}

	sort.Slice(pp, func(i, j int) bool { return pp[i].Name < pp[j].Name })

	return pp
}

// =============================================================================
// Message is a single payload sent over an Exchange.
//
// Type is the type identifier of the Content. If it's empty on sending,
// the Exchange sets it from its Contract.
type Message struct {
	Content interface{}
	Type    string

	ctx *Context
}

// NewMessage creates an empty Message.
func NewMessage() *Message {
	return &Message{ctx: newContext()}
}

// SetContent sets the message content and returns the message itself.
func (m *Message) SetContent(content interface{}) *Message {
	m.Content = content

	return m
}

// WithType sets the message type identifier and returns the message itself.
func (m *Message) WithType(t string) *Message {
	m.Type = t

	return m
}

// Context returns the message context.
func (m *Message) Context() *Context {
	if m.ctx == nil {
		m.ctx = newContext()
	}

	return m.ctx
}
