/*
Package transform keeps transformers which convert a message payload
from one type identifier to another.

The bus consults the Registry every time a message type differs from the
type the exchange contract expects. Type identifiers are plain strings,
i.e. "go:string" or "{urn:greeting}greet".
*/
package transform

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Transformer converts payloads of type From() into payloads of type To().
type Transformer interface {
	From() string
	To() string
	Transform(content interface{}) (interface{}, error)
}

// TransformerFunc is used when there is no need to keep transformer state.
type TransformerFunc struct {
	from, to string
	fn       func(interface{}) (interface{}, error)
}

// NewFunc returns a Transformer built from a single function.
func NewFunc(
	from, to string,
	fn func(interface{}) (interface{}, error)) *TransformerFunc {

	return &TransformerFunc{from: from, to: to, fn: fn}
}

func (tf *TransformerFunc) From() string { return tf.from }

func (tf *TransformerFunc) To() string { return tf.to }

func (tf *TransformerFunc) Transform(content interface{}) (interface{}, error) {
	return tf.fn(content)
}

type key struct {
	from, to string
}

// Registry holds all transformers known to a bus domain.
type Registry struct {
	sync.Mutex

	log *zap.SugaredLogger

	tt map[key]Transformer
}

// NewRegistry creates an empty transformers registry.
func NewRegistry(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Registry{
		log: log.Named("TR"),
		tt:  map[key]Transformer{},
	}
}

// Add registers the transformer t. Only one transformer could be
// registered for a from/to pair.
func (r *Registry) Add(t Transformer) error {
	if t == nil {
		return fmt.Errorf("couldn't register a nil-transformer")
	}

	k := key{t.From(), t.To()}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.tt[k]; ok {
		return fmt.Errorf("transformer from '%s' to '%s' already registered",
			k.from, k.to)
	}

	r.tt[k] = t

	r.log.Debugw("transformer registered",
		"from", k.from,
		"to", k.to)

	return nil
}

// Remove deletes the transformer registered for t's from/to pair.
func (r *Registry) Remove(t Transformer) {
	if t == nil {
		return
	}

	r.Lock()
	delete(r.tt, key{t.From(), t.To()})
	r.Unlock()
}

// Get returns the transformer for the from/to pair if there is one.
func (r *Registry) Get(from, to string) (Transformer, bool) {
	r.Lock()
	defer r.Unlock()

	t, ok := r.tt[key{from, to}]

	return t, ok
}
