package endpoint

import (
	"sync"

	"github.com/dr-dobermann/syncbus/bridge"
	"github.com/dr-dobermann/syncbus/bus"
	"github.com/dr-dobermann/syncbus/soap"
	"go.uber.org/zap"
)

// resultSlot keeps the response of a single endpoint call.
//
// The first response stored wins.
type resultSlot struct {
	sync.Mutex

	resp []byte
	set  bool
}

func (rs *resultSlot) put(resp []byte) {
	rs.Lock()
	defer rs.Unlock()

	if rs.set {
		return
	}

	rs.resp = resp
	rs.set = true
}

func (rs *resultSlot) get() ([]byte, bool) {
	rs.Lock()
	defer rs.Unlock()

	return rs.resp, rs.set
}

// =============================================================================
// callHandler receives the completion of a single endpoint call and
// stores the response into the call's slot.
type callHandler struct {
	ep   *Endpoint
	slot *resultSlot
	log  *zap.SugaredLogger
}

func (ch *callHandler) HandleMessage(ex *bus.Exchange) error {
	if !ex.TransformsApplied() {
		err := bridge.ComponentError{
			Msg: "Error invoking '" + ex.Contract().Operation().Name +
				"'. Response requires a payload type of '" +
				ex.TargetMessageType() + "'. Actual payload type is '" +
				ex.CurrentMessageType() + "'. You must define and register " +
				"a Transformer to transform between these types",
		}

		ch.slot.put(soap.GenerateFault(&err))

		return &err
	}

	resp, err := ch.ep.decomposer.Decompose(ex)
	if err != nil {
		ch.slot.put(soap.GenerateFault(err))

		return err
	}

	ch.slot.put(resp)

	return nil
}

func (ch *callHandler) HandleFault(ex *bus.Exchange) {
	op := ex.Contract().Operation().Name

	if msg := ex.Message(); msg != nil {
		if _, ok := msg.Content.(error); ok {
			ch.slot.put(soap.GenerateFault(
				bridge.FaultError(ex, ch.ep.serviceName, op)))

			return
		}
	}

	resp, err := ch.ep.decomposer.Decompose(ex)
	if err != nil {
		ch.log.Debugw("couldn't decompose fault",
			"exID", ex.ID(),
			zap.Error(err))

		ch.slot.put(soap.GenerateFault(err))

		return
	}

	ch.slot.put(resp)
}
