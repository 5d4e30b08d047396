// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package progress

import (
	"github.com/juju/jsonrpc/rpc/params"
)

// Topics published by a connection over the life of each outbound
// request. The published data is the params.RequestID of the request.
const (
	// RequestAbortedTopic is published when a request could not be
	// sent, or was abandoned before its response arrived.
	RequestAbortedTopic = "jsonrpc.request.aborted"

	// ResponseReceivedTopic is published when the response to a
	// request has been received.
	ResponseReceivedTopic = "jsonrpc.response.received"
)

// Subscriber is the part of a pubsub hub used to follow request
// lifecycles.
type Subscriber interface {
	Subscribe(topic string, handler func(string, interface{})) func()
}

// Watch reclaims the registrations of each request once the hub reports
// that the request was aborted or answered. Both events may be reported
// for the same request. The returned function stops watching.
func (t *Table) Watch(hub Subscriber) func() {
	unsubs := []func(){
		hub.Subscribe(RequestAbortedTopic, t.onRequestFinished),
		hub.Subscribe(ResponseReceivedTopic, t.onRequestFinished),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

func (t *Table) onRequestFinished(topic string, data interface{}) {
	id, ok := data.(params.RequestID)
	if !ok {
		t.logger.Errorf("unexpected data %T for topic %q", data, topic)
		return
	}
	t.reclaimRequest(id)
}
