// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package progress_test

import (
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/testing"
	jc "github.com/juju/testing/checkers"
	"go.uber.org/mock/gomock"
	gc "gopkg.in/check.v1"

	"github.com/juju/jsonrpc/rpc/params"
	"github.com/juju/jsonrpc/rpc/progress"
)

type baseSuite struct {
	testing.IsolationSuite

	state    *MockFormatterState
	notifier *MockNotifier
}

func (s *baseSuite) setupMocks(c *gc.C) *gomock.Controller {
	ctrl := gomock.NewController(c)
	s.state = NewMockFormatterState(ctrl)
	s.notifier = NewMockNotifier(ctrl)
	return ctrl
}

func (s *baseSuite) newTable(c *gc.C) *progress.Table {
	table, err := progress.NewTable(progress.Config{
		FormatterState: s.state,
		Notifier:       s.notifier,
		Logger:         loggo.GetLogger("test"),
	})
	c.Assert(err, jc.ErrorIsNil)
	return table
}

func (s *baseSuite) expectSerializing(id params.RequestID) *gomock.Call {
	return s.state.EXPECT().SerializingRequestID().Return(id, true)
}

// fakeHub calls handlers synchronously, so reclamation is complete by the
// time publish returns.
type fakeHub struct {
	mu           sync.Mutex
	handlers     map[string][]func(string, interface{})
	unsubscribed int
}

func newFakeHub() *fakeHub {
	return &fakeHub{handlers: make(map[string][]func(string, interface{}))}
}

func (h *fakeHub) Subscribe(topic string, handler func(string, interface{})) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[topic] = append(h.handlers[topic], handler)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.unsubscribed++
	}
}

func (h *fakeHub) publish(topic string, data interface{}) {
	h.mu.Lock()
	handlers := h.handlers[topic]
	h.mu.Unlock()
	for _, handler := range handlers {
		handler(topic, data)
	}
}

type tableSuite struct {
	baseSuite
}

var _ = gc.Suite(&tableSuite{})

var (
	r1 = params.NumberID(1)
	r2 = params.NumberID(2)
)

func (s *tableSuite) TestConfigValidate(c *gc.C) {
	defer s.setupMocks(c).Finish()

	valid := progress.Config{
		FormatterState: s.state,
		Notifier:       s.notifier,
		Logger:         loggo.GetLogger("test"),
	}
	c.Assert(valid.Validate(), jc.ErrorIsNil)

	cfg := valid
	cfg.FormatterState = nil
	c.Check(cfg.Validate(), gc.ErrorMatches, "nil FormatterState not valid")

	cfg = valid
	cfg.Notifier = nil
	c.Check(cfg.Validate(), gc.ErrorMatches, "nil Notifier not valid")

	cfg = valid
	cfg.Logger = nil
	_, err := progress.NewTable(cfg)
	c.Check(err, jc.ErrorIs, errors.NotValid)
}

func (s *tableSuite) TestTokenOutsideRequest(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.state.EXPECT().SerializingRequestID().Return(params.RequestID{}, false)

	table := s.newTable(c)
	_, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIs, errors.NotSupported)
	c.Check(table.Len(), gc.Equals, 0)
}

func (s *tableSuite) TestTokenForAbsentRequestID(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(params.RequestID{})

	table := s.newTable(c)
	_, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIs, errors.NotValid)
}

func (s *tableSuite) TestTokenForInvalidObjects(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1).Times(6)

	table := s.newTable(c)
	for _, obj := range []any{
		nil,
		42,
		noReport{},
		reportFunc(func(int) {}),
		valueReporter{held: []int{1}},
		(*valueReporter)(nil),
	} {
		_, err := table.TokenForProgress(obj)
		c.Check(err, jc.ErrorIs, errors.NotValid, gc.Commentf("%T", obj))
	}
	c.Check(table.Len(), gc.Equals, 0)
}

type noReport struct{}

type reportFunc func(int)

func (f reportFunc) Report(v int) { f(v) }

// valueReporter is comparable by type, but its dynamic field value is not.
type valueReporter struct {
	held any
}

func (valueReporter) Report(int) {}

func (s *tableSuite) TestPointerProgressObjectsKeepIdentity(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1).Times(2)

	table := s.newTable(c)
	first, err := table.TokenForProgress(&valueReporter{})
	c.Assert(err, jc.ErrorIsNil)
	second, err := table.TokenForProgress(&valueReporter{})
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Not(gc.Equals), first)
	c.Check(table.Len(), gc.Equals, 2)
}

func (s *tableSuite) TestTokenDedupAndMonotonic(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1).Times(3)

	table := s.newTable(c)
	p := progress.NewFunc(func(int) {})
	q := progress.NewFunc(func(int) {})

	first, err := table.TokenForProgress(p)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(first, gc.Equals, int64(0))

	second, err := table.TokenForProgress(p)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(second, gc.Equals, first)

	other, err := table.TokenForProgress(q)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(other > first, jc.IsTrue)
	c.Check(table.Len(), gc.Equals, 2)
}

func (s *tableSuite) TestSameObjectDifferentRequests(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.expectSerializing(r1),
		s.expectSerializing(r2),
	)

	table := s.newTable(c)
	p := progress.NewFunc(func(int) {})

	t1, err := table.TokenForProgress(p)
	c.Assert(err, jc.ErrorIsNil)
	t2, err := table.TokenForProgress(p)
	c.Assert(err, jc.ErrorIsNil)
	c.Check(t2, gc.Not(gc.Equals), t1)
}

func (s *tableSuite) TestProgressObjectReports(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1)

	table := s.newTable(c)
	var got []string
	p := progress.NewFunc(func(v string) { got = append(got, v) })
	token, err := table.TokenForProgress(p)
	c.Assert(err, jc.ErrorIsNil)

	reg, ok := table.ProgressObject(token)
	c.Assert(ok, jc.IsTrue)
	c.Check(reg.Token, gc.Equals, token)
	c.Check(reg.Object, gc.Equals, any(p))
	c.Check(reg.ValueType.Kind().String(), gc.Equals, "string")

	reg.Report(reflectValue("half way"))
	c.Check(got, jc.DeepEquals, []string{"half way"})

	_, ok = table.ProgressObject(token + 1)
	c.Check(ok, jc.IsFalse)
}

func (s *tableSuite) TestReclaim(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1).Times(2)
	s.expectSerializing(r2)

	table := s.newTable(c)
	hub := newFakeHub()
	unwatch := table.Watch(hub)

	p1, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIsNil)
	p2, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIsNil)
	q1, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIsNil)

	hub.publish(progress.ResponseReceivedTopic, r1)
	for _, token := range []int64{p1, p2} {
		_, ok := table.ProgressObject(token)
		c.Check(ok, jc.IsFalse)
	}
	_, ok := table.ProgressObject(q1)
	c.Check(ok, jc.IsTrue)

	// Both events may fire for the same request.
	hub.publish(progress.RequestAbortedTopic, r1)
	_, ok = table.ProgressObject(q1)
	c.Check(ok, jc.IsTrue)
	c.Check(table.Len(), gc.Equals, 1)

	// Requests that never registered anything are ignored.
	hub.publish(progress.RequestAbortedTopic, params.StringID("unknown"))
	hub.publish(progress.RequestAbortedTopic, "not an id")
	c.Check(table.Len(), gc.Equals, 1)

	hub.publish(progress.RequestAbortedTopic, r2)
	c.Check(table.Len(), gc.Equals, 0)

	unwatch()
	c.Check(hub.unsubscribed, gc.Equals, 2)
}

func (s *tableSuite) TestTokensNotReusedAfterReclaim(c *gc.C) {
	defer s.setupMocks(c).Finish()
	gomock.InOrder(
		s.expectSerializing(r1),
		s.expectSerializing(r2),
	)

	table := s.newTable(c)
	hub := newFakeHub()
	defer table.Watch(hub)()

	first, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIsNil)
	hub.publish(progress.ResponseReceivedTopic, r1)

	next, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
	c.Assert(err, jc.ErrorIsNil)
	c.Check(next > first, jc.IsTrue)
}

func (s *tableSuite) TestConcurrentRegistration(c *gc.C) {
	defer s.setupMocks(c).Finish()
	s.expectSerializing(r1).AnyTimes()

	table := s.newTable(c)
	const count = 50
	tokens := make(chan int64, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := table.TokenForProgress(progress.NewFunc(func(int) {}))
			c.Check(err, jc.ErrorIsNil)
			tokens <- token
		}()
	}
	wg.Wait()
	close(tokens)

	seen := make(map[int64]bool)
	for token := range tokens {
		c.Check(seen[token], jc.IsFalse)
		seen[token] = true
	}
	c.Check(seen, gc.HasLen, count)
	c.Check(table.Len(), gc.Equals, count)
}
