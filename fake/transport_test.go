package fake_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-xmsgr/api"
	"github.com/momentics/hioload-xmsgr/fake"
)

// recorder is a SessionHandler that accepts sessions and records events.
type recorder struct {
	tr      *fake.Transport
	nextTok api.Token
	reject  bool

	mu        sync.Mutex
	events    []api.SessionEventKind
	messages  [][]byte
	completed int
	failed    []error
}

func (r *recorder) OnNewSession(s api.SessionHandle, req *api.NewSessionRequest) error {
	if r.reject {
		return errors.New("rejected")
	}
	return r.tr.Accept(s, req)
}

func (r *recorder) OnSessionEvent(_ api.SessionHandle, ev api.SessionEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev.Kind)
	r.mu.Unlock()
	if ev.Kind == api.EventNewConnection && r.nextTok != 0 {
		return r.tr.SetConnectionToken(ev.Conn, r.nextTok)
	}
	return nil
}

func (r *recorder) OnMessage(_ api.SessionHandle, _ api.Token, in *api.Request, _ bool) error {
	var b []byte
	for rq := in; rq != nil; rq = rq.Next {
		for _, e := range rq.Entries {
			b = append(b, e.Data...)
		}
	}
	r.mu.Lock()
	r.messages = append(r.messages, b)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnSendComplete(api.SessionHandle, api.Token, api.Outbound) error {
	r.mu.Lock()
	r.completed++
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnMessageDelivered(api.SessionHandle, api.Token, api.Outbound, bool) error {
	return nil
}

func (r *recorder) OnMessageError(_ api.SessionHandle, _ api.Token, status error, _ api.Outbound) error {
	r.mu.Lock()
	r.failed = append(r.failed, status)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnCancel(api.SessionHandle, api.Token, api.Outbound, error) error { return nil }
func (r *recorder) OnCancelRequest(api.SessionHandle, api.Token, api.Outbound) error { return nil }

func (r *recorder) kinds() []api.SessionEventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]api.SessionEventKind(nil), r.events...)
}

func (r *recorder) has(k api.SessionEventKind) bool {
	for _, e := range r.kinds() {
		if e == k {
			return true
		}
	}
	return false
}

func (r *recorder) count(k api.SessionEventKind) int {
	n := 0
	for _, e := range r.kinds() {
		if e == k {
			n++
		}
	}
	return n
}

type chain struct{ head *api.Request }

func (c chain) Head() *api.Request { return c.head }
func (c chain) Len() int           { return 1 }

func payload(b string) chain {
	return chain{head: &api.Request{Entries: []api.Entry{{Data: []byte(b)}}, Bytes: len(b)}}
}

func opts() api.TransportOptions {
	return api.TransportOptions{MaxEntriesPerRequest: 16, MaxBytesPerRequest: 1 << 20}
}

func pair(t *testing.T) (*fake.Transport, *recorder, *fake.Transport, *recorder) {
	t.Helper()
	f := fake.NewFabric(nil)
	srv, cli := f.NewTransport(), f.NewTransport()
	rs := &recorder{tr: srv, nextTok: 77}
	rc := &recorder{tr: cli}
	for _, tr := range []*fake.Transport{srv, cli} {
		require.NoError(t, tr.Configure(opts()))
	}
	require.NoError(t, srv.Bind("rdma://127.0.0.1", 7100, rs))
	require.NoError(t, srv.Start())
	require.NoError(t, cli.Start())
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = cli.Shutdown()
	})
	return srv, rs, cli, rc
}

func TestTransportConfigureRejectsZeroLimits(t *testing.T) {
	tr := fake.NewFabric(nil).NewTransport()
	assert.ErrorIs(t, tr.Configure(api.TransportOptions{}), api.ErrInvalidArgument)
}

func TestTransportConnectAndSend(t *testing.T) {
	srv, rs, cli, rc := pair(t)

	s, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
	require.NoError(t, err)
	assert.NotEmpty(t, s.SessionID())
	c, err := cli.Connect(s, 5)
	require.NoError(t, err)
	assert.Empty(t, rc.kinds(), "connect must not call back synchronously")

	require.Eventually(t, func() bool { return rc.has(api.EventConnectionEstablished) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []api.SessionEventKind{api.EventNewConnection, api.EventConnectionEstablished}, rs.kinds())

	require.Len(t, srv.Conns(), 1)
	attr, err := srv.QueryConnection(srv.Conns()[0])
	require.NoError(t, err)
	assert.Equal(t, api.Token(77), attr.Token)
	assert.Nil(t, attr.Advertised)

	require.NoError(t, cli.Enqueue(c, payload("hello")))
	require.Eventually(t, func() bool {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return len(rs.messages) == 1
	}, time.Second, 5*time.Millisecond)
	rs.mu.Lock()
	assert.Equal(t, []byte("hello"), rs.messages[0])
	rs.mu.Unlock()
	cli.Sync()
	rc.mu.Lock()
	assert.Equal(t, 1, rc.completed)
	rc.mu.Unlock()
	assert.EqualValues(t, 1, cli.Delivered())

	require.NoError(t, cli.Configure(api.TransportOptions{MaxEntriesPerRequest: 1, MaxBytesPerRequest: 4}))
	assert.ErrorIs(t, cli.Enqueue(c, payload("hello")), api.ErrInvalidArgument)
	assert.NoError(t, cli.Enqueue(c, payload("hi")))
}

func TestTransportRefusesUnknownAddress(t *testing.T) {
	_, _, cli, rc := pair(t)
	s, err := cli.CreateSession("rdma://127.0.0.1:9999", rc)
	require.NoError(t, err)
	_, err = cli.Connect(s, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rc.has(api.EventSessionTeardown) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []api.SessionEventKind{
		api.EventConnectionRefused, api.EventConnectionTeardown, api.EventSessionTeardown,
	}, rc.kinds())
}

func TestTransportRejectedSession(t *testing.T) {
	_, rs, cli, rc := pair(t)
	rs.reject = true
	s, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
	require.NoError(t, err)
	_, err = cli.Connect(s, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rc.has(api.EventConnectionRefused) }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []api.SessionEventKind{api.EventSessionReject}, rs.kinds())
}

func TestTransportWildcardListener(t *testing.T) {
	f := fake.NewFabric(nil)
	srv, cli := f.NewTransport(), f.NewTransport()
	rs, rc := &recorder{tr: srv}, &recorder{tr: cli}
	require.NoError(t, srv.Bind("rdma://0.0.0.0", 7200, rs))
	require.NoError(t, srv.Start())
	require.NoError(t, cli.Start())
	defer srv.Shutdown()
	defer cli.Shutdown()

	s, err := cli.CreateSession("rdma://10.1.2.3:7200", rc)
	require.NoError(t, err)
	_, err = cli.Connect(s, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rc.has(api.EventConnectionEstablished) }, time.Second, 5*time.Millisecond)
}

func TestTransportBindConflict(t *testing.T) {
	f := fake.NewFabric(nil)
	a, b := f.NewTransport(), f.NewTransport()
	require.NoError(t, a.Bind("rdma://127.0.0.1", 7300, &recorder{tr: a}))
	assert.ErrorIs(t, b.Bind("rdma://127.0.0.1", 7300, &recorder{tr: b}), api.ErrAlreadyExists)
	require.NoError(t, a.Shutdown())
	assert.NoError(t, b.Bind("rdma://127.0.0.1", 7300, &recorder{tr: b}))
	assert.ErrorIs(t, a.Shutdown(), api.ErrTransportClosed)
}

func TestTransportFailureInjection(t *testing.T) {
	_, rs, cli, rc := pair(t)
	boom := errors.New("boom")

	cli.FailNextSession(boom)
	_, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
	assert.ErrorIs(t, err, boom)

	s, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
	require.NoError(t, err)
	c, err := cli.Connect(s, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rc.has(api.EventConnectionEstablished) }, time.Second, 5*time.Millisecond)

	cli.FailEnqueue(boom)
	assert.ErrorIs(t, cli.Enqueue(c, payload("x")), boom)

	cli.FailSend(boom)
	require.NoError(t, cli.Enqueue(c, payload("y")))
	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return len(rc.failed) == 1
	}, time.Second, 5*time.Millisecond)
	rs.mu.Lock()
	assert.Empty(t, rs.messages)
	rs.mu.Unlock()
}

func TestTransportDisconnect(t *testing.T) {
	_, rs, cli, rc := pair(t)
	s, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
	require.NoError(t, err)
	c, err := cli.Connect(s, 1)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return rc.has(api.EventConnectionEstablished) }, time.Second, 5*time.Millisecond)

	require.NoError(t, cli.Disconnect(c, nil))
	assert.ErrorIs(t, cli.Disconnect(c, nil), api.ErrNotConnected)
	require.Eventually(t, func() bool { return rs.has(api.EventSessionTeardown) }, time.Second, 5*time.Millisecond)
	assert.True(t, rs.has(api.EventConnectionClosed))
	require.Eventually(t, func() bool { return rc.has(api.EventSessionTeardown) }, time.Second, 5*time.Millisecond)
	assert.True(t, rc.has(api.EventConnectionDisconnected))

	assert.ErrorIs(t, cli.Enqueue(c, payload("late")), api.ErrNotConnected)
	require.NoError(t, cli.DestroyConnection(c))
	require.NoError(t, cli.DestroyConnection(c))
	require.NoError(t, cli.DestroySession(s))
	assert.Zero(t, cli.Sessions())
}

func TestTransportDisconnectBeforeLink(t *testing.T) {
	srv, rs, cli, rc := pair(t)
	const rounds = 20
	for i := 0; i < rounds; i++ {
		s, err := cli.CreateSession("rdma://127.0.0.1:7100", rc)
		require.NoError(t, err)
		c, err := cli.Connect(s, api.Token(i+1))
		require.NoError(t, err)
		require.NoError(t, cli.Disconnect(c, nil))
	}
	require.Eventually(t, func() bool {
		return rs.count(api.EventConnectionTeardown) == rounds && rc.count(api.EventConnectionTeardown) == rounds
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, rounds, rs.count(api.EventConnectionClosed))
	assert.Equal(t, rounds, rc.count(api.EventConnectionDisconnected))
	assert.Len(t, srv.Conns(), rounds, "recorder never destroys connections")
}
