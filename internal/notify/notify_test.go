package notify

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalNotifier_RespondOnce(t *testing.T) {
	l := NewLocalNotifier()
	calls := 0
	var got string
	require.NoError(t, l.SendPermissionNotification(context.Background(), Notification{RequestID: "perm_1"}, func(_, resp string) {
		calls++
		got = resp
	}))

	assert.True(t, l.Respond("perm_1", "allow_session"))
	assert.False(t, l.Respond("perm_1", "deny"))
	assert.False(t, l.Respond("perm_unknown", "deny"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, "allow_session", got)
	assert.Empty(t, l.Pending())
}

func TestLocalNotifier_ExpiredRequestForgotten(t *testing.T) {
	l := NewLocalNotifier()
	ctx, cancel := context.WithCancel(context.Background())
	called := false
	require.NoError(t, l.SendPermissionNotification(ctx, Notification{RequestID: "perm_1"}, func(string, string) { called = true }))
	require.NoError(t, l.SendPermissionNotification(context.Background(), Notification{RequestID: "perm_2"}, func(string, string) {}))
	require.Len(t, l.Pending(), 2)
	assert.Equal(t, "perm_1", l.Pending()[0].RequestID)

	cancel()
	require.Eventually(t, func() bool { return len(l.Pending()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "perm_2", l.Pending()[0].RequestID)
	assert.False(t, l.Respond("perm_1", "allow_once"))
	assert.False(t, called)
	l.Close()
	assert.Empty(t, l.Pending())
}

func TestLocalNotifier_Closed(t *testing.T) {
	l := NewLocalNotifier()
	l.Close()
	err := l.SendPermissionNotification(context.Background(), Notification{RequestID: "x"}, func(string, string) {})
	assert.ErrorIs(t, err, ErrNotifierClosed)
}

func TestTerminalNotifier_Shortcut(t *testing.T) {
	var out bytes.Buffer
	n := NewTerminalNotifier(strings.NewReader("p\n"), &out)

	got := make(chan string, 1)
	require.NoError(t, n.SendPermissionNotification(context.Background(), Notification{
		RequestID: "perm_1", Title: "Permission required", Message: "system_control:shutdown",
	}, func(_, resp string) { got <- resp }))

	select {
	case resp := <-got:
		assert.Equal(t, "allow_permanent", resp)
	case <-time.After(time.Second):
		t.Fatal("no response from terminal")
	}
	assert.Contains(t, out.String(), "system_control:shutdown")
}

func TestTerminalNotifier_EOFDenies(t *testing.T) {
	n := NewTerminalNotifier(strings.NewReader(""), &bytes.Buffer{})
	got := make(chan string, 1)
	require.NoError(t, n.SendPermissionNotification(context.Background(), Notification{RequestID: "perm_2"},
		func(_, resp string) { got <- resp }))
	assert.Equal(t, "deny", <-got)
}

func TestRedisNotifier_ExpiredRequestForgotten(t *testing.T) {
	r := NewRedisNotifier(nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	called := false
	r.track(ctx, "perm_1", func(string, string) { called = true })
	assert.Equal(t, 1, r.Waiting())

	cancel()
	require.Eventually(t, func() bool { return r.Waiting() == 0 }, time.Second, time.Millisecond)
	r.dispatch("perm_1:allow_once")
	assert.False(t, called)
}

// lockedBuffer: вывод терминала читается тестом параллельно с записью
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestTerminalNotifier_ExpiredPromptDoesNotSwallowAnswer(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	out := &lockedBuffer{}
	n := NewTerminalNotifier(pr, out)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan string, 1)
	require.NoError(t, n.SendPermissionNotification(ctx, Notification{RequestID: "perm_1", Title: "first prompt"},
		func(_, resp string) { first <- resp }))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "first prompt") }, time.Second, time.Millisecond)

	// Authority сдался, пользователь еще ничего не ввел
	cancel()
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "request expired") }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	require.NoError(t, n.SendPermissionNotification(context.Background(), Notification{RequestID: "perm_2", Title: "second prompt"},
		func(_, resp string) { second <- resp }))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "second prompt") }, time.Second, time.Millisecond)

	_, err := io.WriteString(pw, "s\n")
	require.NoError(t, err)

	select {
	case resp := <-second:
		assert.Equal(t, "allow_session", resp)
	case <-time.After(time.Second):
		t.Fatal("second prompt got no answer")
	}
	assert.Empty(t, first)
}

func TestRedisNotifier_DispatchIgnoresUnknown(t *testing.T) {
	r := NewRedisNotifier(nil, zap.NewNop())
	called := false
	r.pending["perm_1"] = func(_, resp string) {
		called = true
		assert.Equal(t, "allow_once", resp)
	}

	r.dispatch("garbage")
	r.dispatch("perm_404:allow_once")
	assert.False(t, called)

	r.dispatch("perm_1:allow_once")
	assert.True(t, called)
	r.dispatch("perm_1:deny") // второй ответ игнорируется
}
