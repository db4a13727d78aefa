package notify

import (
	"context"
	"sort"
	"sync"
)

// LocalNotifier держит запросы в памяти, пока жив ctx отправки. Ответ приходит
// через Respond, например из HTTP-консоли. Уже отвеченные, просроченные и неизвестные id игнорируются.
type LocalNotifier struct {
	mu      sync.Mutex
	pending map[string]localPrompt
	seq     uint64
	closed  bool
}

type localPrompt struct {
	n    Notification
	cb   ResponseFunc
	seq  uint64
	stop func() bool
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{pending: make(map[string]localPrompt)}
}

func (l *LocalNotifier) SendPermissionNotification(ctx context.Context, n Notification, onResponse ResponseFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrNotifierClosed
	}
	l.seq++
	l.pending[n.RequestID] = localPrompt{
		n:    n,
		cb:   onResponse,
		seq:  l.seq,
		stop: context.AfterFunc(ctx, func() { l.forget(n.RequestID) }),
	}
	return nil
}

func (l *LocalNotifier) forget(requestID string) {
	l.mu.Lock()
	delete(l.pending, requestID)
	l.mu.Unlock()
}

// Respond доставляет ответ, возвращает false для неизвестного id
func (l *LocalNotifier) Respond(requestID, response string) bool {
	l.mu.Lock()
	p, ok := l.pending[requestID]
	delete(l.pending, requestID)
	l.mu.Unlock()

	if !ok {
		return false
	}
	p.stop()
	p.cb(requestID, response)
	return true
}

// Pending: уведомления, ожидающие ответа, в порядке отправки
func (l *LocalNotifier) Pending() []Notification {
	l.mu.Lock()
	list := make([]localPrompt, 0, len(l.pending))
	for _, p := range l.pending {
		list = append(list, p)
	}
	l.mu.Unlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	out := make([]Notification, len(list))
	for i, p := range list {
		out[i] = p.n
	}
	return out
}

func (l *LocalNotifier) Close() {
	l.mu.Lock()
	l.closed = true
	for _, p := range l.pending {
		p.stop()
	}
	l.pending = make(map[string]localPrompt)
	l.mu.Unlock()
}
