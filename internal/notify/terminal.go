package notify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// TerminalNotifier спрашивает пользователя в консоли.
// Одновременно показывается один вопрос, остальные ждут очереди.
// Чтение stdin не привязано к вопросу: строка, дочитанная после истечения
// вопроса, достается следующему, если введена уже после его показа.
type TerminalNotifier struct {
	out io.Writer
	in  *bufio.Reader

	mu      sync.Mutex // один вопрос на экране
	lines   chan terminalLine
	reading bool // под mu: горутина чтения уже ждет строку
	clock   func() time.Time
}

type terminalLine struct {
	text string
	err  error
	at   time.Time
}

func NewTerminalNotifier(in io.Reader, out io.Writer) *TerminalNotifier {
	return &TerminalNotifier{
		out:   out,
		in:    bufio.NewReader(in),
		lines: make(chan terminalLine, 1),
		clock: time.Now,
	}
}

// shortcuts для ввода одной буквой
var terminalShortcuts = map[string]string{
	"d": "deny",
	"o": "allow_once",
	"s": "allow_session",
	"p": "allow_permanent",
}

func (t *TerminalNotifier) SendPermissionNotification(ctx context.Context, n Notification, onResponse ResponseFunc) error {
	go t.ask(ctx, n, onResponse)
	return nil
}

func (t *TerminalNotifier) ask(ctx context.Context, n Notification, onResponse ResponseFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Authority к этому моменту мог уже сдаться по таймауту
	if ctx.Err() != nil {
		return
	}

	fmt.Fprintf(t.out, "\n[%s] %s\n%s\n", strings.ToUpper(string(n.RiskLevel)), n.Title, n.Message)
	fmt.Fprint(t.out, "Allow? [d]eny / allow [o]nce / [s]ession / [p]ermanent: ")
	shown := t.clock()

	line, err := t.readLine(ctx, shown)
	if ctx.Err() != nil {
		fmt.Fprintln(t.out, "\n(request expired, denied)")
		return
	}
	if err != nil && line == "" {
		onResponse(n.RequestID, "deny")
		return
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if full, ok := terminalShortcuts[answer]; ok {
		answer = full
	}
	onResponse(n.RequestID, answer)
}

// readLine отдает первую строку, введенную не раньше shown. Вызывается под mu.
func (t *TerminalNotifier) readLine(ctx context.Context, shown time.Time) (string, error) {
	for {
		if !t.reading {
			t.reading = true
			go func() {
				text, err := t.in.ReadString('\n')
				t.lines <- terminalLine{text: text, err: err, at: t.clock()}
			}()
		}
		select {
		case l := <-t.lines:
			t.reading = false
			if l.at.Before(shown) && l.err == nil {
				continue // ответ на уже истекший вопрос
			}
			return l.text, l.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
