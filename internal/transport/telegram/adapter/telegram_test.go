package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	kit "serverbot/internal/transport"
	logx "serverbot/pkg/logx"
)

func TestClassifyEditError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		wantNil  bool
		wantGone bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "not modified", err: errors.New("telegram: Bad Request: message is not modified (400)"), wantNil: true},
		{name: "deleted", err: errors.New("telegram: Bad Request: message to edit not found (400)"), wantGone: true},
		{name: "too old", err: errors.New("telegram: Bad Request: message can't be edited (400)"), wantGone: true},
		{name: "other", err: errors.New("telegram: Too Many Requests: retry after 5 (429)")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := classifyEditError(tt.err)
			if tt.wantNil {
				if got != nil {
					t.Fatalf("classifyEditError = %v, want nil", got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected error")
			}
			if errors.Is(got, kit.ErrMessageGone) != tt.wantGone {
				t.Fatalf("errors.Is(ErrMessageGone) = %v, want %v", !tt.wantGone, tt.wantGone)
			}
		})
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	t.Parallel()
	line := strings.Repeat("a", 30)
	text := strings.Repeat(line+"\n", 10)

	chunks := splitTelegramText(text, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 100 {
			t.Fatalf("chunk longer than limit: %d", len([]rune(c)))
		}
		if strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk should not end with newline: %q", c)
		}
	}
	if got := splitTelegramText("", 100); got != nil {
		t.Fatalf("empty input: got %v", got)
	}
}

func TestRenderHTMLEscapesAndOrders(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	out := RenderHTML([]kit.Record{
		{Author: "Sonarr - Grab", Title: "Show <1>", Fields: []kit.Field{{Name: "Size", Value: "1.00GB"}}, Timestamp: ts},
		{Title: "Second", URL: "https://example.com/?a=1&b=2"},
	})

	if !strings.Contains(out, "Show &lt;1&gt;") {
		t.Fatalf("title not escaped: %s", out)
	}
	if !strings.Contains(out, `href="https://example.com/?a=1&amp;b=2"`) {
		t.Fatalf("url not escaped: %s", out)
	}
	if strings.Index(out, "Show") > strings.Index(out, "Second") {
		t.Fatalf("records out of order: %s", out)
	}
	if !strings.Contains(out, "2024-05-01 12:30 UTC") {
		t.Fatalf("missing timestamp: %s", out)
	}
}

// fakeBotAPI answers sendMessage and editMessageText like the Bot API and
// records the text of every call.
type fakeBotAPI struct {
	mu     sync.Mutex
	nextID int
	calls  map[string][]string
	// editErr, if set, is returned as the description of a failed edit.
	editErr string
}

func newFakeBotAPI(t *testing.T) (*fakeBotAPI, *Adapter) {
	t.Helper()
	f := &fakeBotAPI{calls: map[string][]string{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, SendTimeout: 5 * time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f, a
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	var params map[string]any
	_ = json.NewDecoder(r.Body).Decode(&params)
	text, _ := params["text"].(string)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method] = append(f.calls[method], text)
	w.Header().Set("Content-Type", "application/json")
	if method == "editMessageText" && f.editErr != "" {
		fmt.Fprintf(w, `{"ok":false,"error_code":400,"description":%q}`, f.editErr)
		return
	}
	id := 0
	if method == "sendMessage" {
		f.nextID++
		id = f.nextID
	} else {
		fmt.Sscan(fmt.Sprint(params["message_id"]), &id)
	}
	fmt.Fprintf(w, `{"ok":true,"result":{"message_id":%d,"date":0,"chat":{"id":-100123,"type":"supergroup"}}}`, id)
}

func (f *fakeBotAPI) texts(method string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls[method]...)
}

func tallRecord(i, lines int) kit.Record {
	body := make([]string, lines)
	for n := range body {
		body[n] = fmt.Sprintf("line %02d of record %d & co", n, i)
	}
	return kit.Record{Title: fmt.Sprintf("record %d", i), Body: strings.Join(body, "\n")}
}

func assertBalanced(t *testing.T, text string) {
	t.Helper()
	for _, tag := range []string{"pre", "b", "i", "a", "code"} {
		opens := strings.Count(text, "<"+tag+">") + strings.Count(text, "<"+tag+" ")
		closes := strings.Count(text, "</"+tag+">")
		if opens != closes {
			t.Fatalf("unbalanced <%s>: %d open, %d close in %q", tag, opens, closes, text)
		}
	}
	if i := strings.LastIndexByte(text, '&'); i >= 0 && !strings.Contains(text[i:], ";") {
		t.Fatalf("entity cut at end of %q", text[max(0, len(text)-20):])
	}
}

func TestEditRejectsGroupThatNoLongerFits(t *testing.T) {
	t.Parallel()
	api, a := newFakeBotAPI(t)
	ctx := context.Background()
	to := kit.ChatTarget{ChatID: -100123, ThreadID: 7}

	group := []kit.Record{tallRecord(0, 30)}
	ref, err := a.Send(ctx, to, group)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.MessageID != 1 || ref.ThreadID != 7 {
		t.Fatalf("unexpected ref %+v", ref)
	}

	edits := 0
	full := false
	for i := 1; i < 20 && !full; i++ {
		next := append(append([]kit.Record(nil), group...), tallRecord(i, 30))
		err := a.Edit(ctx, ref, next)
		switch {
		case errors.Is(err, kit.ErrMessageFull):
			full = true
		case err != nil:
			t.Fatalf("Edit %d: %v", i, err)
		default:
			group = next
			edits++
		}
	}
	if !full {
		t.Fatal("group never reported full")
	}
	if got := len(api.texts("sendMessage")); got != 1 {
		t.Fatalf("sendMessage calls = %d, want 1", got)
	}
	if got := len(api.texts("editMessageText")); got != edits {
		t.Fatalf("editMessageText calls = %d, want %d", got, edits)
	}
	for _, text := range api.texts("editMessageText") {
		if n := utf8.RuneCountInString(text); n > telegramTextLimit {
			t.Fatalf("edit text has %d runes", n)
		}
	}
}

func TestEditMapsDeletedMessageToGone(t *testing.T) {
	t.Parallel()
	api, a := newFakeBotAPI(t)
	api.editErr = "Bad Request: message to edit not found"

	err := a.Edit(context.Background(), kit.MessageRef{ChatID: -100123, MessageID: 9}, []kit.Record{{Title: "x"}})
	if !errors.Is(err, kit.ErrMessageGone) {
		t.Fatalf("Edit = %v, want ErrMessageGone", err)
	}
}

func TestSendSplitsLongRecordIntoWellFormedChunks(t *testing.T) {
	t.Parallel()
	api, a := newFakeBotAPI(t)

	ref, err := a.Send(context.Background(), kit.ChatTarget{ChatID: -100123}, []kit.Record{tallRecord(1, 400)})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	texts := api.texts("sendMessage")
	if len(texts) < 2 {
		t.Fatalf("expected several messages, got %d", len(texts))
	}
	if ref.MessageID != 1 {
		t.Fatalf("ref should point at the first chunk, got %d", ref.MessageID)
	}
	for i, text := range texts {
		if n := utf8.RuneCountInString(text); n > telegramTextLimit {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		assertBalanced(t, text)
		if i > 0 && !strings.HasPrefix(text, "<pre>") {
			t.Fatalf("chunk %d does not reopen <pre>: %q", i, text[:20])
		}
	}
}

func TestSplitKeepsTagsAndEntitiesWhole(t *testing.T) {
	t.Parallel()
	text := `<b><a href="https://example.com/?a=1&amp;b=2">title</a></b>` + "\n<pre>" +
		strings.Repeat("x &amp; y &lt;z&gt; ", 40) + "</pre>\n<code>2024-05-01 12:30 UTC</code>"

	chunks := splitTelegramText(text, 120)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 120 {
			t.Fatalf("chunk longer than limit: %d", n)
		}
		assertBalanced(t, c)
	}
}
