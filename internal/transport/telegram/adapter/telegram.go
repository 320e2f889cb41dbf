package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "serverbot/internal/transport"
	logx "serverbot/pkg/logx"
)

const telegramTextLimit = 4000

type Config struct {
	Token       string
	SendTimeout time.Duration
	// APIURL points at a self-hosted Bot API server; empty means api.telegram.org.
	APIURL string
}

// Adapter is a send-only Telegram sink. It never polls for updates.
type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

var _ kit.Sink = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.SendTimeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

func (a *Adapter) Send(ctx context.Context, to kit.ChatTarget, records []kit.Record) (kit.MessageRef, error) {
	chunks := splitTelegramText(RenderHTML(records), telegramTextLimit)
	if len(chunks) == 0 {
		return kit.MessageRef{}, errors.New("telegram: nothing to send")
	}

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             tele.ModeHTML,
			DisableWebPagePreview: true,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// Edit rewrites ref with the full record list. A group that no longer fits
// into one message is rejected with transport.ErrMessageFull before any API
// call, so the caller can start a new message.
func (a *Adapter) Edit(ctx context.Context, ref kit.MessageRef, records []kit.Record) error {
	text := RenderHTML(records)
	if text == "" {
		return errors.New("telegram: nothing to edit")
	}
	if n := utf8.RuneCountInString(text); n > telegramTextLimit {
		return fmt.Errorf("%w: %d of %d characters", kit.ErrMessageFull, n, telegramTextLimit)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	_, err := a.bot.Edit(m, text, &tele.SendOptions{ParseMode: tele.ModeHTML, DisableWebPagePreview: true})
	return classifyEditError(err)
}

// classifyEditError maps Bot API edit failures onto transport errors.
// Matching on the description keeps this independent of telebot's error constants.
func classifyEditError(err error) error {
	if err == nil {
		return nil
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "message is not modified"):
		return nil
	case strings.Contains(s, "message to edit not found"),
		strings.Contains(s, "message can't be edited"),
		strings.Contains(s, "chat not found"):
		return fmt.Errorf("%w: %v", kit.ErrMessageGone, err)
	default:
		return err
	}
}

// splitReserve keeps room for the closing tags appended at a cut.
const splitReserve = 32

type openTag struct {
	name string
	raw  string
}

// splitTelegramText splits rendered HTML into chunks of at most limit runes.
// It prefers newline boundaries and never cuts inside a tag or an entity.
// Elements still open at a cut (typically a multi-line <pre>) are closed at
// the end of the chunk and reopened at the start of the next one, so every
// chunk is well-formed on its own.
func splitTelegramText(s string, limit int) []string {
	if s == "" {
		return nil
	}
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	var (
		out  []string
		open []openTag
	)
	start := 0
	for start < len(rs) {
		prefix := openingTags(open)
		budget := max(limit-utf8.RuneCountInString(prefix)-splitReserve, limit/4)
		end := min(start+budget, len(rs))
		if end < len(rs) {
			end = cutPoint(rs, start, end)
		}

		piece := string(rs[start:end])
		open = trackTags(open, piece)
		if body := strings.TrimRight(piece, "\n"); strings.TrimSpace(body) != "" {
			out = append(out, prefix+body+closingTags(open))
		}
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// cutPoint moves end back to a newline if one is reasonably close, then out
// of any tag or entity it would cut.
func cutPoint(rs []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if rs[i] == '\n' && i-start >= (end-start)/3 {
			end = i + 1
			break
		}
	}

	lastOpen, lastClose := -1, -1
	for i := start; i < end; i++ {
		switch rs[i] {
		case '<':
			lastOpen = i
		case '>':
			lastClose = i
		}
	}
	if lastOpen > lastClose && lastOpen > start {
		end = lastOpen
	}

	// entities are short: "&amp;", "&quot;", "&#39;"
	for i := end - 1; i > start && i >= end-8; i-- {
		if rs[i] == ';' || rs[i] == ' ' || rs[i] == '\n' {
			break
		}
		if rs[i] == '&' {
			end = i
			break
		}
	}
	return end
}

// trackTags applies the tags in piece to the stack of open elements.
func trackTags(open []openTag, piece string) []openTag {
	for i := 0; i < len(piece); {
		j := strings.IndexByte(piece[i:], '<')
		if j < 0 {
			break
		}
		j += i
		k := strings.IndexByte(piece[j:], '>')
		if k < 0 {
			break
		}
		k += j
		tag := piece[j : k+1]
		switch {
		case strings.HasPrefix(tag, "</"):
			name := tagName(tag[2 : len(tag)-1])
			for n := len(open) - 1; n >= 0; n-- {
				if open[n].name == name {
					open = open[:n]
					break
				}
			}
		case strings.HasSuffix(tag, "/>"):
		default:
			open = append(open, openTag{name: tagName(tag[1 : len(tag)-1]), raw: tag})
		}
		i = k + 1
	}
	return open
}

func tagName(s string) string {
	if i := strings.IndexAny(s, " \t\n"); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

func openingTags(open []openTag) string {
	var b strings.Builder
	for _, t := range open {
		b.WriteString(t.raw)
	}
	return b.String()
}

func closingTags(open []openTag) string {
	var b strings.Builder
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i].name + ">")
	}
	return b.String()
}
