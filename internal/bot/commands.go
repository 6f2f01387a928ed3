package bot

import (
	"context"
	"fmt"
	"html"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/parlebot/internal/normalize"
	"github.com/kalambet/parlebot/internal/search"
	"github.com/kalambet/parlebot/internal/storage"
)

// Mail log error codes.
const (
	MailErrNotConfigured = "mailer_not_configured"
	MailErrSend          = "send_error"
)

// SearchResultLimit is the number of results requested from the search provider.
const SearchResultLimit = 3

var (
	mailPattern   = regexp.MustCompile(`(?is)^\s*mail\s*:\s*(.+?)\s*\+\s*(.+?)\s*\+\s*(.+)$`)
	learnPattern  = regexp.MustCompile(`(?is)^\s*apprendre\s*:\s*(.+?)\s*=\s*(.+)$`)
	searchPattern = regexp.MustCompile(`(?is)^\s*recherche\s*:(.*)$`)

	lineBreaks = strings.NewReplacer("\r\n", "<br />\r\n", "\n", "<br />\n", "\r", "<br />\r")
)

// MailCommand is a parsed "mail : <to> + <subject> + <body>" message.
type MailCommand struct {
	To      string
	Subject string
	Body    string
}

// ParseMail recognises the mail command. Fields are trimmed.
func ParseMail(raw string) (MailCommand, bool) {
	m := mailPattern.FindStringSubmatch(raw)
	if m == nil {
		return MailCommand{}, false
	}
	return MailCommand{
		To:      strings.TrimSpace(m[1]),
		Subject: strings.TrimSpace(m[2]),
		Body:    strings.TrimSpace(m[3]),
	}, true
}

// LearnCommand is a parsed "apprendre : <question> = <answer>" message.
type LearnCommand struct {
	Question string
	Answer   string
}

// ParseLearn recognises the learn command. The question is split at the
// first "=".
func ParseLearn(raw string) (LearnCommand, bool) {
	m := learnPattern.FindStringSubmatch(raw)
	if m == nil {
		return LearnCommand{}, false
	}
	return LearnCommand{
		Question: strings.TrimSpace(m[1]),
		Answer:   strings.TrimSpace(m[2]),
	}, true
}

// ParseSearch recognises the search command and returns the trimmed query,
// which may be empty.
func ParseSearch(raw string) (string, bool) {
	m := searchPattern.FindStringSubmatch(raw)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ValidEmail reports whether addr is a bare ASCII address such as
// "alice@example.com", without display name or angle brackets. The domain
// must contain at least one dot and no empty labels.
func ValidEmail(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, " \t\r\n<>") {
		return false
	}
	for i := 0; i < len(addr); i++ {
		if addr[i] >= utf8.RuneSelf {
			return false
		}
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Name != "" || parsed.Address != addr {
		return false
	}
	at := strings.LastIndexByte(addr, '@')
	labels := strings.Split(addr[at+1:], ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if label == "" {
			return false
		}
	}
	return true
}

// MailHTML escapes body for HTML and turns line breaks into <br />.
func MailHTML(body string) string {
	return lineBreaks.Replace(html.EscapeString(body))
}

func (b *Bot) handleMail(ctx context.Context, raw string) (Response, bool) {
	cmd, ok := ParseMail(raw)
	if !ok {
		return Response{}, false
	}

	if !ValidEmail(cmd.To) {
		return failure(KindValidation, "Adresse e-mail invalide : "+cmd.To), true
	}

	entry := storage.MailLog{Recipient: cmd.To, Subject: cmd.Subject, Body: cmd.Body}

	if b.mailer == nil || !b.mailer.IsConfigured() {
		entry.Status = storage.MailFailed
		entry.Error = MailErrNotConfigured
		b.logMail(ctx, entry)
		return failure(KindUnavailable, "Mailer non configuré. Impossible d'envoyer l'e-mail."), true
	}

	err := b.mailer.Send(ctx, cmd.To, cmd.Subject, MailHTML(cmd.Body), cmd.Body)
	if err != nil {
		b.logger.Warn("mail send failed", "recipient", cmd.To, "error", err)
		entry.Status = storage.MailFailed
		entry.Error = MailErrSend + ": " + err.Error()
		b.logMail(ctx, entry)
		return failure(KindUnavailable, fmt.Sprintf("Échec envoi e-mail à %s.", cmd.To)), true
	}

	entry.Status = storage.MailSent
	b.logMail(ctx, entry)
	return reply(fmt.Sprintf("E-mail envoyé à %s (objet: %s).", cmd.To, cmd.Subject)), true
}

func (b *Bot) handleLearn(ctx context.Context, raw string) (Response, bool) {
	cmd, ok := ParseLearn(raw)
	if !ok {
		return Response{}, false
	}

	key := normalize.String(cmd.Question)
	if key == "" || cmd.Answer == "" {
		return failure(KindValidation, "Question ou réponse vide."), true
	}

	if err := b.store.UpsertFact(ctx, key, cmd.Answer); err != nil {
		b.logger.Error("failed to learn fact", "key", key, "error", err)
		return failure(KindPersistence, "Impossible de sauvegarder la réponse."), true
	}

	return reply(fmt.Sprintf("J'ai appris : \"%s\" → \"%s\"", cmd.Question, cmd.Answer)), true
}

func (b *Bot) handleSearch(ctx context.Context, raw string) (Response, bool) {
	query, ok := ParseSearch(raw)
	if !ok {
		return Response{}, false
	}

	if query == "" {
		return failure(KindValidation, "Recherche vide."), true
	}

	if b.searcher == nil || !b.searcher.IsConfigured() {
		return failure(KindUnavailable, "Recherche web non configurée."), true
	}

	items, err := b.searcher.Query(ctx, query, SearchResultLimit)
	if err != nil {
		b.logger.Warn("web search failed", "query", query, "error", err)
		return failure(KindUnavailable, "Impossible de contacter le service de recherche."), true
	}
	if len(items) == 0 {
		return reply("Aucun résultat trouvé."), true
	}
	if len(items) > SearchResultLimit {
		items = items[:SearchResultLimit]
	}

	results := make([]Result, 0, len(items))
	for _, it := range items {
		results = append(results, toResult(it))
	}
	return Response{
		Reply:   fmt.Sprintf("Résultats pour \"%s\" :", query),
		Results: results,
	}, true
}

// toResult fills absent fields the same way for every provider record.
func toResult(it search.Item) Result {
	r := Result{Title: it.Title, Link: it.Link, Snippet: it.Snippet}
	if r.Title == "" {
		r.Title = "Sans titre"
	}
	if r.Link == "" {
		r.Link = it.FormattedURL
	}
	if r.Link == "" {
		r.Link = "#"
	}
	if r.Snippet == "" {
		r.Snippet = search.PlainText(it.HTMLSnippet)
	}
	return r
}
