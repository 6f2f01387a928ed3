// Package bot implements the rule-based message dispatcher: command
// parsers, learned fact lookup and keyword small talk, in a fixed priority
// order.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/parlebot/internal/normalize"
	"github.com/kalambet/parlebot/internal/search"
	"github.com/kalambet/parlebot/internal/storage"
)

// DefaultReply answers messages that nothing else recognised.
const DefaultReply = "Waouhh ! Un nouveau mot. Aidez-moi à le connaitre avec apprendre : question = réponse"

const (
	msgEmpty         = "Aucun message reçu"
	msgStoreNotReady = "Tables manquantes (facts/messages/mail_logs). Base de données non initialisée."
)

// FactStore is the persistence the dispatcher depends on. GetFact and
// FindSimilarFact return storage.ErrNotFound when nothing matches.
type FactStore interface {
	HasRequiredTables(ctx context.Context) bool
	GetFact(ctx context.Context, key string) (string, error)
	UpsertFact(ctx context.Context, key, answer string) error
	FindSimilarFact(ctx context.Context, query string) (string, error)
	SaveMessage(ctx context.Context, turnID, role, content string) error
	LogMail(ctx context.Context, entry storage.MailLog) error
}

// EmailSender delivers mail commands.
type EmailSender interface {
	IsConfigured() bool
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SearchProvider runs web searches for the search command.
type SearchProvider interface {
	IsConfigured() bool
	Query(ctx context.Context, text string, maxResults int) ([]search.Item, error)
}

// Rand picks reply pool entries. IntN returns a value in [0, n).
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Option customises a Bot.
type Option func(*Bot)

// WithRand replaces the random source used for reply pools.
func WithRand(r Rand) Option {
	return func(b *Bot) {
		if r != nil {
			b.rand = r
		}
	}
}

// WithLogger sets the logger used for swallowed failures.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bot) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithTurnIDs replaces the turn id generator.
func WithTurnIDs(next func() string) Option {
	return func(b *Bot) {
		if next != nil {
			b.newTurnID = next
		}
	}
}

// Bot dispatches incoming messages. It holds no per-conversation state and
// is safe for concurrent use as long as its dependencies are.
type Bot struct {
	store     FactStore
	mailer    EmailSender
	searcher  SearchProvider
	rand      Rand
	logger    *slog.Logger
	newTurnID func() string
	matchers  []matcher
}

// New creates a dispatcher. mailer and searcher may be nil, in which case
// the matching commands reply that the capability is not configured.
func New(store FactStore, mailer EmailSender, searcher SearchProvider, opts ...Option) (*Bot, error) {
	if store == nil {
		return nil, errors.New("bot: fact store is required")
	}
	b := &Bot{
		store:     store,
		mailer:    mailer,
		searcher:  searcher,
		rand:      globalRand{},
		logger:    slog.Default(),
		newTurnID: uuid.NewString,
		matchers:  defaultMatchers(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Handle dispatches one message and returns the reply. An empty message or
// an unprovisioned store produce an error without writing anything;
// otherwise the user turn and the bot turn are both logged.
func (b *Bot) Handle(ctx context.Context, message string) Response {
	raw := strings.TrimSpace(message)
	if raw == "" {
		return failure(KindValidation, msgEmpty)
	}

	if !b.store.HasRequiredTables(ctx) {
		return failure(KindUnavailable, msgStoreNotReady)
	}

	turnID := b.newTurnID()
	b.saveMessage(ctx, turnID, storage.RoleUser, raw)

	resp := b.dispatch(ctx, raw)

	b.saveMessage(ctx, turnID, storage.RoleBot, resp.Text())
	return resp
}

func (b *Bot) dispatch(ctx context.Context, raw string) Response {
	if resp, ok := b.handleMail(ctx, raw); ok {
		return resp
	}
	if resp, ok := b.handleLearn(ctx, raw); ok {
		return resp
	}

	key := normalize.String(raw)
	if answer, ok := b.lookup(ctx, key); ok {
		return reply(answer)
	}
	if answer, ok := b.lookupSimilar(ctx, key); ok {
		return reply(answer)
	}

	if resp, ok := b.handleSearch(ctx, raw); ok {
		return resp
	}

	lower := lowerText(raw)
	for _, m := range b.matchers {
		if m.matches(lower) {
			b.logger.Debug("small talk matched", "intent", m.name)
			return reply(b.overrideOrFallback(ctx, m))
		}
	}

	return reply(DefaultReply)
}

// lookup returns the answer stored under the exact normalized key.
func (b *Bot) lookup(ctx context.Context, key string) (string, bool) {
	answer, err := b.store.GetFact(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("fact lookup failed", "key", key, "error", err)
		}
		return "", false
	}
	return answer, true
}

func (b *Bot) lookupSimilar(ctx context.Context, key string) (string, bool) {
	answer, err := b.store.FindSimilarFact(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			b.logger.Warn("similar fact lookup failed", "query", key, "error", err)
		}
		return "", false
	}
	return answer, true
}

func (b *Bot) saveMessage(ctx context.Context, turnID, role, content string) {
	if err := b.store.SaveMessage(ctx, turnID, role, content); err != nil {
		b.logger.Warn("failed to save message", "turn_id", turnID, "role", role, "error", err)
	}
}

func (b *Bot) logMail(ctx context.Context, entry storage.MailLog) {
	if err := b.store.LogMail(ctx, entry); err != nil {
		b.logger.Warn("failed to log mail attempt", "recipient", entry.Recipient, "status", entry.Status, "error", err)
	}
}
