package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/parlebot/internal/search"
	"github.com/kalambet/parlebot/internal/storage"
)

type memStore struct {
	mu           sync.Mutex
	notReady     bool
	keys         []string
	facts        map[string]string
	getCalls     int
	similarCalls int
	upserts      int
	messages     []storage.Message
	mailLogs     []storage.MailLog
	upsertErr    error
	saveErr      error
	mailLogErr   error
}

func newMemStore(facts ...string) *memStore {
	s := &memStore{facts: map[string]string{}}
	for i := 0; i+1 < len(facts); i += 2 {
		s.keys = append(s.keys, facts[i])
		s.facts[facts[i]] = facts[i+1]
	}
	return s
}

func (s *memStore) HasRequiredTables(_ context.Context) bool {
	return !s.notReady
}

func (s *memStore) GetFact(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	v, ok := s.facts[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *memStore) UpsertFact(_ context.Context, key, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts++
	if _, ok := s.facts[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.facts[key] = answer
	return nil
}

func (s *memStore) FindSimilarFact(_ context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.similarCalls++
	if query == "" {
		return "", storage.ErrNotFound
	}
	for _, k := range s.keys {
		if k != "" && (strings.Contains(query, k) || strings.Contains(k, query)) {
			return s.facts[k], nil
		}
	}
	return "", storage.ErrNotFound
}

func (s *memStore) SaveMessage(_ context.Context, turnID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.messages = append(s.messages, storage.Message{TurnID: turnID, Role: role, Content: content})
	return nil
}

func (s *memStore) LogMail(_ context.Context, entry storage.MailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mailLogErr != nil {
		return s.mailLogErr
	}
	s.mailLogs = append(s.mailLogs, entry)
	return nil
}

type sentMail struct {
	to, subject, html, text string
}

type fakeMailer struct {
	configured bool
	err        error
	sent       []sentMail
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) Send(_ context.Context, to, subject, htmlBody, textBody string) error {
	m.sent = append(m.sent, sentMail{to, subject, htmlBody, textBody})
	return m.err
}

type fakeSearch struct {
	configured bool
	items      []search.Item
	err        error
	queries    []string
	maxResults []int
}

func (f *fakeSearch) IsConfigured() bool { return f.configured }

func (f *fakeSearch) Query(_ context.Context, text string, maxResults int) ([]search.Item, error) {
	f.queries = append(f.queries, text)
	f.maxResults = append(f.maxResults, maxResults)
	return f.items, f.err
}

type fixedRand int

func (r fixedRand) IntN(n int) int { return int(r) % n }

func newTestBot(t *testing.T, store FactStore, mailer EmailSender, searcher SearchProvider) *Bot {
	t.Helper()
	n := 0
	b, err := New(store, mailer, searcher,
		WithRand(fixedRand(0)),
		WithTurnIDs(func() string { n++; return fmt.Sprintf("turn-%d", n) }),
	)
	require.NoError(t, err)
	return b
}

func requireTurns(t *testing.T, s *memStore, user, bot string) {
	t.Helper()
	require.Len(t, s.messages, 2)
	assert.Equal(t, storage.RoleUser, s.messages[0].Role)
	assert.Equal(t, user, s.messages[0].Content)
	assert.Equal(t, storage.RoleBot, s.messages[1].Role)
	assert.Equal(t, bot, s.messages[1].Content)
	assert.Equal(t, s.messages[0].TurnID, s.messages[1].TurnID)
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(nil, nil, nil)
	require.Error(t, err)
}

func TestHandle_EmptyMessageWritesNothing(t *testing.T) {
	for _, msg := range []string{"", "   ", "\n\t "} {
		store := newMemStore()
		b := newTestBot(t, store, nil, nil)

		resp := b.Handle(context.Background(), msg)

		assert.True(t, resp.IsError())
		assert.Equal(t, KindValidation, resp.Kind)
		assert.Empty(t, resp.Reply)
		assert.Empty(t, store.messages)
		assert.Empty(t, store.mailLogs)
		assert.Zero(t, store.getCalls)
	}
}

func TestHandle_StoreNotReady(t *testing.T) {
	store := newMemStore("bonjour", "salut")
	store.notReady = true
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "bonjour")

	assert.True(t, resp.IsError())
	assert.Equal(t, KindUnavailable, resp.Kind)
	assert.Empty(t, store.messages)
	assert.Zero(t, store.getCalls)
	assert.Zero(t, store.similarCalls)
}

func TestHandle_DefaultReply(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "  xylophone  ")

	assert.Equal(t, Response{Reply: DefaultReply}, resp)
	assert.Equal(t, "Waouhh ! Un nouveau mot. Aidez-moi à le connaitre avec apprendre : question = réponse", resp.Reply)
	requireTurns(t, store, "xylophone", DefaultReply)
}

func TestHandle_ExactBeforeFuzzy(t *testing.T) {
	store := newMemStore("quelle heure", "il est midi", "heure", "autre réponse")
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "Quelle heure")

	assert.Equal(t, "il est midi", resp.Reply)
	assert.Equal(t, 1, store.getCalls)
	assert.Zero(t, store.similarCalls, "fuzzy lookup must not run after an exact hit")
	requireTurns(t, store, "Quelle heure", "il est midi")
}

func TestHandle_FuzzyContainment(t *testing.T) {
	store := newMemStore("heure", "Il est l'heure")
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "quelle heure est il")

	assert.Equal(t, "Il est l'heure", resp.Reply)
	assert.Equal(t, 1, store.similarCalls)
}

func TestHandle_FuzzyQueryInsideKey(t *testing.T) {
	store := newMemStore("quelle est la capitale de la france", "Paris")
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "capitale de la France")

	assert.Equal(t, "Paris", resp.Reply)
}

func TestHandle_LearnThenLookup(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, nil, nil)
	ctx := context.Background()

	resp := b.Handle(ctx, "apprendre : Quelle heure = il est midi")
	require.False(t, resp.IsError(), resp.Error)
	assert.Equal(t, `J'ai appris : "Quelle heure" → "il est midi"`, resp.Reply)
	assert.Equal(t, "il est midi", store.facts["quelle heure"])

	resp = b.Handle(ctx, "quelle heure")
	assert.Equal(t, "il est midi", resp.Reply)
	assert.Len(t, store.messages, 4)
}

func TestHandle_LearnOverwrites(t *testing.T) {
	store := newMemStore("ciel", "bleu")
	b := newTestBot(t, store, nil, nil)
	ctx := context.Background()

	b.Handle(ctx, "APPRENDRE: Ciel ! = gris")

	assert.Equal(t, "gris", store.facts["ciel"])
	assert.Equal(t, []string{"ciel"}, store.keys)
}

func TestHandle_LearnedKeyMatchesAnyCase(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, nil, nil)
	ctx := context.Background()

	resp := b.Handle(ctx, "apprendre : ᏣᎳᎩ = cherokee")
	require.False(t, resp.IsError(), resp.Error)

	for _, msg := range []string{"ᏣᎳᎩ", "ꮳꮃꭹ", "Ꮳꮃꭹ"} {
		assert.Equal(t, "cherokee", b.Handle(ctx, msg).Reply, "message %q", msg)
	}
	assert.Equal(t, 1, store.upserts)
}

func TestHandle_LearnValidation(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"punctuation only question", "apprendre : !!! = réponse"},
		{"symbols only question", "apprendre : -- €% = réponse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			b := newTestBot(t, store, nil, nil)

			resp := b.Handle(context.Background(), tt.msg)

			assert.Equal(t, KindValidation, resp.Kind)
			assert.Equal(t, "Question ou réponse vide.", resp.Error)
			assert.Zero(t, store.upserts)
			requireTurns(t, store, strings.TrimSpace(tt.msg), resp.Error)
		})
	}
}

func TestHandle_LearnPersistenceFailure(t *testing.T) {
	store := newMemStore()
	store.upsertErr = errors.New("disk full")
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "apprendre : ciel = bleu")

	assert.Equal(t, KindPersistence, resp.Kind)
	assert.NotContains(t, resp.Error, "disk full")
	requireTurns(t, store, "apprendre : ciel = bleu", resp.Error)
}

func TestHandle_MailInvalidAddress(t *testing.T) {
	store := newMemStore()
	mailer := &fakeMailer{configured: true}
	b := newTestBot(t, store, mailer, nil)

	resp := b.Handle(context.Background(), "mail : not-an-email + Hi + Hello")

	assert.Equal(t, KindValidation, resp.Kind)
	assert.Equal(t, "Adresse e-mail invalide : not-an-email", resp.Error)
	assert.Empty(t, store.mailLogs)
	assert.Empty(t, mailer.sent)
	requireTurns(t, store, "mail : not-an-email + Hi + Hello", resp.Error)
}

func TestHandle_MailRejectsDotlessAndNonASCIIAddresses(t *testing.T) {
	for _, to := range []string{"a@b", "é@ex.com"} {
		store := newMemStore()
		mailer := &fakeMailer{configured: true}
		b := newTestBot(t, store, mailer, nil)

		resp := b.Handle(context.Background(), "mail : "+to+" + Hi + Hello")

		assert.Equal(t, KindValidation, resp.Kind, to)
		assert.Equal(t, "Adresse e-mail invalide : "+to, resp.Error)
		assert.Empty(t, store.mailLogs, to)
		assert.Empty(t, mailer.sent, to)
	}
}

func TestHandle_MailNotConfigured(t *testing.T) {
	tests := []struct {
		name   string
		mailer EmailSender
	}{
		{"nil mailer", nil},
		{"unconfigured mailer", &fakeMailer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			b := newTestBot(t, store, tt.mailer, nil)

			resp := b.Handle(context.Background(), "mail : alice@example.com + Hi + Hello")

			assert.Equal(t, KindUnavailable, resp.Kind)
			require.Len(t, store.mailLogs, 1)
			assert.Equal(t, storage.MailLog{
				Recipient: "alice@example.com",
				Subject:   "Hi",
				Body:      "Hello",
				Status:    storage.MailFailed,
				Error:     MailErrNotConfigured,
			}, store.mailLogs[0])
		})
	}
}

func TestHandle_MailSent(t *testing.T) {
	store := newMemStore()
	mailer := &fakeMailer{configured: true}
	b := newTestBot(t, store, mailer, nil)

	resp := b.Handle(context.Background(), "Mail: alice@example.com + Réunion + Ligne 1\nLigne <2>")

	require.False(t, resp.IsError(), resp.Error)
	assert.Equal(t, "E-mail envoyé à alice@example.com (objet: Réunion).", resp.Reply)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, sentMail{
		to:      "alice@example.com",
		subject: "Réunion",
		html:    "Ligne 1<br />\nLigne &lt;2&gt;",
		text:    "Ligne 1\nLigne <2>",
	}, mailer.sent[0])

	require.Len(t, store.mailLogs, 1)
	assert.Equal(t, storage.MailSent, store.mailLogs[0].Status)
	assert.Empty(t, store.mailLogs[0].Error)
}

func TestHandle_MailSendFailure(t *testing.T) {
	store := newMemStore()
	mailer := &fakeMailer{configured: true, err: errors.New("535 authentication failed")}
	b := newTestBot(t, store, mailer, nil)

	resp := b.Handle(context.Background(), "mail : alice@example.com + Hi + Hello")

	assert.Equal(t, KindUnavailable, resp.Kind)
	assert.Equal(t, "Échec envoi e-mail à alice@example.com.", resp.Error)
	require.Len(t, store.mailLogs, 1)
	assert.Equal(t, storage.MailFailed, store.mailLogs[0].Status)
	assert.Equal(t, "send_error: 535 authentication failed", store.mailLogs[0].Error)
}

func TestHandle_MailLogFailureIsSwallowed(t *testing.T) {
	store := newMemStore()
	store.mailLogErr = errors.New("readonly database")
	b := newTestBot(t, store, &fakeMailer{configured: true}, nil)

	resp := b.Handle(context.Background(), "mail : alice@example.com + Hi + Hello")

	assert.False(t, resp.IsError())
	assert.Len(t, store.messages, 2)
}

func TestHandle_SearchResults(t *testing.T) {
	store := newMemStore()
	searcher := &fakeSearch{configured: true, items: []search.Item{
		{Title: "Tour Eiffel", Link: "https://fr.wikipedia.org/wiki/Tour_Eiffel", Snippet: "330 m"},
		{FormattedURL: "www.toureiffel.paris", HTMLSnippet: "<b>Site</b> officiel"},
		{},
		{Title: "ignored"},
	}}
	b := newTestBot(t, store, nil, searcher)

	resp := b.Handle(context.Background(), "recherche : tour eiffel hauteur")

	require.False(t, resp.IsError(), resp.Error)
	assert.Equal(t, `Résultats pour "tour eiffel hauteur" :`, resp.Reply)
	assert.Equal(t, []Result{
		{Title: "Tour Eiffel", Link: "https://fr.wikipedia.org/wiki/Tour_Eiffel", Snippet: "330 m"},
		{Title: "Sans titre", Link: "www.toureiffel.paris", Snippet: "Site officiel"},
		{Title: "Sans titre", Link: "#", Snippet: ""},
	}, resp.Results)
	assert.Equal(t, []string{"tour eiffel hauteur"}, searcher.queries)
	assert.Equal(t, []int{SearchResultLimit}, searcher.maxResults)
	requireTurns(t, store, "recherche : tour eiffel hauteur", resp.Reply)
}

func TestHandle_SearchNoResults(t *testing.T) {
	store := newMemStore()
	b := newTestBot(t, store, nil, &fakeSearch{configured: true, items: []search.Item{}})

	resp := b.Handle(context.Background(), "recherche : zzqqxx")

	assert.Equal(t, Response{Reply: "Aucun résultat trouvé."}, resp)
}

func TestHandle_SearchErrors(t *testing.T) {
	tests := []struct {
		name     string
		msg      string
		searcher SearchProvider
		kind     Kind
	}{
		{"empty query", "recherche :   ", &fakeSearch{configured: true}, KindValidation},
		{"no provider", "recherche : golang", nil, KindUnavailable},
		{"unconfigured provider", "recherche : golang", &fakeSearch{}, KindUnavailable},
		{"transport failure", "recherche : golang", &fakeSearch{configured: true, err: errors.New("dial tcp: timeout")}, KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			b := newTestBot(t, store, nil, tt.searcher)

			resp := b.Handle(context.Background(), tt.msg)

			assert.Equal(t, tt.kind, resp.Kind)
			assert.True(t, resp.IsError())
			assert.Nil(t, resp.Results)
			assert.NotContains(t, resp.Error, "dial tcp")
			assert.Len(t, store.messages, 2)
		})
	}
}

func TestHandle_LearnedFactShadowsSearch(t *testing.T) {
	store := newMemStore("recherche golang", "déjà connu")
	searcher := &fakeSearch{configured: true}
	b := newTestBot(t, store, nil, searcher)

	resp := b.Handle(context.Background(), "recherche : golang")

	assert.Equal(t, "déjà connu", resp.Reply)
	assert.Empty(t, searcher.queries)
}

func TestHandle_TwoTurnsPerMessage(t *testing.T) {
	messages := []string{
		"bonjour",
		"mail : bad + a + b",
		"mail : alice@example.com + a + b",
		"apprendre : ciel = bleu",
		"ciel",
		"recherche : golang",
		"au revoir",
		"inconnu",
	}
	store := newMemStore()
	b := newTestBot(t, store, &fakeMailer{configured: true}, &fakeSearch{configured: true})

	for _, msg := range messages {
		b.Handle(context.Background(), msg)
	}

	require.Len(t, store.messages, 2*len(messages))
	for i, msg := range messages {
		user, bot := store.messages[2*i], store.messages[2*i+1]
		assert.Equal(t, storage.RoleUser, user.Role)
		assert.Equal(t, msg, user.Content)
		assert.Equal(t, storage.RoleBot, bot.Role)
		assert.NotEmpty(t, bot.Content)
		assert.Equal(t, fmt.Sprintf("turn-%d", i+1), user.TurnID)
		assert.Equal(t, user.TurnID, bot.TurnID)
	}
}

func TestHandle_MessageLogFailureIsSwallowed(t *testing.T) {
	store := newMemStore("ciel", "bleu")
	store.saveErr = errors.New("database is locked")
	b := newTestBot(t, store, nil, nil)

	resp := b.Handle(context.Background(), "ciel")

	assert.Equal(t, Response{Reply: "bleu"}, resp)
}

func TestHandle_ConcurrentDispatch(t *testing.T) {
	store := newMemStore("ciel", "bleu")
	b, err := New(store, nil, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "bleu", b.Handle(context.Background(), "ciel").Reply)
		}()
	}
	wg.Wait()

	assert.Len(t, store.messages, 40)
}
