package bot

import (
	"context"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/kalambet/parlebot/internal/normalize"
)

// matcher recognises a small-talk intent by keyword. A stored fact under one
// of the override phrases replaces the built-in replies.
type matcher struct {
	name      string
	pattern   *regexp.Regexp
	overrides []string
	replies   []string
}

func (m matcher) matches(lower string) bool {
	return m.pattern.MatchString(lower)
}

// keywordPattern matches any keyword delimited by a non word rune or the
// ends of the text.
func keywordPattern(keywords ...string) *regexp.Regexp {
	quoted := make([]string, len(keywords))
	for i, k := range keywords {
		quoted[i] = regexp.QuoteMeta(k)
	}
	return regexp.MustCompile(`(?:^|[^\p{L}\p{N}_])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}\p{N}_]|$)`)
}

func defaultMatchers() []matcher {
	return []matcher{
		{
			name:      "greeting",
			pattern:   keywordPattern("bonjour", "salut", "coucou", "yo", "bonsoir", "hello", "hi"),
			overrides: []string{"bonjour"},
			replies:   []string{"Bonjour !", "Salut !", "Bonjour 🙂 Comment ça va ?"},
		},
		{
			name: "how_are_you",
			pattern: keywordPattern("ca va", "ça va", "comment ça va", "comment ca va", "comment vas-tu",
				"tu vas bien", "comment allez-vous", "vous allez bien"),
			overrides: []string{"comment ça va", "ça va", "ca va", "comment vas-tu", "tu vas bien", "comment allez-vous"},
			replies:   []string{"Ça va très bien, merci ! Et toi ?", "Je vais bien, merci 🙂 Et toi ?", "Tout roule ici, merci ! Et toi ?"},
		},
		{
			name: "farewell",
			pattern: keywordPattern("au revoir", "aurevoir", "à bientôt", "a bientôt", "à plus", "a plus",
				"a plus tard", "bonne nuit", "bye", "ciao"),
			overrides: []string{"au revoir", "à bientôt", "a bientôt", "à plus", "a plus", "a plus tard", "bonne nuit", "bye", "ciao"},
			replies:   []string{"Au revoir ! À bientôt.", "À bientôt 👋", "Bonne journée !", "Bonne soirée et à bientôt !"},
		},
	}
}

// lowerText lowercases raw for keyword matching. Casers are not safe for
// concurrent use, so one is built per call.
func lowerText(raw string) string {
	return cases.Lower(language.French).String(norm.NFC.String(raw))
}

// overrideOrFallback returns the first stored answer among the matcher's
// override phrases, in order, or a random built-in reply.
func (b *Bot) overrideOrFallback(ctx context.Context, m matcher) string {
	for _, phrase := range m.overrides {
		if answer, ok := b.lookup(ctx, normalize.String(phrase)); ok {
			return answer
		}
	}
	return m.replies[b.rand.IntN(len(m.replies))]
}
