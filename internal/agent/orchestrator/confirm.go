package orchestrator

import (
	"strings"
	"unicode"

	"github.com/procura-agent/server/internal/agent/model"
	"github.com/procura-agent/server/internal/agent/tools"
)

// Reply is how a user message reads as an answer to a proposal.
type Reply int

const (
	ReplyOther Reply = iota
	ReplyAffirmative
	ReplyNegative
)

var affirmativePhrases = []string{
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed",
	"go ahead", "do it", "please do", "sounds good", "proceed", "correct",
	"absolutely", "of course", "that's right", "place it", "add them", "add it",
}

var negativePhrases = []string{
	"no", "nope", "nah", "don't", "dont", "do not", "cancel", "stop", "wait",
	"not now", "never mind", "nevermind", "hold on", "hold off",
}

// ClassifyReply reads text as an affirmative or negative answer. Negative
// wording wins over affirmative wording ("ok, but no").
func ClassifyReply(text string) Reply {
	norm := " " + normalize(text) + " "
	if norm == "  " {
		return ReplyOther
	}
	for _, p := range negativePhrases {
		if strings.Contains(norm, " "+p+" ") {
			return ReplyNegative
		}
	}
	for _, p := range affirmativePhrases {
		if strings.Contains(norm, " "+p+" ") {
			return ReplyAffirmative
		}
	}
	return ReplyOther
}

func normalize(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// gate decides which mutating calls may run during one user turn. A call is
// cleared when the user answered yes and either the stored pending action is
// the same tool with the same sanitized arguments, or the previous assistant
// message proposed this exact call. Each clearance is used at most once.
type gate struct {
	reply    Reply
	previous string
	pending  *model.PendingAction
	used     map[string]bool
}

func newGate(userText string, state *model.ConversationState) *gate {
	return &gate{
		reply:    ClassifyReply(userText),
		previous: state.LastAssistantText(),
		pending:  state.Pending,
		used:     make(map[string]bool),
	}
}

// allow reports whether a call to t with argsJSON may execute now and, if
// so, consumes the clearance. A pending action for the same tool binds its
// arguments: any other arguments need a fresh confirmation.
func (g *gate) allow(t *tools.Tool, argsJSON string) bool {
	if t.Risk != tools.Mutating {
		return true
	}
	if g.reply != ReplyAffirmative || g.used[t.Name()] {
		return false
	}
	var proposed bool
	if g.pending != nil && g.pending.Tool == t.Name() {
		proposed = t.SameCall(g.pending.Arguments, argsJSON)
	} else {
		proposed = t.Proposed(g.previous, argsJSON)
	}
	if !proposed {
		return false
	}
	g.used[t.Name()] = true
	return true
}

// declined reports whether the user turned down a stored pending action.
func (g *gate) declined() bool {
	return g.pending != nil && g.reply == ReplyNegative
}
