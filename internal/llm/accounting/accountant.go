// Package accounting counts tokens and converts usage to cost.
package accounting

import (
	"math"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/pkoukk/tiktoken-go"
	tkloader "github.com/pkoukk/tiktoken-go-loader"

	errx "github.com/procura-agent/server/internal/core/error"
	logx "github.com/procura-agent/server/pkg/logger"
)

// DefaultEncoding is used for models tiktoken does not know, including Gemini.
const DefaultEncoding = "cl100k_base"

// Framing is the per-message token overhead a provider family adds around
// chat messages.
type Framing struct {
	PerMessage int
	PerName    int
	Reply      int
}

// DefaultFraming applies to families without an explicit entry.
var DefaultFraming = Framing{PerMessage: 3, PerName: 1, Reply: 3}

// Config parameterises an Accountant.
type Config struct {
	DefaultEncoding string
	Framing         map[string]Framing
	Pricing         map[string]Pricing
}

// DegradedFunc observes approximate counts or unknown prices.
type DegradedFunc func(model, reason string)

type Option func(*Accountant)

// WithDegradedHook registers fn to be called whenever a figure is approximate.
func WithDegradedHook(fn DegradedFunc) Option {
	return func(a *Accountant) { a.onDegraded = fn }
}

var loaderOnce sync.Once

// Accountant counts tokens with tiktoken and prices usage from a static
// table. It is safe for concurrent use.
type Accountant struct {
	cfg        Config
	encoders   sync.Map // model -> *tiktoken.Tiktoken (nil when unavailable)
	warned     sync.Map // model -> struct{}
	onDegraded DegradedFunc
}

// New returns an Accountant. Zero-valued config fields take the defaults.
func New(cfg Config, opts ...Option) *Accountant {
	loaderOnce.Do(func() { tiktoken.SetBpeLoader(tkloader.NewOfflineLoader()) })
	if cfg.DefaultEncoding == "" {
		cfg.DefaultEncoding = DefaultEncoding
	}
	if cfg.Pricing == nil {
		cfg.Pricing = DefaultPricing
	}
	if cfg.Framing == nil {
		cfg.Framing = map[string]Framing{}
	}
	a := &Accountant{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	return a
}

// CountTokens returns the number of tokens text encodes to for model. It
// never fails: when no encoder can be loaded it falls back to ceil(runes/4).
func (a *Accountant) CountTokens(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := a.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// CountMessageTokens counts the content of messages plus the framing the
// model's family adds per message and once per reply.
func (a *Accountant) CountMessageTokens(messages []*schema.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}
	total := a.framing(model).Reply
	for _, m := range messages {
		total += a.MessageTokens(m, model)
	}
	return total
}

// MessageTokens is the cost of m inside a chat request, without the reply
// overhead. Summing it over a window lets callers trim without recounting.
func (a *Accountant) MessageTokens(m *schema.Message, model string) int {
	if m == nil {
		return 0
	}
	f := a.framing(model)
	n := f.PerMessage
	n += a.CountTokens(string(m.Role), model)
	n += a.CountTokens(m.Content, model)
	if m.Name != "" {
		n += f.PerName + a.CountTokens(m.Name, model)
	}
	for _, tc := range m.ToolCalls {
		n += a.CountTokens(tc.Function.Name, model)
		n += a.CountTokens(tc.Function.Arguments, model)
	}
	return n
}

// EstimateCost returns the USD cost of a call. Unknown models cost zero and
// are reported as degraded.
func (a *Accountant) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return a.Cost(model, inputTokens, outputTokens).Total
}

// Cost is EstimateCost with the input and output split out.
func (a *Accountant) Cost(model string, inputTokens, outputTokens int) CostBreakdown {
	p, ok := resolvePricing(a.cfg.Pricing, model)
	if !ok {
		a.degraded(model, "unknown_price")
		return CostBreakdown{}
	}
	return computeCost(p, inputTokens, outputTokens)
}

// ReportEstimated marks usage for model as counted locally because the
// provider reported none.
func (a *Accountant) ReportEstimated(model string) {
	a.degraded(model, "usage_estimated")
}

// Family returns the provider family used to pick framing overhead.
func Family(model string) string {
	if strings.HasPrefix(normalizeModel(model), "gemini") {
		return "gemini"
	}
	return "openai"
}

func (a *Accountant) framing(model string) Framing {
	if f, ok := a.cfg.Framing[Family(model)]; ok {
		return f
	}
	return DefaultFraming
}

func (a *Accountant) encoder(model string) *tiktoken.Tiktoken {
	key := normalizeModel(model)
	if v, ok := a.encoders.Load(key); ok {
		enc, _ := v.(*tiktoken.Tiktoken)
		return enc
	}
	enc, err := tiktoken.EncodingForModel(key)
	if err != nil {
		enc, err = tiktoken.GetEncoding(a.cfg.DefaultEncoding)
	}
	if err != nil {
		enc = nil
		a.degraded(model, "encoder_unavailable")
	}
	v, _ := a.encoders.LoadOrStore(key, enc)
	got, _ := v.(*tiktoken.Tiktoken)
	return got
}

func (a *Accountant) degraded(model, reason string) {
	if a.onDegraded != nil {
		a.onDegraded(model, reason)
	}
	if _, loaded := a.warned.LoadOrStore(model+"|"+reason, struct{}{}); loaded {
		return
	}
	logx.Warn().Err(errx.ErrAccountingDegraded).Str("model", model).Str("reason", reason).Msg("token accounting approximate")
}

func heuristicCount(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4.0))
}
