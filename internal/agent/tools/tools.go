package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/tool"

	"github.com/procura-agent/server/internal/catalog"
	errx "github.com/procura-agent/server/internal/core/error"
	"github.com/procura-agent/server/internal/llm"
)

const (
	ToolSearchCatalog  = "search_catalog"
	ToolGetItemDetails = "get_item_details"
	ToolAddToCart      = "add_to_cart"
	ToolViewCart       = "view_cart"
	ToolCheckout       = "checkout"
	ToolRegisterItem   = "register_item"
)

// Risk classifies a tool by whether it changes state outside the
// conversation.
type Risk int

const (
	ReadOnly Risk = iota
	Mutating
)

func (r Risk) String() string {
	if r == Mutating {
		return "mutating"
	}
	return "read_only"
}

// Catalog is the product lookup the tools read from.
type Catalog interface {
	Search(query, category string, limit int) []catalog.Product
	Get(id string) (catalog.Product, error)
	Register(in catalog.RegisterInput) (catalog.Product, error)
}

// Carts is the cart and checkout service.
type Carts interface {
	Add(cartID, itemID string, quantity int) (catalog.Cart, error)
	View(cartID string) catalog.Cart
	Checkout(cartID string) (catalog.Order, error)
}

// Tool is one capability offered to the model.
type Tool struct {
	Definition llm.ToolDefinition
	Risk       Risk
	// Keywords are words an assistant uses when proposing this action.
	Keywords []string

	invokable tool.InvokableTool
	describe  func(args map[string]any) string
	// subject names what a call acts on; a proposal must mention one of them.
	subject func(args map[string]any) []string
	// exact lists argument keys whose values a proposal must repeat.
	exact []string
}

func (t *Tool) Name() string { return t.Definition.Name }

// Describe renders sanitized arguments as a short phrase for confirmation
// prompts, e.g. "add 2 x acc-101 to the cart".
func (t *Tool) Describe(argsJSON string) string {
	args, err := decodeArgs(argsJSON)
	if err != nil || t.describe == nil {
		return strings.ReplaceAll(t.Name(), "_", " ")
	}
	return t.describe(args)
}

// Proposed reports whether text surfaced this exact call: a keyword as a
// whole phrase, the call's subject and every exact argument value.
func (t *Tool) Proposed(text, argsJSON string) bool {
	norm := " " + normalizeWords(text) + " "
	if !containsPhrase(norm, t.Keywords...) {
		return false
	}
	clean, err := Sanitize(argsJSON)
	if err != nil {
		return false
	}
	args, err := decodeArgs(clean)
	if err != nil {
		return false
	}
	if t.subject != nil && !containsPhrase(norm, t.subject(args)...) {
		return false
	}
	for _, k := range t.exact {
		v, ok := args[k]
		if !ok || !mentionsValue(text, norm, v) {
			return false
		}
	}
	return true
}

// SameCall reports whether two argument payloads are equal once sanitized.
func (t *Tool) SameCall(a, b string) bool {
	ca, err := Sanitize(a)
	if err != nil {
		return false
	}
	cb, err := Sanitize(b)
	return err == nil && ca == cb
}

func containsPhrase(norm string, phrases ...string) bool {
	for _, p := range phrases {
		if p = normalizeWords(p); p != "" && strings.Contains(norm, " "+p+" ") {
			return true
		}
	}
	return false
}

// mentionsValue compares numbers numerically so "$24.50" matches 24.5.
func mentionsValue(text, norm string, v any) bool {
	n, ok := v.(json.Number)
	if !ok {
		return containsPhrase(norm, fmt.Sprint(v))
	}
	want, err := n.Float64()
	if err != nil {
		return false
	}
	for _, f := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsDigit(r) && r != '.' }) {
		if got, err := strconv.ParseFloat(strings.Trim(f, "."), 64); err == nil && got == want {
			return true
		}
	}
	return false
}

// normalizeWords lowercases text and collapses everything but letters and
// digits to single spaces, so "acc-101" and "ACC 101" compare equal.
func normalizeWords(text string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}

// Execute sanitizes argsJSON and runs the tool. Malformed arguments and
// domain failures come back as *errx.ToolExecutionError.
func (t *Tool) Execute(ctx context.Context, argsJSON string) (string, error) {
	clean, err := Sanitize(argsJSON)
	if err != nil {
		return "", &errx.ToolExecutionError{Tool: t.Name(), Err: err}
	}
	out, err := t.invokable.InvokableRun(ctx, clean)
	if err != nil {
		return "", &errx.ToolExecutionError{Tool: t.Name(), Err: err}
	}
	return out, nil
}

// Registry is the fixed tool set of the procurement agent.
type Registry struct {
	tools map[string]*Tool
	order []string
}

// NewRegistry builds every tool against the given services.
func NewRegistry(cat Catalog, carts Carts) (*Registry, error) {
	builders := []func() (*Tool, error){
		func() (*Tool, error) { return newSearchCatalogTool(cat) },
		func() (*Tool, error) { return newGetItemDetailsTool(cat) },
		func() (*Tool, error) { return newAddToCartTool(carts, cat) },
		func() (*Tool, error) { return newViewCartTool(carts) },
		func() (*Tool, error) { return newCheckoutTool(carts) },
		func() (*Tool, error) { return newRegisterItemTool(cat) },
	}
	r := &Registry{tools: make(map[string]*Tool, len(builders))}
	for _, b := range builders {
		t, err := b()
		if err != nil {
			return nil, err
		}
		r.tools[t.Name()] = t
		r.order = append(r.order, t.Name())
	}
	return r, nil
}

// Lookup returns the tool called name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Tools returns the tools in registration order.
func (r *Registry) Tools() []*Tool {
	out := make([]*Tool, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.tools[n])
	}
	return out
}

// Definitions returns the schemas sent to the model.
func (r *Registry) Definitions() []llm.ToolDefinition {
	out := make([]llm.ToolDefinition, 0, len(r.order))
	for _, t := range r.Tools() {
		out = append(out, t.Definition)
	}
	return out
}

type sessionKey struct{}

// WithSession binds the buyer session (the conversation id) that cart tools
// act on.
func WithSession(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session bound by WithSession.
func SessionID(ctx context.Context) (string, error) {
	id, _ := ctx.Value(sessionKey{}).(string)
	if id == "" {
		return "", errors.New("no buyer session bound to the call")
	}
	return id, nil
}

// errorResult is the JSON tool result the model sees for a failed call.
func errorResult(code, message string) string {
	b, _ := marshalJSON(map[string]string{"error": code, "message": message})
	return string(b)
}

// ErrorResult renders err as a tool result for the model.
func ErrorResult(err error) string {
	var toolErr *errx.ToolExecutionError
	code := "tool_error"
	if errors.As(err, &toolErr) {
		err = toolErr.Err
	}
	switch {
	case errors.Is(err, ErrInvalidArguments):
		code = "invalid_arguments"
	case errors.Is(err, catalog.ErrItemNotFound):
		code = "item_not_found"
	case errors.Is(err, catalog.ErrCartEmpty):
		code = "cart_empty"
	case errors.Is(err, catalog.ErrInvalidQuantity):
		code = "invalid_quantity"
	case errors.Is(err, catalog.ErrOutOfStock):
		code = "out_of_stock"
	}
	return errorResult(code, err.Error())
}

// UnknownToolResult is returned to the model for a tool it made up.
func UnknownToolResult(name string) string {
	return errorResult("unknown_tool", fmt.Sprintf("no tool named %q; use one of the listed tools", name))
}
