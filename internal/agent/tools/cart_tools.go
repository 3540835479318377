package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/catalog"
	"github.com/procura-agent/server/internal/llm"
)

type AddToCartInput struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

type EmptyInput struct{}

func newAddToCartTool(carts Carts, cat Catalog) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolAddToCart,
		Description: "Add an item to the buyer's cart. Changes the order, so propose it and wait for the buyer to confirm before calling.",
		Params: map[string]*schema.ParameterInfo{
			"item_id":  {Type: schema.String, Desc: "Exact item id from search_catalog results.", Required: true},
			"quantity": {Type: schema.Integer, Desc: "Number of units, at least 1.", Required: true},
		},
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, in *AddToCartInput) (*catalog.Cart, error) {
		cartID, err := SessionID(ctx)
		if err != nil {
			return nil, err
		}
		if in.ItemID == "" {
			return nil, fmt.Errorf("%w: item_id is required", ErrInvalidArguments)
		}
		cart, err := carts.Add(cartID, in.ItemID, in.Quantity)
		if err != nil {
			return nil, err
		}
		return &cart, nil
	})
	return &Tool{
		Definition: def,
		Risk:       Mutating,
		Keywords:   []string{"add", "put"},
		invokable:  inv,
		describe: func(args map[string]any) string {
			return fmt.Sprintf("add %v x %v to the cart", args["quantity"], args["item_id"])
		},
		subject: func(args map[string]any) []string {
			id, _ := args["item_id"].(string)
			names := []string{id}
			if p, err := cat.Get(id); err == nil {
				names = append(names, p.Name)
			}
			return names
		},
		exact: []string{"quantity"},
	}, nil
}

func newViewCartTool(carts Carts) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolViewCart,
		Description: "Show the items, quantities and total currently in the buyer's cart.",
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, _ *EmptyInput) (*catalog.Cart, error) {
		cartID, err := SessionID(ctx)
		if err != nil {
			return nil, err
		}
		cart := carts.View(cartID)
		return &cart, nil
	})
	return &Tool{
		Definition: def,
		Risk:       ReadOnly,
		invokable:  inv,
		describe:   func(map[string]any) string { return "show the cart" },
	}, nil
}

func newCheckoutTool(carts Carts) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolCheckout,
		Description: "Place the order for everything in the buyer's cart. Irreversible: summarise the cart and total, and call only after the buyer confirms.",
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, _ *EmptyInput) (*catalog.Order, error) {
		cartID, err := SessionID(ctx)
		if err != nil {
			return nil, err
		}
		order, err := carts.Checkout(cartID)
		if err != nil {
			return nil, err
		}
		return &order, nil
	})
	return &Tool{
		Definition: def,
		Risk:       Mutating,
		Keywords:   []string{"checkout", "check out", "place the order", "place your order", "place an order", "submit the order", "confirm the order"},
		invokable:  inv,
		describe:   func(map[string]any) string { return "place the order for the cart" },
	}, nil
}
