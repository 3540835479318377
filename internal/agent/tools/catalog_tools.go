package tools

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/procura-agent/server/internal/catalog"
	"github.com/procura-agent/server/internal/llm"
)

// ===================================
// Search Catalog Tool
// ===================================

type SearchCatalogInput struct {
	Query      string `json:"query"`
	Category   string `json:"category,omitempty"`
	MaxResults int    `json:"max_results,omitempty"`
}

type SearchCatalogOutput struct {
	Items []catalog.Product `json:"items"`
	Total int               `json:"total"`
}

func newSearchCatalogTool(cat Catalog) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolSearchCatalog,
		Description: "Search the product catalog by keywords. Returns item ids, names, prices and availability. Use it whenever the buyer mentions a product.",
		Params: map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "Search keywords: product type, brand or model, e.g. \"USB-C cable\", \"laptop\".",
				Required: true,
			},
			"category": {
				Type: schema.String,
				Desc: "Optional category filter: smartphones, laptops, audio, accessories, office.",
			},
			"max_results": {
				Type: schema.Integer,
				Desc: "Maximum number of items to return (default 10, max 20).",
			},
		},
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, in *SearchCatalogInput) (*SearchCatalogOutput, error) {
		if in.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrInvalidArguments)
		}
		if in.MaxResults == 0 {
			in.MaxResults = defaultMaxResults
		}
		items := cat.Search(in.Query, in.Category, in.MaxResults)
		if items == nil {
			items = []catalog.Product{}
		}
		return &SearchCatalogOutput{Items: items, Total: len(items)}, nil
	})
	return &Tool{
		Definition: def,
		Risk:       ReadOnly,
		invokable:  inv,
		describe: func(args map[string]any) string {
			return fmt.Sprintf("search the catalog for %q", args["query"])
		},
	}, nil
}

// ===================================
// Item Details Tool
// ===================================

type GetItemDetailsInput struct {
	ItemID string `json:"item_id"`
}

func newGetItemDetailsTool(cat Catalog) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolGetItemDetails,
		Description: "Get full specifications, price and availability of one catalog item. Use it when the buyer asks for details or comparisons.",
		Params: map[string]*schema.ParameterInfo{
			"item_id": {
				Type:     schema.String,
				Desc:     "Exact item id from search_catalog results, e.g. acc-101.",
				Required: true,
			},
		},
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, in *GetItemDetailsInput) (*catalog.Product, error) {
		if in.ItemID == "" {
			return nil, fmt.Errorf("%w: item_id is required", ErrInvalidArguments)
		}
		p, err := cat.Get(in.ItemID)
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
	return &Tool{
		Definition: def,
		Risk:       ReadOnly,
		invokable:  inv,
		describe: func(args map[string]any) string {
			return fmt.Sprintf("look up item %v", args["item_id"])
		},
	}, nil
}

// ===================================
// Register Item Tool
// ===================================

type RegisterItemInput struct {
	Name           string            `json:"name"`
	Category       string            `json:"category"`
	Price          float64           `json:"price"`
	Description    string            `json:"description,omitempty"`
	InStock        *bool             `json:"in_stock,omitempty"`
	Specifications map[string]string `json:"specifications,omitempty"`
}

func newRegisterItemTool(cat Catalog) (*Tool, error) {
	def := llm.ToolDefinition{
		Name:        ToolRegisterItem,
		Description: "Register a new item in the catalog. Changes the catalog, so propose it to the buyer and wait for a yes before calling.",
		Params: map[string]*schema.ParameterInfo{
			"name":        {Type: schema.String, Desc: "Item name.", Required: true},
			"category":    {Type: schema.String, Desc: "Catalog category.", Required: true},
			"price":       {Type: schema.Number, Desc: "Unit price.", Required: true},
			"description": {Type: schema.String, Desc: "Short description."},
			"in_stock":    {Type: schema.Boolean, Desc: "Whether the item can be ordered now (default true)."},
		},
	}
	inv := utils.NewTool(def.ToolInfo(), func(ctx context.Context, in *RegisterItemInput) (*catalog.Product, error) {
		inStock := true
		if in.InStock != nil {
			inStock = *in.InStock
		}
		p, err := cat.Register(catalog.RegisterInput{
			Name:           in.Name,
			Category:       in.Category,
			Price:          in.Price,
			Description:    in.Description,
			InStock:        inStock,
			Specifications: in.Specifications,
		})
		if err != nil {
			return nil, err
		}
		return &p, nil
	})
	return &Tool{
		Definition: def,
		Risk:       Mutating,
		Keywords:   []string{"register", "add it to the catalog", "add to the catalog", "new item", "list it"},
		invokable:  inv,
		describe: func(args map[string]any) string {
			return fmt.Sprintf("register %q in the catalog at %v", args["name"], args["price"])
		},
		subject: func(args map[string]any) []string {
			name, _ := args["name"].(string)
			return []string{name}
		},
		exact: []string{"price"},
	}, nil
}
