// MCP transport for the storefront using the official MCP Go SDK.
// Exposes catalog browsing and cart editing as tools for agents.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/cart"
	"storefront/internal/model"
)

// === MCP Tool Input Types ===
// Cart tools name the client session explicitly: MCP sessions are not
// storefront sessions. Changes to a signed-in session's cart are synced
// as that user.

// ListProductsInput filters the catalog.
type ListProductsInput struct {
	Search   string `json:"search,omitempty" jsonschema:"case-insensitive match on the product name"`
	Category string `json:"category,omitempty" jsonschema:"exact category; all disables the filter"`
	Sort     string `json:"sort,omitempty" jsonschema:"price-low or price-high; load order otherwise"`
}

// GetProductInput names one product.
type GetProductInput struct {
	ID string `json:"id" jsonschema:"product id"`
}

// GetCartInput names the client session.
type GetCartInput struct {
	Session string `json:"session" jsonschema:"storefront client session id"`
}

// AddToCartInput adds a variant to a session's cart.
type AddToCartInput struct {
	Session   string `json:"session" jsonschema:"storefront client session id"`
	ProductID string `json:"product_id" jsonschema:"product id"`
	VariantID string `json:"variant_id,omitempty" jsonschema:"variant id; the first variant when empty"`
	Quantity  int    `json:"quantity,omitempty" jsonschema:"quantity to add, at least 1"`
}

// UpdateCartItemInput changes the quantity of one cart line.
type UpdateCartItemInput struct {
	Session string `json:"session" jsonschema:"storefront client session id"`
	Index   int    `json:"index" jsonschema:"zero-based line index from get_cart"`
	Delta   int    `json:"delta" jsonschema:"quantity change; the line is removed at zero"`
}

// === MCP Tool Output Types ===
// Amounts are decimal strings.

// MCPProducts is the list_products result.
type MCPProducts struct {
	Products []MCPProduct `json:"products"`
}

// MCPProduct is a catalog product.
type MCPProduct struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	Description string       `json:"description,omitempty"`
	Rating      string       `json:"rating"`
	Variants    []MCPVariant `json:"variants"`
}

// MCPVariant is a purchasable option of a product.
type MCPVariant struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Price string `json:"price"`
	Stock *int   `json:"stock,omitempty"`
}

// MCPCart is a session's cart.
type MCPCart struct {
	Items    []MCPCartItem `json:"items"`
	TotalQty int           `json:"total_qty"`
	Subtotal string        `json:"subtotal"`
	Tax      string        `json:"tax"`
	Shipping string        `json:"shipping"`
	Total    string        `json:"total"`
}

// MCPCartItem is one cart line.
type MCPCartItem struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Variant   string `json:"variant"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

// NewMCPServer creates an MCP server with the storefront tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront catalog and cart. Browse products, then add variants " +
				"to the cart of a storefront client session.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_products",
		Description: "List active products, optionally filtered and sorted.",
	}, h.mcpListProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_product",
		Description: "Get one product with its variants.",
	}, h.mcpGetProduct)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart of a client session with its totals.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product variant to a session's cart. Adding an existing variant increases its quantity.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_cart_item",
		Description: "Change the quantity of a cart line by delta.",
	}, h.mcpUpdateCartItem)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpListProducts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ListProductsInput,
) (*mcp.CallToolResult, MCPProducts, error) {
	if _, err := h.catalog.LoadProducts(ctx); err != nil {
		return nil, MCPProducts{}, h.mcpError(err)
	}
	products := h.catalog.FilterProducts(input.Search, input.Category, input.Sort)
	out := MCPProducts{Products: make([]MCPProduct, 0, len(products))}
	for _, p := range products {
		out.Products = append(out.Products, mcpProduct(p))
	}
	return nil, out, nil
}

func (h *Handler) mcpGetProduct(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetProductInput,
) (*mcp.CallToolResult, MCPProduct, error) {
	if input.ID == "" {
		return nil, MCPProduct{}, fmt.Errorf("id is required")
	}
	if _, err := h.catalog.LoadProducts(ctx); err != nil {
		return nil, MCPProduct{}, h.mcpError(err)
	}
	p, ok := h.catalog.GetProductByID(model.ID(input.ID))
	if !ok {
		return nil, MCPProduct{}, h.mcpError(model.NewNotFoundError("product"))
	}
	return nil, mcpProduct(p), nil
}

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, MCPCart, error) {
	if input.Session == "" {
		return nil, MCPCart{}, fmt.Errorf("session is required")
	}
	return nil, mcpCart(h.carts.Get(input.Session)), nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, MCPCart, error) {
	if input.Session == "" {
		return nil, MCPCart{}, fmt.Errorf("session is required")
	}
	product, variant, err := h.resolveVariant(ctx, model.ID(input.ProductID), input.VariantID, 0)
	if err != nil {
		return nil, MCPCart{}, h.mcpError(err)
	}
	s := h.carts.Get(input.Session)
	if _, err := s.AddItem(ctx, product, variant, input.Quantity); err != nil {
		return nil, MCPCart{}, h.mcpError(err)
	}
	return nil, mcpCart(s), nil
}

func (h *Handler) mcpUpdateCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateCartItemInput,
) (*mcp.CallToolResult, MCPCart, error) {
	if input.Session == "" {
		return nil, MCPCart{}, fmt.Errorf("session is required")
	}
	s, ok := h.carts.Lookup(input.Session)
	if !ok {
		return nil, MCPCart{}, h.mcpError(model.NewNotFoundError("cart"))
	}
	if _, ok := s.Item(input.Index); !ok {
		return nil, MCPCart{}, h.mcpError(model.NewValidationError("index", "no such cart line"))
	}
	s.UpdateQuantity(ctx, input.Index, input.Delta)
	return nil, mcpCart(s), nil
}

func mcpProduct(p model.Product) MCPProduct {
	out := MCPProduct{
		ID:          p.ID.String(),
		Name:        p.Name,
		Category:    p.Category,
		Description: p.Description,
		Rating:      p.Rating.String(),
		Variants:    make([]MCPVariant, 0, len(p.Variants)),
	}
	for _, v := range p.Variants {
		out.Variants = append(out.Variants, MCPVariant{
			ID:    v.ID,
			Label: v.Label,
			Price: model.FormatAmount(v.Price),
			Stock: v.Stock,
		})
	}
	return out
}

func mcpCart(s *cart.Session) MCPCart {
	items := s.Items()
	t := s.Totals()
	out := MCPCart{
		Items:    make([]MCPCartItem, 0, len(items)),
		TotalQty: t.TotalQty,
		Subtotal: model.FormatAmount(t.Subtotal),
		Tax:      model.FormatAmount(t.Tax),
		Shipping: model.FormatAmount(t.Shipping),
		Total:    model.FormatAmount(t.Total),
	}
	for i, e := range items {
		out.Items = append(out.Items, MCPCartItem{
			Index:     i,
			ProductID: e.ProductID.String(),
			Name:      e.Name,
			Variant:   e.Variant.Label,
			Price:     model.FormatAmount(e.Variant.Price),
			Quantity:  e.Quantity,
		})
	}
	return out
}

// mcpError converts storefront errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
