// shopctl is a CLI tool for exercising storefront cart and checkout flows.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	shopctl session
//	shopctl products -server URL [-search TEXT] [-category NAME] [-sort MODE]
//	shopctl add -server URL -session ID -product ID [-variant ID] [-qty N]
//	shopctl cart -server URL -session ID
//	shopctl signin -server URL -session ID -email EMAIL -password PASSWORD
//	shopctl checkout -server URL -session ID -token TOKEN [-promo CODE] [-pay confirm|manual|gateway]
//
// Examples:
//
//	SID=$(shopctl session)
//	shopctl add -server http://localhost:8080 -session $SID -product 1 -qty 2
//	TOKEN=$(shopctl signin -server http://localhost:8080 -session $SID -email a@b.in -password pw -q)
//	shopctl checkout -server http://localhost:8080 -session $SID -token $TOKEN -promo SAVE10
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"

	"storefront/internal/middleware"
)

// clientVersion is sent in the Storefront-Client header.
const clientVersion = "1.0.0"

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	serverURL string
	sessionID string
	token     string
	quiet     bool
	noColor   bool
	verbose   bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "session":
		fmt.Println(uuid.NewString())
	case "products":
		runProducts(args)
	case "add":
		runAdd(args)
	case "cart":
		runCart(args)
	case "signin":
		runSignIn(args)
	case "checkout":
		runCheckout(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `shopctl - storefront cart and checkout test tool

Usage:
  shopctl <command> [options]

Commands:
  session   Print a new client session id
  products  List the catalog
  add       Add a product variant to the cart
  cart      Show the cart and its totals
  signin    Sign in and attach the session's cart
  checkout  Walk checkout from shipping to a placed order

Examples:
  # Start a session and fill the cart
  SID=$(shopctl session)
  shopctl add -server http://localhost:8080 -session "$SID" -product 1 -qty 2

  # Sign in, then check out paying on confirmation
  TOKEN=$(shopctl signin -server http://localhost:8080 -session "$SID" -email asha@example.in -password secret -q)
  shopctl checkout -server http://localhost:8080 -session "$SID" -token "$TOKEN"

Run 'shopctl <command> -h' for command-specific options.
`)
}

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet, needSession bool) {
	fs.StringVar(&serverURL, "server", "http://localhost:8080", "Storefront base URL")
	if needSession {
		fs.StringVar(&sessionID, "session", os.Getenv("SHOPCTL_SESSION"), "Client session id (required)")
	}
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
}

func parse(fs *flag.FlagSet, args []string, needSession bool) {
	fs.Parse(args)
	if noColor {
		disableColors()
	}
	if needSession && sessionID == "" {
		fmt.Fprintf(os.Stderr, "Error: -session is required (see 'shopctl session')\n\n")
		fs.Usage()
		os.Exit(1)
	}
}

// =============================================================================
// PRODUCTS COMMAND
// =============================================================================

func runProducts(args []string) {
	fs := flag.NewFlagSet("products", flag.ExitOnError)
	commonFlags(fs, false)
	var search, category, sortMode string
	fs.StringVar(&search, "search", "", "Match product names")
	fs.StringVar(&category, "category", "", "Filter by category")
	fs.StringVar(&sortMode, "sort", "", "price-low or price-high")
	parse(fs, args, false)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	q := url.Values{}
	for k, v := range map[string]string{"search": search, "category": category, "sort": sortMode} {
		if v != "" {
			q.Set(k, v)
		}
	}
	path := "/products"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	resp, err := doRequest("GET", path, nil)
	if err != nil {
		fatal("Failed to list products: %v", err)
	}

	products, _ := resp["products"].([]interface{})
	for _, p := range products {
		pm, ok := p.(map[string]interface{})
		if !ok {
			continue
		}
		if quiet {
			fmt.Println(pm["id"])
			continue
		}
		fmt.Printf("  %s%v%s  %s%v%s (%v)\n", colorCyan, pm["id"], colorReset, colorBold, pm["name"], colorReset, pm["category"])
		variants, _ := pm["variants"].([]interface{})
		for _, v := range variants {
			if vm, ok := v.(map[string]interface{}); ok {
				fmt.Printf("      %v  %v  %s\n", vm["id"], vm["label"], formatAmount(vm["price"]))
			}
		}
	}
}

// =============================================================================
// CART COMMANDS
// =============================================================================

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	commonFlags(fs, true)
	var productID, variantID string
	var quantity int
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.StringVar(&variantID, "variant", "", "Variant ID (first variant if empty)")
	fs.IntVar(&quantity, "qty", 1, "Quantity")
	fs.StringVar(&token, "token", "", "Access token of a signed-in user")
	parse(fs, args, true)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/cart/items", map[string]interface{}{
		"product_id": productID,
		"variant_id": variantID,
		"quantity":   quantity,
	})
	if err != nil {
		fatal("Failed to add to cart: %v", err)
	}
	printSuccess("Added to cart")
	if c, ok := resp["cart"].(map[string]interface{}); ok {
		printCart(c)
	}
}

func runCart(args []string) {
	fs := flag.NewFlagSet("cart", flag.ExitOnError)
	commonFlags(fs, true)
	fs.StringVar(&token, "token", "", "Access token of a signed-in user")
	parse(fs, args, true)

	resp, err := doRequest("GET", "/cart", nil)
	if err != nil {
		fatal("Failed to get cart: %v", err)
	}
	printCart(resp)
}

func printCart(c map[string]interface{}) {
	totals, _ := c["totals"].(map[string]interface{})
	if quiet {
		fmt.Println(formatAmount(totals["total"]))
		return
	}
	items, _ := c["items"].([]interface{})
	for i, it := range items {
		im, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		variant, _ := im["variant"].(map[string]interface{})
		fmt.Printf("  [%d] %v x %v (%v) %s\n", i, im["quantity"], im["name"], variant["label"], formatAmount(variant["price"]))
	}
	if synced, _ := c["synced"].(bool); synced {
		printInfo("Synced to the signed-in account")
	}
	fmt.Printf("  Subtotal: %s  Tax: %s  Shipping: %s\n",
		formatAmount(totals["subtotal"]), formatAmount(totals["tax"]), formatAmount(totals["shipping"]))
	fmt.Printf("  Total: %s%s%s\n", colorGreen, formatAmount(totals["total"]), colorReset)
}

// =============================================================================
// SIGNIN COMMAND
// =============================================================================

func runSignIn(args []string) {
	fs := flag.NewFlagSet("signin", flag.ExitOnError)
	commonFlags(fs, true)
	var email, password string
	fs.StringVar(&email, "email", "", "Account email (required)")
	fs.StringVar(&password, "password", os.Getenv("SHOPCTL_PASSWORD"), "Account password (required)")
	parse(fs, args, true)

	if email == "" || password == "" {
		fs.Usage()
		os.Exit(1)
	}

	resp, err := doRequest("POST", "/auth/signin", map[string]string{"email": email, "password": password})
	if err != nil {
		fatal("Failed to sign in: %v", err)
	}
	accessToken, _ := resp["access_token"].(string)
	if quiet {
		fmt.Println(accessToken)
		return
	}
	printSuccess("Signed in")
	fmt.Printf("  Token: %s%s%s\n", colorCyan, accessToken, colorReset)
}

// =============================================================================
// CHECKOUT COMMAND
// =============================================================================

func runCheckout(args []string) {
	fs := flag.NewFlagSet("checkout", flag.ExitOnError)
	commonFlags(fs, true)
	var addressID, promo, pay, returnURL string
	fs.StringVar(&token, "token", "", "Access token of a signed-in user (required)")
	fs.StringVar(&addressID, "address", "", "Saved address ID (a test address is used if empty)")
	fs.StringVar(&promo, "promo", "", "Promo code to apply")
	fs.StringVar(&pay, "pay", "confirm", "Payment path: confirm, manual or gateway")
	fs.StringVar(&returnURL, "return-url", "", "Gateway return URL")
	parse(fs, args, true)

	if token == "" {
		fmt.Fprintf(os.Stderr, "Error: -token is required (see 'shopctl signin')\n\n")
		fs.Usage()
		os.Exit(1)
	}

	step("begin", "POST", "/checkout/begin", nil)

	shipping := map[string]interface{}{}
	if addressID != "" {
		shipping["address_id"] = addressID
	} else {
		shipping["address"] = map[string]string{
			"name":    "Test Buyer",
			"phone":   "9876543210",
			"email":   "test@example.in",
			"address": "12 MG Road",
			"city":    "Bengaluru",
			"state":   "KA",
			"pincode": "560001",
		}
	}
	step("shipping", "POST", "/checkout/shipping", shipping)

	if promo != "" {
		step("promo", "POST", "/checkout/promo", map[string]string{"code": promo})
	}
	step("terms", "POST", "/checkout/terms", map[string]bool{"accepted": true})

	var view map[string]interface{}
	switch pay {
	case "confirm":
		view = step("confirm", "POST", "/checkout/confirm", nil)
	case "manual":
		step("proceed", "POST", "/checkout/proceed", nil)
		view = step("manual", "POST", "/checkout/payment/manual", nil)
		if uri, _ := view["payment_uri"].(string); uri != "" && !quiet {
			fmt.Printf("  Pay with: %s%s%s\n", colorCyan, uri, colorReset)
		}
	case "gateway":
		step("proceed", "POST", "/checkout/proceed", nil)
		view = step("gateway", "POST", "/checkout/payment/gateway", map[string]string{"return_url": returnURL})
		if redirect, _ := view["redirect_url"].(string); redirect != "" && !quiet {
			fmt.Printf("  Redirect: %s%s%s\n", colorCyan, redirect, colorReset)
		}
	default:
		fatal("Unknown payment path: %s", pay)
	}

	orderID, _ := view["order_id"].(string)
	if quiet {
		fmt.Println(orderID)
		return
	}
	state, _ := view["state"].(string)
	printSuccess("Checkout %s", state)
	fmt.Printf("  Order: %s%s%s\n", colorCyan, orderID, colorReset)
	if q, ok := view["quote"].(map[string]interface{}); ok {
		fmt.Printf("  Total: %s%s%s\n", colorGreen, formatAmount(q["grand_total"]), colorReset)
	}
}

// step runs one checkout operation and stops on failure.
func step(name, method, path string, body interface{}) map[string]interface{} {
	resp, err := doRequest(method, path, body)
	if err != nil {
		fatal("Checkout %s failed: %v", name, err)
	}
	if msg, _ := resp["message"].(string); msg != "" && !quiet {
		printWarning("%s", msg)
	}
	return resp
}

// =============================================================================
// HTTP
// =============================================================================

// clientHeader encodes the Storefront-Client structured field.
func clientHeader() (string, error) {
	dict := httpsfv.NewDictionary()
	dict.Add("session", httpsfv.NewItem(sessionID))
	dict.Add("mobile", httpsfv.NewItem(false))
	dict.Add("version", httpsfv.NewItem(clientVersion))
	return httpsfv.Marshal(dict)
}

func doRequest(method, path string, body interface{}) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	req, err := http.NewRequest(method, strings.TrimSuffix(serverURL, "/")+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	header, err := clientHeader()
	if err != nil {
		return nil, fmt.Errorf("encoding client header: %w", err)
	}
	req.Header.Set(middleware.ClientHeader, header)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}
	if len(respBody) == 0 {
		return map[string]interface{}{}, nil
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// errorMessage extracts the message of an error envelope.
func errorMessage(body []byte) string {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Error.Code == "" {
		return string(body)
	}
	return env.Error.Code + ": " + env.Error.Message
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if len(body) > 0 {
		printJSON(body, "  ")
	}
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// formatAmount renders a decimal amount as sent by the server ("286.00").
func formatAmount(v interface{}) string {
	switch val := v.(type) {
	case string:
		return "₹" + val
	case float64:
		return fmt.Sprintf("₹%.2f", val)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
