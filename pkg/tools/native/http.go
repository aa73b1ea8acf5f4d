package native

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/copilotz/copilotz/pkg/tools"
)

type httpRequestArgs struct {
	URL     string            `json:"url" jsonschema:"required,description=The URL to request"`
	Method  string            `json:"method,omitempty" jsonschema:"description=HTTP method,default=GET,enum=GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS"`
	Headers map[string]string `json:"headers,omitempty" jsonschema:"description=HTTP headers as key-value pairs"`
	Query   map[string]string `json:"query,omitempty" jsonschema:"description=Query string parameters"`
	Body    any               `json:"body,omitempty" jsonschema:"description=Request body; objects are sent as JSON"`
}

func newHTTPRequest(cfg Config) *tools.Tool {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return &tools.Tool{
		Key:         "http_request",
		Description: "Make an HTTP request to an external API or web service. Supports all methods, custom headers, query parameters and JSON bodies.",
		InputSchema: mustSchema[httpRequestArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[httpRequestArgs](args)
			if err != nil {
				return nil, err
			}
			parsed, err := url.Parse(a.URL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return nil, fmt.Errorf("invalid url %q", a.URL)
			}
			if len(a.Query) > 0 {
				q := parsed.Query()
				for key, val := range a.Query {
					q.Set(key, val)
				}
				parsed.RawQuery = q.Encode()
			}

			method := strings.ToUpper(a.Method)
			if method == "" {
				method = http.MethodGet
			}
			var body io.Reader
			contentType := ""
			switch payload := a.Body.(type) {
			case nil:
			case string:
				body = strings.NewReader(payload)
			default:
				data, err := json.Marshal(payload)
				if err != nil {
					return nil, fmt.Errorf("encode request body: %w", err)
				}
				body = strings.NewReader(string(data))
				contentType = "application/json"
			}

			req, err := http.NewRequestWithContext(ctx, method, parsed.String(), body)
			if err != nil {
				return nil, fmt.Errorf("build request: %w", err)
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			for key, val := range a.Headers {
				req.Header.Set(key, val)
			}

			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("request %s %s: %w", method, parsed.Host, err)
			}
			defer resp.Body.Close()

			data, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxResponseBytes))
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}

			result := map[string]any{
				"status":  resp.StatusCode,
				"headers": flattenHeaders(resp.Header),
			}
			var decoded any
			if json.Unmarshal(data, &decoded) == nil {
				result["body"] = decoded
			} else {
				result["body"] = string(data)
			}
			return result, nil
		},
	}
}

type fetchTextArgs struct {
	URL      string `json:"url" jsonschema:"required,description=The page URL to fetch"`
	MaxChars int    `json:"maxChars,omitempty" jsonschema:"description=Truncate the extracted text to this many characters,default=20000,minimum=1"`
}

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style|noscript)\b[^>]*>.*?</(script|style|noscript)>`)
	htmlTagRe     = regexp.MustCompile(`(?s)<[^>]+>`)
	blankLinesRe  = regexp.MustCompile(`\n{3,}`)
)

func newFetchText(cfg Config) *tools.Tool {
	client := &http.Client{Timeout: cfg.HTTPTimeout}
	return &tools.Tool{
		Key:         "fetch_text",
		Description: "Fetch a web page and return its readable text with markup stripped.",
		InputSchema: mustSchema[fetchTextArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[fetchTextArgs](args)
			if err != nil {
				return nil, err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
			if err != nil {
				return nil, fmt.Errorf("invalid url %q: %w", a.URL, err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch %s: %w", a.URL, err)
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return nil, fmt.Errorf("fetch %s: status %d", a.URL, resp.StatusCode)
			}

			data, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxFileBytes))
			if err != nil {
				return nil, fmt.Errorf("read response: %w", err)
			}

			text := string(data)
			if strings.Contains(resp.Header.Get("Content-Type"), "html") || strings.Contains(text, "<html") {
				text = stripHTML(text)
			}
			maxChars := a.MaxChars
			if maxChars <= 0 {
				maxChars = 20000
			}
			truncated := false
			if len(text) > maxChars {
				text = text[:maxChars]
				truncated = true
			}
			return map[string]any{"url": a.URL, "text": text, "truncated": truncated}, nil
		},
	}
}

func stripHTML(html string) string {
	text := scriptStyleRe.ReplaceAllString(html, " ")
	text = htmlTagRe.ReplaceAllString(text, "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key, vals := range h {
		if len(vals) > 0 {
			out[key] = vals[0]
		}
	}
	return out
}
