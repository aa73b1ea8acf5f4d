package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/copilotz/copilotz/pkg/config"
)

// openAPITimeout bounds one lowered-operation HTTP call.
const openAPITimeout = 30 * time.Second

// LoadOpenAPITools parses an OpenAPI 3 document and lowers every
// operation with an operationId into a tool. Parameters and the JSON
// request body schema merge into the tool's input schema.
func LoadOpenAPITools(ctx context.Context, cfg config.OpenAPIConfig) ([]*Tool, error) {
	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromFile(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load openapi document %s: %w", cfg.Path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document %s: %w", cfg.Path, err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if baseURL == "" {
		return nil, fmt.Errorf("openapi document %s declares no server and no baseUrl is configured", cfg.Path)
	}

	logger := slog.With("component", "openapi", "spec", cfg.Name)
	client := &http.Client{Timeout: openAPITimeout}

	var tools []*Tool
	for path, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			tool, err := lowerOperation(client, baseURL, cfg.Headers, path, method, item, op)
			if err != nil {
				return nil, fmt.Errorf("operation %s: %w", op.OperationID, err)
			}
			tools = append(tools, tool)
		}
	}
	logger.Info("OpenAPI tools loaded", "count", len(tools))
	return tools, nil
}

// opParam is one resolved parameter binding for the executor.
type opParam struct {
	name     string
	location string // "path", "query" or "header"
}

func lowerOperation(client *http.Client, baseURL string, headers map[string]string, path, method string, item *openapi3.PathItem, op *openapi3.Operation) (*Tool, error) {
	properties := map[string]json.RawMessage{}
	var required []string
	var params []opParam

	allParams := append(append(openapi3.Parameters{}, item.Parameters...), op.Parameters...)
	for _, ref := range allParams {
		p := ref.Value
		if p == nil {
			continue
		}
		schemaJSON := json.RawMessage(`{"type":"string"}`)
		if p.Schema != nil && p.Schema.Value != nil {
			data, err := p.Schema.Value.MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("failed to encode parameter schema %s: %w", p.Name, err)
			}
			schemaJSON = data
		}
		properties[p.Name] = schemaJSON
		if p.Required {
			required = append(required, p.Name)
		}
		params = append(params, opParam{name: p.Name, location: p.In})
	}

	hasBody := false
	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if media, ok := op.RequestBody.Value.Content["application/json"]; ok && media.Schema != nil && media.Schema.Value != nil {
			hasBody = true
			schema := media.Schema.Value
			// Object bodies merge their properties at the top level so
			// the model sees one flat argument object.
			if schema.Type != nil && schema.Type.Is("object") {
				for name, prop := range schema.Properties {
					if prop.Value == nil {
						continue
					}
					data, err := prop.Value.MarshalJSON()
					if err != nil {
						return nil, fmt.Errorf("failed to encode body schema %s: %w", name, err)
					}
					properties[name] = data
				}
				required = append(required, schema.Required...)
			} else {
				data, err := schema.MarshalJSON()
				if err != nil {
					return nil, fmt.Errorf("failed to encode body schema: %w", err)
				}
				properties["body"] = data
			}
		}
	}

	inputSchema, err := buildObjectSchema(properties, required)
	if err != nil {
		return nil, err
	}

	description := op.Summary
	if description == "" {
		description = op.Description
	}

	exec := &openAPIExecutor{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		method:  method,
		path:    path,
		params:  params,
		hasBody: hasBody,
	}
	return &Tool{
		Key:         op.OperationID,
		Description: description,
		InputSchema: inputSchema,
		Execute:     exec.execute,
	}, nil
}

func buildObjectSchema(properties map[string]json.RawMessage, required []string) (json.RawMessage, error) {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to build input schema: %w", err)
	}
	return data, nil
}

// openAPIExecutor performs the HTTP call for one lowered operation.
type openAPIExecutor struct {
	client  *http.Client
	baseURL string
	headers map[string]string
	method  string
	path    string
	params  []opParam
	hasBody bool
}

func (e *openAPIExecutor) execute(ctx context.Context, args map[string]any, _ *ExecContext) (any, error) {
	path := e.path
	query := url.Values{}
	headers := http.Header{}
	consumed := make(map[string]bool)

	for _, p := range e.params {
		val, ok := args[p.name]
		if !ok {
			continue
		}
		consumed[p.name] = true
		str := fmt.Sprintf("%v", val)
		switch p.location {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.name+"}", url.PathEscape(str))
		case "query":
			query.Set(p.name, str)
		case "header":
			headers.Set(p.name, str)
		}
	}

	var body io.Reader
	if e.hasBody {
		payload := make(map[string]any)
		if raw, ok := args["body"]; ok && len(args) == len(consumed)+1 {
			data, err := json.Marshal(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(data)
		} else {
			for name, val := range args {
				if !consumed[name] {
					payload[name] = val
				}
			}
			data, err := json.Marshal(payload)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(data)
		}
	}

	target := e.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, e.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	for key, v := range e.headers {
		req.Header.Set(key, v)
	}
	if e.hasBody {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	result := map[string]any{"status": resp.StatusCode}
	var decoded any
	if json.Unmarshal(data, &decoded) == nil {
		result["body"] = decoded
	} else {
		result["body"] = string(data)
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("request returned status %d", resp.StatusCode)
	}
	return result, nil
}
