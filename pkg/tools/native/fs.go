package native

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/copilotz/copilotz/pkg/tools"
)

// resolvePath roots a tool-supplied path under the working directory
// and rejects escapes.
func resolvePath(workingDir, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	full := filepath.Join(workingDir, filepath.Clean("/"+path))
	rel, err := filepath.Rel(workingDir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", path)
	}
	return full, nil
}

type readFileArgs struct {
	Path      string `json:"path" jsonschema:"required,description=File path relative to the working directory"`
	StartLine int    `json:"startLine,omitempty" jsonschema:"description=First line to return (1-indexed),minimum=1"`
	EndLine   int    `json:"endLine,omitempty" jsonschema:"description=Last line to return (inclusive),minimum=1"`
}

func newReadFile(cfg Config) *tools.Tool {
	return &tools.Tool{
		Key:         "read_file",
		Description: "Read a text file from the working directory, optionally a line range.",
		InputSchema: mustSchema[readFileArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[readFileArgs](args)
			if err != nil {
				return nil, err
			}
			full, err := resolvePath(cfg.WorkingDir, a.Path)
			if err != nil {
				return nil, err
			}
			info, err := os.Stat(full)
			if err != nil {
				return nil, fmt.Errorf("stat %s: %w", a.Path, err)
			}
			if info.Size() > cfg.MaxFileBytes {
				return nil, fmt.Errorf("file %s is %d bytes, over the %d byte limit", a.Path, info.Size(), cfg.MaxFileBytes)
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", a.Path, err)
			}

			content := string(data)
			lines := strings.Split(content, "\n")
			total := len(lines)
			if a.StartLine > 0 || a.EndLine > 0 {
				start := a.StartLine
				if start < 1 {
					start = 1
				}
				end := a.EndLine
				if end < 1 || end > total {
					end = total
				}
				if start > total {
					return nil, fmt.Errorf("startLine %d is past the end of the file (%d lines)", start, total)
				}
				content = strings.Join(lines[start-1:end], "\n")
			}
			return map[string]any{"path": a.Path, "content": content, "totalLines": total}, nil
		},
	}
}

type writeFileArgs struct {
	Path    string `json:"path" jsonschema:"required,description=File path relative to the working directory"`
	Content string `json:"content" jsonschema:"required,description=Full file content to write"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append instead of overwriting"`
}

func newWriteFile(cfg Config) *tools.Tool {
	return &tools.Tool{
		Key:         "write_file",
		Description: "Write or append a text file inside the working directory, creating parent directories as needed.",
		InputSchema: mustSchema[writeFileArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[writeFileArgs](args)
			if err != nil {
				return nil, err
			}
			full, err := resolvePath(cfg.WorkingDir, a.Path)
			if err != nil {
				return nil, err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return nil, fmt.Errorf("create parent directory: %w", err)
			}
			if a.Append {
				f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
				if err != nil {
					return nil, fmt.Errorf("open %s: %w", a.Path, err)
				}
				defer f.Close()
				if _, err := f.WriteString(a.Content); err != nil {
					return nil, fmt.Errorf("append %s: %w", a.Path, err)
				}
			} else if err := os.WriteFile(full, []byte(a.Content), 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", a.Path, err)
			}
			return map[string]any{"path": a.Path, "bytesWritten": len(a.Content)}, nil
		},
	}
}

type listDirectoryArgs struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory path relative to the working directory; defaults to its root"`
}

func newListDirectory(cfg Config) *tools.Tool {
	return &tools.Tool{
		Key:         "list_directory",
		Description: "List the entries of a directory inside the working directory.",
		InputSchema: mustSchema[listDirectoryArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[listDirectoryArgs](args)
			if err != nil {
				return nil, err
			}
			path := a.Path
			if path == "" {
				path = "."
			}
			full, err := resolvePath(cfg.WorkingDir, path)
			if err != nil {
				return nil, err
			}
			entries, err := os.ReadDir(full)
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", path, err)
			}
			items := make([]map[string]any, 0, len(entries))
			for _, entry := range entries {
				item := map[string]any{"name": entry.Name(), "dir": entry.IsDir()}
				if info, err := entry.Info(); err == nil && !entry.IsDir() {
					item["size"] = info.Size()
				}
				items = append(items, item)
			}
			return map[string]any{"path": path, "entries": items}, nil
		},
	}
}

type searchFilesArgs struct {
	Pattern string `json:"pattern" jsonschema:"required,description=Regular expression to search for"`
	Path    string `json:"path,omitempty" jsonschema:"description=Directory to search under; defaults to the working directory root"`
	Glob    string `json:"glob,omitempty" jsonschema:"description=Filename glob filter such as *.go"`
}

// searchMatchLimit bounds search_files output.
const searchMatchLimit = 200

func newSearchFiles(cfg Config) *tools.Tool {
	return &tools.Tool{
		Key:         "search_files",
		Description: "Search file contents under the working directory with a regular expression, returning matching lines.",
		InputSchema: mustSchema[searchFilesArgs](),
		Execute: func(ctx context.Context, args map[string]any, ec *tools.ExecContext) (any, error) {
			a, err := decodeArgs[searchFilesArgs](args)
			if err != nil {
				return nil, err
			}
			re, err := regexp.Compile(a.Pattern)
			if err != nil {
				return nil, fmt.Errorf("invalid pattern: %w", err)
			}
			root := a.Path
			if root == "" {
				root = "."
			}
			full, err := resolvePath(cfg.WorkingDir, root)
			if err != nil {
				return nil, err
			}

			var matches []map[string]any
			truncated := false
			walkErr := filepath.WalkDir(full, func(path string, entry fs.DirEntry, err error) error {
				if err != nil || ctx.Err() != nil {
					return err
				}
				if entry.IsDir() {
					if strings.HasPrefix(entry.Name(), ".") && path != full {
						return filepath.SkipDir
					}
					return nil
				}
				if a.Glob != "" {
					if ok, _ := filepath.Match(a.Glob, entry.Name()); !ok {
						return nil
					}
				}
				info, err := entry.Info()
				if err != nil || info.Size() > cfg.MaxFileBytes {
					return nil
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return nil
				}
				rel, _ := filepath.Rel(cfg.WorkingDir, path)
				for i, line := range strings.Split(string(data), "\n") {
					if re.MatchString(line) {
						if len(matches) >= searchMatchLimit {
							truncated = true
							return filepath.SkipAll
						}
						matches = append(matches, map[string]any{
							"file": rel,
							"line": i + 1,
							"text": strings.TrimSpace(line),
						})
					}
				}
				return nil
			})
			if walkErr != nil {
				return nil, fmt.Errorf("search %s: %w", root, walkErr)
			}
			return map[string]any{"matches": matches, "truncated": truncated}, nil
		},
	}
}
