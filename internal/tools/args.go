package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"taskpilot/internal/task"
)

// ListArgs is the coerced form of a list_tasks call.
type ListArgs struct {
	Status *task.Status
	Limit  int
	Query  string
}

// CreateArgs is the coerced form of a create_task call.
type CreateArgs struct {
	Title       string
	Description *string
	Priority    int
	DueDate     *task.Date
}

// UpdateArgs is the coerced form of an update_task call.
type UpdateArgs struct {
	ID    string
	Patch task.Patch
}

// DeleteArgs is the coerced form of a delete_task call. At least one field is set.
type DeleteArgs struct {
	ID    string
	Query string
}

// DecodeArguments parses the raw payload from the model into an object.
// Empty input and null mean no arguments. A JSON string holding an object is
// unwrapped once, since some models double-encode.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
		}
		if strings.TrimSpace(inner) == "" {
			return map[string]any{}, nil
		}
		raw = []byte(inner)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ParseListArgs coerces list_tasks arguments. It never fails: bad optional values fall back to defaults.
func ParseListArgs(args map[string]any) ListArgs {
	out := ListArgs{Limit: DefaultListLimit}
	if s, ok := stringArg(args, "status"); ok {
		if st, valid := task.ParseStatus(s); valid {
			out.Status = &st
		}
	}
	if n, ok := intArg(args, "limit"); ok {
		out.Limit = clamp(n, MinListLimit, MaxListLimit)
	}
	if q, ok := stringArg(args, "query"); ok {
		out.Query = strings.TrimSpace(q)
	}
	return out
}

// ParseCreateArgs coerces create_task arguments.
func ParseCreateArgs(args map[string]any) (CreateArgs, error) {
	title, _ := stringArg(args, "title")
	title = strings.TrimSpace(title)
	if title == "" {
		return CreateArgs{}, invalid("title", "must be a non-empty string")
	}

	out := CreateArgs{Title: title, Priority: task.DefaultPriority}
	if d, ok := stringArg(args, "description"); ok {
		if d = strings.TrimSpace(d); d != "" {
			out.Description = &d
		}
	}
	if n, ok := intArg(args, "priority"); ok {
		out.Priority = task.ClampPriority(n)
	}
	if s, ok := stringArg(args, "due_date"); ok && strings.TrimSpace(s) != "" {
		if d, err := task.ParseDate(s); err == nil {
			out.DueDate = &d
		}
	}
	return out, nil
}

// ParseUpdateArgs coerces update_task arguments into a partial patch.
// Absent keys leave fields unchanged; "" or null for description or due_date clears them.
func ParseUpdateArgs(args map[string]any) (UpdateArgs, error) {
	id, _ := stringArg(args, "id")
	id = strings.TrimSpace(id)
	if id == "" {
		return UpdateArgs{}, invalid("id", "must be a non-empty string")
	}
	out := UpdateArgs{ID: id}
	out.Patch = ParsePatch(args)
	return out, nil
}

// ParsePatch builds a task.Patch from loosely typed fields. Shared by the
// update_task tool and the REST surface.
func ParsePatch(args map[string]any) task.Patch {
	var p task.Patch

	if s, ok := stringArg(args, "title"); ok {
		if s = strings.TrimSpace(s); s != "" {
			p.Title = &s
		}
	}

	if v, present := args["description"]; present {
		switch d := v.(type) {
		case nil:
			empty := ""
			p.Description = &empty
		case string:
			d = strings.TrimSpace(d)
			p.Description = &d
		}
	}

	if n, ok := intArg(args, "priority"); ok {
		n = task.ClampPriority(n)
		p.Priority = &n
	}

	if v, present := args["due_date"]; present {
		switch d := v.(type) {
		case nil:
			p.ClearDueDate = true
		case string:
			if strings.TrimSpace(d) == "" {
				p.ClearDueDate = true
			} else if parsed, err := task.ParseDate(d); err == nil {
				p.DueDate = &parsed
			}
		}
	}

	if s, ok := stringArg(args, "status"); ok {
		if st, valid := task.ParseStatus(s); valid {
			p.Status = &st
		}
	}
	return p
}

// ParseDeleteArgs coerces delete_task arguments. One of id or query is required.
func ParseDeleteArgs(args map[string]any) (DeleteArgs, error) {
	id, _ := stringArg(args, "id")
	query, _ := stringArg(args, "query")
	out := DeleteArgs{ID: strings.TrimSpace(id), Query: strings.TrimSpace(query)}
	if out.ID == "" && out.Query == "" {
		return DeleteArgs{}, invalid("id", "either id or query is required")
	}
	return out, nil
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key]
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	}
	return "", false
}

// intArg accepts integers, integral floats and numeric strings.
func intArg(args map[string]any, key string) (int, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return integral(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return integral(f)
		}
	case string:
		s := strings.TrimSpace(n)
		if i, err := strconv.Atoi(s); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return integral(f)
		}
	}
	return 0, false
}

func integral(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 {
		return math.MaxInt32, true
	}
	if f < math.MinInt32 {
		return math.MinInt32, true
	}
	return int(f), true
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
