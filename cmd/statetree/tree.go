package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/drpcorg/statetree"
	"github.com/drpcorg/statetree/ident"
)

var (
	ErrBadPath   = errors.New("bad path")
	ErrNotArray  = errors.New("not an array")
	ErrNoSuchKey = errors.New("no such key")
)

// splitPath turns "list.0.name" into its keys. "." is the root.
func splitPath(path string) []string {
	path = strings.Trim(path, ".")
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// walk follows keys from root down to a container.
func walk(root statetree.Container, keys []string) (statetree.Container, error) {
	cur := root
	for i, key := range keys {
		v, err := get(cur, key)
		if err != nil {
			return nil, err
		}
		c, ok := v.(statetree.Container)
		if !ok {
			return nil, fmt.Errorf("%w: %s is not a container", ErrBadPath, strings.Join(keys[:i+1], "."))
		}
		cur = c
	}
	return cur, nil
}

func get(c statetree.Container, key string) (any, error) {
	switch c := c.(type) {
	case *statetree.Object:
		if v, ok := c.Get(key); ok {
			return v, nil
		}
	case *statetree.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: array index %q", ErrBadPath, key)
		}
		if v, ok := c.At(i); ok {
			return v, nil
		}
	case *statetree.Set:
		id, err := ident.Parse(key)
		if err != nil {
			return nil, fmt.Errorf("%w: set element %q", ErrBadPath, key)
		}
		if v, ok := c.Get(id); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, key)
}

// parent resolves everything but the last key of path.
func parent(root statetree.Container, path string) (statetree.Container, string, error) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return nil, "", fmt.Errorf("%w: the root cannot be replaced", ErrBadPath)
	}
	c, err := walk(root, keys[:len(keys)-1])
	return c, keys[len(keys)-1], err
}

func assign(root statetree.Container, path string, v any) error {
	c, key, err := parent(root, path)
	if err != nil {
		return err
	}
	switch c := c.(type) {
	case *statetree.Object:
		return c.Set(key, v)
	case *statetree.Array:
		i, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: array index %q", ErrBadPath, key)
		}
		if i == c.Len() {
			return c.Push(v)
		}
		return c.SetAt(i, v)
	case *statetree.Set:
		id, err := ident.Parse(key)
		if err != nil {
			return fmt.Errorf("%w: set element %q", ErrBadPath, key)
		}
		return c.Set(id, v)
	}
	return ErrBadPath
}

func remove(root statetree.Container, path string) error {
	c, key, err := parent(root, path)
	if err != nil {
		return err
	}
	if _, err := get(c, key); err != nil {
		return err
	}
	switch c := c.(type) {
	case *statetree.Object:
		return c.Delete(key)
	case *statetree.Array:
		i, _ := strconv.Atoi(key)
		_, err := c.Splice(i, 1)
		return err
	case *statetree.Set:
		id, _ := ident.Parse(key)
		_, err := c.Delete(id)
		return err
	}
	return ErrBadPath
}

func push(root statetree.Container, path string, v any) error {
	c, err := walk(root, splitPath(path))
	if err != nil {
		return err
	}
	arr, ok := c.(*statetree.Array)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotArray, path)
	}
	return arr.Push(v)
}

// fromJSON builds containers out of JSON objects and arrays. Whole numbers
// become ints.
func fromJSON(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return build(raw), nil
}

func build(raw any) any {
	switch v := raw.(type) {
	case json.Number:
		if i, err := strconv.Atoi(v.String()); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		props := make(map[string]any, len(v))
		for k, x := range v {
			props[k] = build(x)
		}
		return statetree.NewObject(props)
	case []any:
		items := make([]any, len(v))
		for i, x := range v {
			items[i] = build(x)
		}
		return statetree.NewArray(items)
	}
	return raw
}

// toJSON renders an exported tree; ids show in their #HEX form.
func toJSON(c statetree.Container) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(printable(statetree.Export(c))); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func printable(v any) any {
	switch v := v.(type) {
	case ident.ID:
		return v.String()
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k] = printable(x)
		}
		return out
	case map[ident.ID]any:
		out := make(map[string]any, len(v))
		for k, x := range v {
			out[k.String()] = printable(x)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, x := range v {
			out[i] = printable(x)
		}
		return out
	}
	return v
}

// info tells what container sits at path and when its id was made.
func info(root statetree.Container, path string) (string, error) {
	c, err := walk(root, splitPath(path))
	if err != nil {
		return "", err
	}
	var kind string
	var size int
	switch c := c.(type) {
	case *statetree.Object:
		kind, size = "object", c.Len()
	case *statetree.Array:
		kind, size = "array", c.Len()
	case *statetree.Set:
		kind, size = "set", c.Len()
	}
	id := c.ID()
	return fmt.Sprintf("%s %s, %d entries, created %s", kind, id, size,
		id.Time().UTC().Format(time.RFC3339Nano)), nil
}

// describe prints containers by id only.
func describe(v any) string {
	if c, ok := v.(statetree.Container); ok {
		return fmt.Sprintf("<%T %s>", c, c.ID())
	}
	return fmt.Sprintf("%v", v)
}
