package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	yaml "go.yaml.in/yaml/v3"
)

// Write-back edits the file as a yaml node tree so key order, unknown
// formatting and (for YAML) comments survive. JSON is valid YAML, so the
// same tree serves both formats; only the encoder differs.

type yamlDoc = yaml.Node

func isYAMLPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func readTree(path string) (*yaml.Node, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("config root must be an object")
	}
	return &doc, nil
}

// documentJSON returns the config file as JSON for the strict decoder. YAML
// files go through the same node writer used for write-back.
func documentJSON(path string, b []byte) ([]byte, error) {
	if !isYAMLPath(path) {
		return b, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	var buf bytes.Buffer
	if err := writeJSONNode(&buf, &doc, 0); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return buf.Bytes(), nil
}

func encodeTree(path string, doc *yaml.Node) ([]byte, error) {
	if isYAMLPath(path) {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	var buf bytes.Buffer
	if err := writeJSONNode(&buf, doc, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func writeJSONNode(buf *bytes.Buffer, n *yaml.Node, depth int) error {
	indent := func(d int) { buf.WriteString(strings.Repeat("  ", d)) }
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		return writeJSONNode(buf, n.Content[0], depth)
	case yaml.AliasNode:
		return writeJSONNode(buf, n.Alias, depth)
	case yaml.MappingNode:
		if len(n.Content) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteString("{\n")
		for i := 0; i+1 < len(n.Content); i += 2 {
			indent(depth + 1)
			k, _ := json.Marshal(n.Content[i].Value)
			buf.Write(k)
			buf.WriteString(": ")
			if err := writeJSONNode(buf, n.Content[i+1], depth+1); err != nil {
				return err
			}
			if i+2 < len(n.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(depth)
		buf.WriteByte('}')
	case yaml.SequenceNode:
		if len(n.Content) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteString("[\n")
		for i, c := range n.Content {
			indent(depth + 1)
			if err := writeJSONNode(buf, c, depth+1); err != nil {
				return err
			}
			if i+1 < len(n.Content) {
				buf.WriteByte(',')
			}
			buf.WriteByte('\n')
		}
		indent(depth)
		buf.WriteByte(']')
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!int", "!!float":
			buf.WriteString(n.Value)
		case "!!bool":
			b, err := strconv.ParseBool(n.Value)
			if err != nil {
				return fmt.Errorf("bad bool %q", n.Value)
			}
			buf.WriteString(strconv.FormatBool(b))
		case "!!null":
			buf.WriteString("null")
		default:
			s, _ := json.Marshal(n.Value)
			buf.Write(s)
		}
	default:
		return fmt.Errorf("unsupported node kind %d", n.Kind)
	}
	return nil
}

func lookupKey(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// ensureMapping returns the mapping under key, creating it if absent.
func ensureMapping(m *yaml.Node, key string) *yaml.Node {
	if v := lookupKey(m, key); v != nil && v.Kind == yaml.MappingNode {
		return v
	}
	v := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	setNode(m, key, v)
	return v
}

func setNode(m *yaml.Node, key string, v *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = v
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, v)
}

func setString(m *yaml.Node, key, value string) bool {
	if cur := lookupKey(m, key); cur != nil && cur.Kind == yaml.ScalarNode && cur.ShortTag() == "!!str" && cur.Value == value {
		return false
	}
	setNode(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: yaml.DoubleQuotedStyle})
	return true
}

func setBool(m *yaml.Node, key string, value bool) bool {
	if cur := lookupKey(m, key); cur != nil && cur.Kind == yaml.ScalarNode && cur.ShortTag() == "!!bool" {
		if b, err := strconv.ParseBool(cur.Value); err == nil && b == value {
			return false
		}
	}
	setNode(m, key, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(value)})
	return true
}

// markCompleted flags the prize the milestone index holds for t: the first
// enabled, valid and not yet completed entry at that threshold. Disabled and
// duplicate entries keep their flags.
func markCompleted(doc *yaml.Node, t decimal.Decimal) (bool, error) {
	prizes := lookupKey(doc.Content[0], "prizes")
	if prizes == nil || prizes.Kind != yaml.SequenceNode {
		return false, errors.New("config has no prizes list")
	}
	found := false
	for _, p := range prizes.Content {
		th := lookupKey(p, "threshold")
		if th == nil || th.Kind != yaml.ScalarNode {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(th.Value))
		if err != nil || !d.Equal(t) {
			continue
		}
		found = true
		if !boolAt(p, "enabled") || boolAt(p, "completed") || stringAt(p, "artist") == "" || stringAt(p, "prize_type") == "" {
			continue
		}
		return setBool(p, "completed", true), nil
	}
	if !found {
		return false, fmt.Errorf("no prize with threshold %s", t.String())
	}
	return false, nil
}

func boolAt(m *yaml.Node, key string) bool {
	v := lookupKey(m, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return false
	}
	b, _ := strconv.ParseBool(v.Value)
	return b
}

func stringAt(m *yaml.Node, key string) string {
	v := lookupKey(m, key)
	if v == nil || v.Kind != yaml.ScalarNode || v.ShortTag() == "!!null" {
		return ""
	}
	return v.Value
}

func setTokens(doc *yaml.Node, access, refresh string, expiry time.Time) bool {
	t := ensureMapping(doc.Content[0], "tiltify")
	changed := setString(t, "access_token", access)
	if setString(t, "refresh_token", refresh) {
		changed = true
	}
	exp := ""
	if !expiry.IsZero() {
		exp = expiry.UTC().Format(time.RFC3339)
	}
	if setString(t, "token_expiry", exp) {
		changed = true
	}
	return changed
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	mode := os.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	tmp := path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("open temp config file: %w", err)
	}
	if _, err := out.Write(data); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write temp config file: %w", err)
	}
	_ = out.Sync()
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

// plainStyle clears JSON flow/quote styles so YAML output is block style.
func plainStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plainStyle(c)
	}
}

// writeDefault creates path with Default() in the format its extension implies.
func writeDefault(path string) error {
	jb, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	if !isYAMLPath(path) {
		return writeFileAtomic(path, append(jb, '\n'))
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(jb, &doc); err != nil {
		return err
	}
	plainStyle(&doc)
	out, err := encodeTree(path, &doc)
	if err != nil {
		return err
	}
	return writeFileAtomic(path, out)
}
