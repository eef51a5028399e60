// Package filler fills batches of declarative chain tests across networks and
// writes the resulting fixtures to disk.
package filler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/smallyunet/ethfill/pkg/blockchain"
	"github.com/smallyunet/ethfill/pkg/forks"
)

// Job is one test to fill for a set of networks.
type Job struct {
	Name     string
	Test     *blockchain.Test
	Networks []forks.Network
}

// LoadFile reads the tests declared in path, keyed by name. Files ending in
// .yaml or .yml are YAML, anything else is JSON.
func LoadFile(path string) (map[string]*blockchain.Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	tests := make(map[string]*blockchain.Test)
	if err := json.Unmarshal(data, &tests); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, t := range tests {
		if t == nil {
			return nil, fmt.Errorf("%s: test %q is empty", path, name)
		}
		if t.Tag == "" {
			t.Tag = name
		}
	}
	return tests, nil
}

// Jobs pairs every test with networks, in name order.
func Jobs(tests map[string]*blockchain.Test, networks []forks.Network) []Job {
	names := make([]string, 0, len(tests))
	for name := range tests {
		names = append(names, name)
	}
	sort.Strings(names)
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		jobs = append(jobs, Job{Name: name, Test: tests[name], Networks: networks})
	}
	return jobs
}

// yamlToJSON re-encodes a YAML document as JSON. Numeric scalars keep their
// source text so hex quantities such as 0xc0 reach the JSON decoders intact.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	if err := writeNode(&buf, &doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeNode(buf *bytes.Buffer, n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			buf.WriteString("null")
			return nil
		}
		return writeNode(buf, n.Content[0])
	case yaml.AliasNode:
		return writeNode(buf, n.Alias)
	case yaml.MappingNode:
		buf.WriteByte('{')
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, _ := json.Marshal(n.Content[i].Value)
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeNode(buf, n.Content[i+1]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case yaml.SequenceNode:
		buf.WriteByte('[')
		for i, c := range n.Content {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeNode(buf, c); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			buf.WriteString("null")
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return err
			}
			fmt.Fprint(buf, b)
		default:
			s, _ := json.Marshal(n.Value)
			buf.Write(s)
		}
	default:
		return fmt.Errorf("line %d: unsupported YAML node", n.Line)
	}
	return nil
}
