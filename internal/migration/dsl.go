package migration

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// StripSecrets removes every environment variable whose value_type is
// "secret" from a DSL document and returns the rewritten document with the
// number of entries removed. A document without secrets is returned as is.
func StripSecrets(content []byte) ([]byte, int, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, 0, fmt.Errorf("parsing DSL: %w", err)
	}
	removed := stripNode(&doc)
	if removed == 0 {
		return content, 0, nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, 0, fmt.Errorf("encoding DSL: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, 0, fmt.Errorf("encoding DSL: %w", err)
	}
	return buf.Bytes(), removed, nil
}

// stripNode walks the tree and filters every environment_variables sequence.
func stripNode(n *yaml.Node) int {
	removed := 0
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			removed += stripNode(c)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, val := n.Content[i], n.Content[i+1]
			if key.Value == "environment_variables" && val.Kind == yaml.SequenceNode {
				removed += filterSecrets(val)
				continue
			}
			removed += stripNode(val)
		}
	}
	return removed
}

func filterSecrets(seq *yaml.Node) int {
	kept := seq.Content[:0]
	removed := 0
	for _, item := range seq.Content {
		if mappingValue(item, "value_type") == "secret" {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	seq.Content = kept
	if len(kept) == 0 {
		seq.Style = yaml.FlowStyle
	}
	return removed
}

func mappingValue(n *yaml.Node, key string) string {
	if n.Kind != yaml.MappingNode {
		return ""
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1].Value
		}
	}
	return ""
}

// dslHeader is the part of a DSL document the engine looks at.
type dslHeader struct {
	Version string `yaml:"version"`
	Kind    string `yaml:"kind"`
	App     struct {
		Name string `yaml:"name"`
		Mode string `yaml:"mode"`
	} `yaml:"app"`
}

// ReadDSLHeader extracts the version, app name and mode of a DSL document.
func ReadDSLHeader(content []byte) (version, name, mode string, err error) {
	var h dslHeader
	if err := yaml.Unmarshal(content, &h); err != nil {
		return "", "", "", fmt.Errorf("parsing DSL header: %w", err)
	}
	return h.Version, h.App.Name, h.App.Mode, nil
}
