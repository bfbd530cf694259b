package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SaveTargets replaces watch.targets in the config file.
// This preserves comments and formatting in other sections by using yaml.Node.
func SaveTargets(configPath string, targets []TargetConfig) error {
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading config: %w", err)
	}

	var doc yaml.Node
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}

	if doc.Kind == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode}},
		}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("parsing config: top level must be a mapping")
	}

	watch := mappingValue(doc.Content[0], "watch")
	setMappingValue(watch, "targets", buildTargetsNode(targets))

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&doc); err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_ = encoder.Close()

	return writeAtomic(configPath, buf.Bytes())
}

// AddTarget appends a watch target, replacing any target with the same input.
func AddTarget(configPath string, target TargetConfig, existing []TargetConfig) error {
	targets := make([]TargetConfig, 0, len(existing)+1)
	for _, t := range existing {
		if filepath.Clean(t.Input) != filepath.Clean(target.Input) {
			targets = append(targets, t)
		}
	}
	targets = append(targets, target)
	if err := ValidateTargets(targets); err != nil {
		return err
	}
	return SaveTargets(configPath, targets)
}

// RemoveTarget drops the watch target for input. It is an error if no
// target matches.
func RemoveTarget(configPath string, input string, existing []TargetConfig) error {
	targets := make([]TargetConfig, 0, len(existing))
	for _, t := range existing {
		if filepath.Clean(t.Input) != filepath.Clean(input) {
			targets = append(targets, t)
		}
	}
	if len(targets) == len(existing) {
		return fmt.Errorf("no watch target for %q", input)
	}
	return SaveTargets(configPath, targets)
}

// mappingValue returns the mapping stored under key, creating it (or
// replacing a non-mapping value such as an empty "watch:") when needed.
func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			if m.Content[i+1].Kind != yaml.MappingNode {
				m.Content[i+1] = &yaml.Node{Kind: yaml.MappingNode}
			}
			return m.Content[i+1]
		}
	}
	v := &yaml.Node{Kind: yaml.MappingNode}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, v)
	return v
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i < len(m.Content)-1; i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, value)
}

// buildTargetsNode creates a yaml.Node representing the targets array.
func buildTargetsNode(targets []TargetConfig) *yaml.Node {
	node := &yaml.Node{
		Kind:    yaml.SequenceNode,
		Content: make([]*yaml.Node, 0, len(targets)),
	}
	for _, t := range targets {
		node.Content = append(node.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Content: []*yaml.Node{
				{Kind: yaml.ScalarNode, Value: "input"},
				{Kind: yaml.ScalarNode, Value: t.Input},
				{Kind: yaml.ScalarNode, Value: "output"},
				{Kind: yaml.ScalarNode, Value: t.Output},
			},
		})
	}
	return node
}

// writeAtomic writes to a temp file in the same directory, then renames.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".sassbridge.yaml.tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
