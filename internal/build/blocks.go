package build

import (
	"github.com/tova-lang/tova/internal/compiler"
)

// NamedBlock is one server block with its assigned port. Name is "" for
// the unnamed (default) block.
type NamedBlock struct {
	Name   string
	Port   int
	EnvVar string
}

// Label returns a human-readable block name.
func (b NamedBlock) Label() string {
	if b.Name == "" {
		return "default"
	}
	return b.Name
}

// AssignPorts maps server blocks to ports. The unnamed block, if present,
// binds basePort; named blocks take basePort+1, basePort+2, ... in
// declaration order. With no unnamed block the first named block takes
// basePort itself.
func AssignPorts(blockNames []string, basePort int) []NamedBlock {
	hasDefault := false
	for _, name := range blockNames {
		if name == "" {
			hasDefault = true
		}
	}

	next := basePort
	if hasDefault {
		next = basePort + 1
	}

	blocks := make([]NamedBlock, 0, len(blockNames))
	for _, name := range blockNames {
		port := basePort
		if name != "" {
			port = next
			next++
		}
		blocks = append(blocks, NamedBlock{
			Name:   name,
			Port:   port,
			EnvVar: compiler.PortEnvVar(name),
		})
	}
	return blocks
}

// PortMap flattens block assignments into the name->port form the code
// generator consumes.
func PortMap(blocks []NamedBlock) map[string]int {
	m := make(map[string]int, len(blocks))
	for _, b := range blocks {
		m[b.Name] = b.Port
	}
	return m
}

// blockNames lists a program's server block names in declaration order.
func blockNames(p *compiler.Program) []string {
	var names []string
	for _, b := range p.ServerBlocks() {
		names = append(names, b.BlockName)
	}
	return names
}
