package tools

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/effective-security/mcpbot/mcp"
	"github.com/effective-security/mcpbot/pkg/llms"
)

// Catalog is the set of tools offered to the model in one step
type Catalog struct {
	descriptors []mcp.ToolDescriptor
	byName      map[string]int
	defs        []llms.Tool
	fingerprint uint64
}

// NewCatalog returns the catalog of the tools.
// Tools with duplicate or empty names are skipped, the first one wins.
func NewCatalog(list []mcp.ToolDescriptor) *Catalog {
	c := &Catalog{
		byName: make(map[string]int, len(list)),
	}

	h := xxhash.New()
	for _, td := range list {
		if td.Name == "" {
			continue
		}
		if _, ok := c.byName[td.Name]; ok {
			continue
		}
		c.byName[td.Name] = len(c.descriptors)
		c.descriptors = append(c.descriptors, td)
		c.defs = append(c.defs, Definition(td))

		_, _ = h.WriteString(td.Name)
		_, _ = h.WriteString(td.Description)
		_, _ = h.Write(td.InputSchema)
	}
	c.fingerprint = h.Sum64()
	return c
}

// Definition returns the function definition for the model.
// The input schema is passed as is.
func Definition(td mcp.ToolDescriptor) llms.Tool {
	def := &llms.FunctionDefinition{
		Name:        td.Name,
		Description: td.Description,
	}
	if len(td.InputSchema) > 0 {
		def.Parameters = td.InputSchema
	}
	return llms.Tool{
		Type:     "function",
		Function: def,
	}
}

// Len returns the number of tools
func (c *Catalog) Len() int {
	return len(c.descriptors)
}

// Has returns true if the tool is in the catalog
func (c *Catalog) Has(name string) bool {
	_, ok := c.byName[name]
	return ok
}

// Get returns the tool descriptor by name
func (c *Catalog) Get(name string) (mcp.ToolDescriptor, bool) {
	idx, ok := c.byName[name]
	if !ok {
		return mcp.ToolDescriptor{}, false
	}
	return c.descriptors[idx], true
}

// Names returns sorted tool names
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the tools for the model, in the server order
func (c *Catalog) Definitions() []llms.Tool {
	return c.defs
}

// Fingerprint returns the hash of names, descriptions and schemas.
// It changes when the server updates the tools.
func (c *Catalog) Fingerprint() uint64 {
	return c.fingerprint
}

// Descriptions returns markdown list of the tools
func (c *Catalog) Descriptions() string {
	var ts strings.Builder
	for _, td := range c.descriptors {
		desc := strings.ReplaceAll(strings.TrimSpace(td.Description), "\n", " ")
		fmt.Fprintf(&ts, "- `%s`: %s\n", td.Name, desc)
	}
	return ts.String()
}
