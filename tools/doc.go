// Package tools maps the tools offered by the MCP server to the function
// definitions sent to the model, and converts tool arguments and results.
package tools
