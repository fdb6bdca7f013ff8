// Package assistants implements the tool orchestration loop of a conversation.
//
// An Assistant keeps the message history of one conversation. For each user request it
// offers the tools of the MCP server to the model, executes the tool calls the model
// asks for, and returns the final text once the model stops asking for tools.
package assistants
