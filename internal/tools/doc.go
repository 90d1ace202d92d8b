// Package tools holds the function tools the assistant may call during a run.
//
// Includes:
//   - Tool: a langchaingo tool that also declares its JSON input schema.
//   - Registry: name -> tool mapping, assistant declarations and dispatch.
//   - GenerateSchema[T](): derive the JSON Schema of a tool input from a Go struct.
//   - NewsTool: get_news(topic), backed by the news search client.
package tools
