// Package mcpserver exposes an engine to agents as Model Context Protocol
// tools and resources.
package mcpserver
