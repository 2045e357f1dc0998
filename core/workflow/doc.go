// Package workflow loads node graphs written in HCL.
//
// A workflow file declares named nodes and the edges between them:
//
//	node "topic" {
//	  kind = "text"
//	  text = "The history of the printing press"
//	}
//
//	node "summary" {
//	  kind     = "chat"
//	  provider = "anthropic"
//	  model    = "claude-sonnet-4-20250514"
//	  system   = "Answer in three sentences."
//	  params   = { max_tokens = 1024 }
//	}
//
//	edge {
//	  from = "topic"
//	  to   = "summary"
//	}
//
// Names exist only in the file. [Workflow.Apply] creates the nodes in a
// graph.Store and returns the generated ids keyed by name.
package workflow
