// Package fileio converts between text files on disk and node payloads.
//
// Only two formats exist: plain text (.txt) and Markdown (.md). Import
// decodes file bytes into the text a file_import node carries; export
// serializes a node's output or conversation back to bytes and writes them to
// {folder}/{name}.{format}.
//
// Example:
//
//	text, name, err := fileio.ReadText("notes/brief.md")
//	...
//	path, err := fileio.WriteText("out", "summary", fileio.FormatMarkdown, output)
package fileio
