// Package cmd provides the command-line interface for sidepeek.
//
// # Available Commands
//
//   - serve: Run the preview daemon with its HTTP API and browser viewers
//   - view: Build a document and show its output until interrupted
//   - open: Show an existing HTML or PDF output without building
//   - build: Build a document once and exit with the task's status
//   - rules: List the rules matching a document
//   - disconnect: Forget the remembered rule for a document
//   - lsp: Run the editor adapter over stdio
//   - version: Show build information
//
// # Command Examples
//
//	// Preview a document, choosing the rule up front
//	sidepeek view paper.md --rule "pandoc: pdf"
//
//	// Run the daemon on a free port and rebuild saved sources
//	sidepeek serve -p 0 --no-open --watch docs
//
//	// Use from an editor
//	sidepeek lsp --build-on-save
//
// # Configuration
//
// Settings come from several sources with clear precedence:
//  1. Command-line flags (--config, --port, etc.) - highest priority
//  2. SIDEPEEK_CONFIG_FILE environment variable - custom config file path
//  3. Individual environment variables (SIDEPEEK_SERVER_PORT, etc.)
//  4. Configuration files (.sidepeek.yml) - lowest priority
//
// A .env file in the working directory is loaded before any of them.
package cmd
