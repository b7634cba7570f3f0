// Package internal contains the implementation packages for sidepeek.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - config: Configuration loading, rule and task sections, validation
//   - substitute: Variable substitution in patterns and command lines
//   - rules: Rule matching, variant expansion and sticky resolution
//   - store: Persistent rule choices in bbolt
//   - tasks: Task instances and the runner that executes them
//   - errors: Structured errors and build problem extraction
//   - preview: The build and view operations tying everything together
//   - viewer: Viewers of build outputs and their registry
//   - watcher: File watching with debouncing
//   - server: HTTP API, viewer pages and websocket push
//   - lsp: Language server exposing preview commands to editors
//   - notify, picker: Request-scoped user messages and rule prompts
//   - logging: Structured logging
//
// # Inter-Package Communication
//
// Packages communicate through small interfaces:
//
//   - Rules resolve a document to one rule, asking a picker when ambiguous
//   - Preview runs the rule's task and hands the output to the registry
//   - The registry keeps one viewer per output, re-rendering on change
//   - Server and lsp translate requests into preview operations
//
// # Security Considerations
//
//   - Commands are expanded without shell escaping; rules come from trusted config
//   - Viewer pages only serve files under their registered roots
//   - Websocket upgrades check the request origin
//   - Builds are rate limited per server
package internal
