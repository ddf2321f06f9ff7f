// Package templates holds the embedded template files used by the runner.
// All templates are compiled into the binary at build time via //go:embed.
//
// Two subdirectories serve different purposes:
//
//   - runtime/ — templates rendered by the runner while processing a cycle
//     (agent prompt, pull request body). Never copied to the user's machine.
//
//   - init/ — files stamped into the working directory by `issuerunner init`.
package templates

import _ "embed"

// Prompt is the content of runtime/prompt.md, the agent prompt skeleton.
//
//go:embed runtime/prompt.md
var Prompt string

// PRBody is the content of runtime/pr_body.md, the pull request body skeleton.
//
//go:embed runtime/pr_body.md
var PRBody string

// InitConfig is the starter runner.yaml stamped by `issuerunner init`.
//
//go:embed init/runner.yaml
var InitConfig string
