package generate

import (
	"fmt"
	"strings"

	"github.com/kalambet/opsassist/internal/composer"
	"github.com/kalambet/opsassist/internal/llm"
)

const citationRules = `Rules:
- Use only facts stated in the SOURCE CONTEXT. Do not invent steps, owners, tools or systems.
- Every step must include a "sources" list with at least one entry. Each entry copies docId, filename and chunkId from an anchor of the form [[doc:<docId>|file:<filename>|chunk:<n>]] that appears in the SOURCE CONTEXT, and "quote" is an exact excerpt of at most 25 words from the text under that anchor.
- Write "Unknown" for any value the sources do not state.`

const sopSystemPrompt = "You are an operations analyst. Create an SOP with strict JSON output only. No markdown. No extra keys.\n\n" + citationRules

const processSystemPrompt = "You are an operations analyst. Create a process document with strict JSON output only. No markdown. No extra keys.\n\n" + citationRules

const sourceSchema = `{"docId": str, "filename": str, "chunkId": int, "quote": str}`

var sopSchema = `{
  "title": str,
  "purpose": str,
  "scope": str,
  "roles": [{"role": str, "responsibilities": [str]}],
  "prerequisites": [str],
  "steps": [{"step": int, "action": str, "owner": str, "tools": [str], "output": str, "sources": [` + sourceSchema + `]}],
  "exceptions": [str],
  "audit_checklist": [str]
}`

var processSchema = `{
  "title": str,
  "overview": str,
  "trigger": str,
  "inputs": [str],
  "outputs": [str],
  "systems": [str],
  "process_steps": [{"step": int, "what_happens": str, "owner": str, "sources": [` + sourceSchema + `]}],
  "edge_cases": [str],
  "metrics": [str],
  "raci": [{"activity": str, "r": str, "a": str, "c": [str], "i": [str]}]
}`

// retrievalQuery is the text embedded to find evidence for kind.
func retrievalQuery(kind Kind, opts Options) string {
	switch kind {
	case KindProcess:
		q := "Create a process document from these notes and files."
		if opts.IncludeRACI {
			q += " Include who is responsible, accountable, consulted and informed."
		}
		return q
	default:
		return fmt.Sprintf("Create an SOP from these meeting notes and documents. Style: %s.", opts.style())
	}
}

// BuildPrompt returns the system and user messages for one generation call.
func BuildPrompt(kind Kind, opts Options, evidenceBlock string) []llm.Message {
	var system string
	var sb strings.Builder
	sb.WriteString(composer.ArtifactHeader(string(kind)))
	sb.WriteString("\n")

	switch kind {
	case KindProcess:
		system = processSystemPrompt
		sb.WriteString("Use the source context to create a Process Document.\n")
		sb.WriteString("Return JSON with exactly this schema:\n")
		sb.WriteString(processSchema)
		sb.WriteString("\n\nIf includeRaci is false, return raci as an empty list.\n\n")
		fmt.Fprintf(&sb, "includeRaci: %t\n", opts.IncludeRACI)
	default:
		system = sopSystemPrompt
		sb.WriteString("Use the source context to create an SOP.\n")
		sb.WriteString("Return JSON with exactly this schema:\n")
		sb.WriteString(sopSchema)
		fmt.Fprintf(&sb, "\n\nStyle: %s\n", opts.style())
	}

	sb.WriteString("\nSOURCE CONTEXT:\n")
	if evidenceBlock == "" {
		sb.WriteString("(no evidence was found)")
	} else {
		sb.WriteString(evidenceBlock)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}
