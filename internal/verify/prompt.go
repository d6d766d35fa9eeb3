package verify

import (
	"strings"

	"github.com/kalambet/opsassist/internal/composer"
	"github.com/kalambet/opsassist/internal/llm"
)

// Query is the text embedded to retrieve verification evidence.
const Query = "Verify the steps, owners, tools and outputs of this operational procedure against the source documents."

const systemPrompt = `You are an operations auditor. Check a generated operational document against its source evidence. Output strict JSON only. No markdown. No extra keys.

For every step, decide whether the cited sources support the claim:
- "missing_source": the step cites nothing, or cites a chunk that is not in the SOURCE CONTEXT.
- "weak_evidence": the cited chunk exists but the quote is not in it or does not support the claim.
- "unsupported_claim": the step asserts something no source states.
- "ambiguous_step": the step is unclear about owner, action or output.
List contradictions between sources as conflicts, each with the sources involved.
List information an operator would need that the sources do not provide as missing_info.
Set overall_confidence to low, medium or high.`

const reportSchema = `{
  "issues": [{"type": "missing_source" | "weak_evidence" | "unsupported_claim" | "ambiguous_step", "step": int, "detail": str, "sources": [{"docId": str, "filename": str, "chunkId": int, "quote": str}]}],
  "conflicts": [{"description": str, "sources": [{"docId": str, "filename": str, "chunkId": int, "quote": str}]}],
  "missing_info": [str],
  "overall_confidence": "low" | "medium" | "high"
}`

// BuildPrompt returns the messages for one verification call.
func BuildPrompt(artifactJSON, evidenceBlock string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(composer.ArtifactHeader("verification"))
	sb.WriteString("\nReturn JSON with exactly this schema:\n")
	sb.WriteString(reportSchema)
	sb.WriteString("\n\nDOCUMENT:\n")
	sb.WriteString(artifactJSON)
	sb.WriteString("\n\nSOURCE CONTEXT:\n")
	if evidenceBlock == "" {
		sb.WriteString("(no evidence was found)")
	} else {
		sb.WriteString(evidenceBlock)
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: sb.String()},
	}
}
