package generation

import (
	"fmt"
	"strings"
	"time"
)

const (
	markdownFence = "```markdown"
	closingFence  = "```"

	maxTitleRunes = 100
	defaultTitle  = "PRP: Generated PRP"
)

// BuildPrompt combines a template and a feature request into the engine prompt.
func BuildPrompt(template, featureRequest string) string {
	return fmt.Sprintf("Generate a comprehensive Product Requirement Prompt (PRP) based on the following template and feature request.\n\n"+
		"Template:\n%s\n\n"+
		"Feature Request:\n%s\n\n"+
		"Please generate a detailed PRP following the template structure. Replace any template variables (like {{FEATURE_NAME}}) with appropriate values based on the feature request.\n\n"+
		"Output the result as a complete markdown document.",
		template, featureRequest)
}

// WithAdditionalContext appends extra context to a template.
func WithAdditionalContext(template, extra string) string {
	if strings.TrimSpace(extra) == "" {
		return template
	}
	return template + "\n\n## Additional Context\n" + extra
}

// Title derives a PRP title from the first line of the feature request.
func Title(featureRequest string) string {
	line := strings.TrimSpace(featureRequest)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if line == "" {
		return defaultTitle
	}
	if runes := []rune(line); len(runes) > maxTitleRunes {
		line = string(runes[:maxTitleRunes])
	}
	return "PRP: " + line
}

// placeholder is returned instead of a real artifact when the engine is not
// installed.
func placeholder(featureRequest string, now time.Time) string {
	name := strings.TrimSpace(featureRequest)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		name = "Placeholder Feature"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Product Requirement Prompt: %s\n\n", name)
	b.WriteString("## Overview\n")
	b.WriteString("This is a placeholder PRP generated because the generation engine is not available.\n\n")
	b.WriteString("## Feature Request\n")
	b.WriteString(featureRequest)
	b.WriteString("\n\n## Implementation Notes\n")
	b.WriteString("- This is a placeholder PRP\n")
	b.WriteString("- Install and configure the engine to generate real PRPs\n\n")
	b.WriteString("## Next Steps\n")
	b.WriteString("1. Install the engine\n")
	b.WriteString("2. Configure its path in settings\n")
	b.WriteString("3. Regenerate this PRP\n\n")
	b.WriteString("---\n")
	fmt.Fprintf(&b, "*Generated at: %s*", now.Format("2006-01-02 15:04:05"))
	return b.String()
}

// ExtractArtifact returns the body of the first ```markdown fenced block, or
// output unchanged when there is no complete block.
func ExtractArtifact(output string) string {
	start := strings.Index(output, markdownFence)
	if start < 0 {
		return output
	}
	rest := output[start+len(markdownFence):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return output
	}
	body := rest[nl+1:]

	if strings.HasPrefix(body, closingFence) {
		return ""
	}
	end := strings.Index(body, "\n"+closingFence)
	if end < 0 {
		return output
	}
	return body[:end]
}
