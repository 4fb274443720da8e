package expert

import "maps"

// UnversionedPrompt is reported for prompts missing from a PromptTable.
const UnversionedPrompt = "v0.0.0-unversioned"

// Prompt kinds used as the second half of a PromptTable key.
const (
	PromptSystem     = "system"
	PromptExtraction = "extraction"
)

// PromptTable maps "<expert>.<kind>" to a prompt version string. Versions
// are stamped onto traces and entity properties so a run can be tied to the
// exact prompt text that produced it.
type PromptTable map[string]string

// DefaultPrompts returns the versions of the prompts compiled into this
// package.
func DefaultPrompts() PromptTable {
	t := PromptTable{}
	for _, d := range Domains {
		name := ModelName(d)
		t[name+"."+PromptSystem] = "v1.0.0"
		t[name+"."+PromptExtraction] = "v1.0.0"
	}
	return t
}

// Version returns the version for expert and kind, or UnversionedPrompt.
func (t PromptTable) Version(expert, kind string) string {
	if v, ok := t[expert+"."+kind]; ok && v != "" {
		return v
	}
	return UnversionedPrompt
}

// With returns a copy of t with overrides applied.
func (t PromptTable) With(overrides map[string]string) PromptTable {
	out := maps.Clone(t)
	if out == nil {
		out = PromptTable{}
	}
	maps.Copy(out, overrides)
	return out
}
