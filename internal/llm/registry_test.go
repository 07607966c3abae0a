package llm

import "testing"

func TestResearchModelForUsesPairingWhenPresent(t *testing.T) {
	pairing := map[string]string{"gpt-4o": "gpt-4o-mini"}
	if got := ResearchModelFor("gpt-4o", pairing); got != "gpt-4o-mini" {
		t.Fatalf("ResearchModelFor() = %q, want paired research model", got)
	}
}

func TestResearchModelForDefaultsToSelfWhenUnpaired(t *testing.T) {
	pairing := map[string]string{"gpt-4o": "gpt-4o-mini"}
	if got := ResearchModelFor("deepseek-chat", pairing); got != "deepseek-chat" {
		t.Fatalf("ResearchModelFor() = %q, want itself when unpaired", got)
	}
}

func TestBuildGenerateOptionsEmptyWhenUnset(t *testing.T) {
	opts := buildGenerateOptions(Options{})
	if len(opts) != 0 {
		t.Fatalf("buildGenerateOptions() len = %d, want 0 for unset options", len(opts))
	}
}

func TestBuildGenerateOptionsIncludesConfiguredFields(t *testing.T) {
	temp := float32(0.7)
	maxTokens := 512
	opts := buildGenerateOptions(Options{Temperature: &temp, MaxTokens: &maxTokens})
	if len(opts) != 2 {
		t.Fatalf("buildGenerateOptions() len = %d, want 2 when both fields set", len(opts))
	}
}

func TestRegistryResolveUnknownIdentifierFails(t *testing.T) {
	r := NewStaticRegistry(nil)
	if _, err := r.Resolve("nonexistent"); err == nil {
		t.Fatalf("expected an error resolving an unconfigured api_identifier")
	}
}

func TestBuildChatModelUnsupportedVendorFails(t *testing.T) {
	if _, err := buildChatModel(VendorConfig{Vendor: "anthropic"}); err == nil {
		t.Fatalf("expected an error for an unsupported vendor")
	}
}
