package main

import (
	"context"

	"github.com/charmbracelet/huh"

	"llm-relay/internal/llm"
)

// confirmPrompter shows an interactive two-button confirm while a completion
// is in flight. Returning true aborts the request; any prompt error (no TTY,
// context cancelled) lets the request continue.
func confirmPrompter() llm.Prompter {
	return func(ctx context.Context) bool {
		abort := false
		form := huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title("Completion in progress").
				Description("The request keeps running until you decide.").
				Affirmative("Abort").
				Negative("Continue in background").
				Value(&abort),
		))
		if err := form.RunWithContext(ctx); err != nil {
			return false
		}
		return abort
	}
}
