package coaching

import (
	"fmt"
	"strings"
)

// RenderPrompt builds the coaching system prompt for one analysis call.
// recentFeedback carries the session's prior feedback lines so the
// coach does not repeat itself.
func RenderPrompt(cfg *Config, recentFeedback []string) string {
	var analysis []string
	if cfg.Goal != "" {
		analysis = append(analysis, fmt.Sprintf("- My goal: %s", cfg.Goal))
	}
	if cfg.FocusOn != "" {
		analysis = append(analysis, fmt.Sprintf("- Focus on: %s", cfg.FocusOn))
	}
	if cfg.SkillLevel != "" {
		analysis = append(analysis, fmt.Sprintf("- My level: %s", cfg.SkillLevel))
	}
	section := "- Focus on my basic form"
	if len(analysis) > 0 {
		section = strings.Join(analysis, "\n")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a real-time %s coach. Help me like you're %s. FPS is %g.\n", cfg.Activity, cfg.Coach, cfg.FPS)
	b.WriteString("FEEDBACK:\n")
	b.WriteString(section)
	b.WriteString("\n- ALWAYS be direct\n- NO timestamps\n")
	if cfg.Language != "" && cfg.Language != "en" {
		fmt.Fprintf(&b, "- Respond in language: %s\n", cfg.Language)
	}
	fmt.Fprintf(&b, "- Keep feedback under %d words\n", cfg.MaxResponseLength)

	if len(recentFeedback) > 0 {
		b.WriteString("PREVIOUS FEEDBACK (do not repeat yourself):\n")
		for _, line := range recentFeedback {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return b.String()
}
