package rules

// BaselineStore returns the rule set bundled with the build. It is the
// second-to-last rung of the fallback chain: used when neither the remote
// source nor a cached copy is available.
func BaselineStore() RuleStore {
	return RuleStore{
		Version: "baseline-2026.08",
		TrustedLoginPatterns: []string{
			`^https://login\.microsoftonline\.com$`,
			`^https://login\.microsoft\.com$`,
			`^https://login\.live\.com$`,
			`^https://login\.windows\.net$`,
			`^https://account\.microsoft\.com$`,
			`^https://autologon\.microsoftazuread-sso\.com$`,
		},
		ExclusionSystem: ExclusionSystem{
			DomainPatterns: []string{
				`^https://[^/]*\.google\.com(/|$)`,
				`^https://[^/]*\.youtube\.com(/|$)`,
				`^https://[^/]*\.wikipedia\.org(/|$)`,
				`^https://[^/]*\.github\.com(/|$)`,
				`^https://github\.com(/|$)`,
			},
		},
		PhishingIndicators: []Indicator{
			{
				ID:          "loginfmt-off-origin",
				Pattern:     `name=["']?loginfmt`,
				Flags:       "i",
				Severity:    SeverityCritical,
				Description: "Microsoft sign-in username field served from a non-Microsoft origin",
				Action:      ActionBlock,
				Category:    "source_content",
				Confidence:  0.95,
			},
			{
				ID:          "ms-branding-text",
				Pattern:     `Microsoft 365|Office ?365|Sign in to your account`,
				Flags:       "i",
				Severity:    SeverityHigh,
				Description: "Microsoft sign-in branding text on an unverified page",
				Action:      ActionWarn,
				Category:    "text_content",
				Confidence:  0.7,
			},
			{
				ID:          "lookalike-login-host",
				Pattern:     `https?://[^/]*(microsoft|office|0ffice|micros0ft|m1crosoft)[^/]*\.(?:net|org|info|xyz|top|icu|live|app)\b`,
				Flags:       "i",
				Severity:    SeverityHigh,
				Description: "Lookalike Microsoft hostname outside trusted origins",
				Action:      ActionWarn,
				Category:    "url",
				Confidence:  0.8,
			},
			{
				ID:          "credential-post-offsite",
				Pattern:     `<form[^>]+action=["']https?://[^"']+["'][^>]*>`,
				Flags:       "i",
				Severity:    SeverityMedium,
				Description: "Login form posting credentials to a third-party host",
				Action:      ActionMonitor,
				Category:    "form_action",
				Confidence:  0.6,
				ContextRequired: []string{
					`type=["']?password`,
				},
			},
			{
				ID:          "urgency-verification-text",
				Pattern:     `(verify|confirm|unusual activity|suspended).{0,40}(account|identity|mailbox)`,
				Flags:       "i",
				Severity:    SeverityLow,
				Description: "Urgency language commonly paired with credential harvesting",
				Action:      ActionMonitor,
				Category:    "text_content",
				Confidence:  0.4,
			},
		},
		DetectionRequirements: DetectionRequirements{
			PrimaryElements: []Element{
				{
					ID:       "loginfmt-input",
					Type:     ElementSourceContent,
					Pattern:  `name=["']?loginfmt`,
					Weight:   3,
					Category: "primary",
				},
				{
					ID:       "ms-signin-text",
					Type:     ElementTextContent,
					Patterns: []string{`Sign in`, `Microsoft`},
					Weight:   2,
					Category: "primary",
				},
			},
			SecondaryElements: []Element{
				{
					ID:       "password-input",
					Type:     ElementSourceContent,
					Pattern:  `type=["']?password`,
					Weight:   1,
					Category: "secondary",
				},
				{
					ID:       "login-url-hint",
					Type:     ElementURLPattern,
					Pattern:  `login|signin|auth|sso`,
					Weight:   1,
					Category: "secondary",
				},
			},
			MinimumWeight: 2,
		},
		BlockingRules: []BlockingRule{
			{
				ID:          "aitm-evilginx-marker",
				Type:        BlockingContentPattern,
				Pattern:     `\bo365\.js\b|evilginx|\bphishlet\b`,
				Flags:       "i",
				Description: "Known adversary-in-the-middle kit artifacts",
				Enabled:     true,
			},
		},
		RogueAppsDetection: RogueAppsDetection{
			Enabled:         true,
			SourceURL:       "https://raw.githubusercontent.com/pageguard/rules/main/rogue-apps.json",
			CacheDuration:   12,
			UpdateInterval:  12,
			DetectionAction: ActionWarn,
			Severity:        SeverityHigh,
			AutoUpdate:      true,
		},
		Thresholds: Thresholds{Legitimate: 90, Suspicious: 60, Phishing: 30},
	}
}

// MinimalStore returns the hard-coded last-resort rule set: well-known
// trusted origins and conservative thresholds only. The engine must never
// run with zero rules, so this set has no external dependencies at all.
func MinimalStore() RuleStore {
	return RuleStore{
		Version: "minimal",
		TrustedLoginPatterns: []string{
			`^https://login\.microsoftonline\.com$`,
			`^https://login\.microsoft\.com$`,
			`^https://login\.live\.com$`,
		},
		PhishingIndicators: []Indicator{
			{
				ID:          "minimal-loginfmt-off-origin",
				Pattern:     `name=["']?loginfmt`,
				Flags:       "i",
				Severity:    SeverityHigh,
				Description: "Microsoft sign-in username field served from a non-Microsoft origin",
				Action:      ActionWarn,
				Category:    "source_content",
				Confidence:  0.9,
			},
		},
		DetectionRequirements: DetectionRequirements{
			PrimaryElements: []Element{
				{
					ID:       "minimal-loginfmt-input",
					Type:     ElementSourceContent,
					Pattern:  `name=["']?loginfmt`,
					Weight:   3,
					Category: "primary",
				},
			},
			MinimumWeight: 3,
		},
		Thresholds: Thresholds{Legitimate: 95, Suspicious: 70, Phishing: 40},
	}
}
