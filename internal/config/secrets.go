package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	// Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	// Redis; the URL may embed the password.
	redact(&out.Redis.URL)
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Accounts = append([]AccountConfig(nil), cfg.Accounts...)
	out.Parlay.Tiers = append([]TierConfig(nil), cfg.Parlay.Tiers...)
	out.Parlay.Strategies = append([]string(nil), cfg.Parlay.Strategies...)
	out.Feed.Sports = append([]string(nil), cfg.Feed.Sports...)
	out.Kafka.Brokers = append([]string(nil), cfg.Kafka.Brokers...)
	out.Notify.Events = append([]string(nil), cfg.Notify.Events...)

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
