// Package logging configures the bridge's log/slog output.
//
// One Logger is built from the logging section of the config and handed
// to every component, which narrows it with Component:
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("adapter").Info("discovery complete", "added", 3)
//
// Every entry carries service=hwmonbridge and the build version. Format
// "text" suits a terminal and anything else yields JSON. Attributes keyed
// password, secret, token or authorization are written as [REDACTED];
// redaction matches keys only, so never put credentials in a message.
package logging
