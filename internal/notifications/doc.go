// Package notifications delivers job and queue events via ntfy.
//
// The service publishes to the topic configured in config.toml, paces
// deliveries with a token bucket so a burst of failures cannot flood the
// topic, and degrades to a no-op when no topic is configured. Workflow code
// depends only on the Service interface.
package notifications
