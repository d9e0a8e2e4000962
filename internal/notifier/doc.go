// Package notifier delivers created date alerts to the recipient's chat.
//
// The service subscribes to alert.created events on the event bus, queues
// them and sends a short text through a transport.Sender (the Telegram
// channel in production). Sends are rate limited and retried with jittered
// exponential backoff.
//
// # Deduplication
//
// A delivered alert is recorded per notification and channel in storage,
// so a retried run or a restart never sends the same alert twice. Delivery
// failures never touch notification rows.
package notifier
