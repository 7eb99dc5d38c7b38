// Package notify delivers alert messages.
//
// Every notifier implements Send(ctx, message, priority) bool and never
// returns an error: a false result means the message was not delivered and
// the caller counts it as suppressed.
//
//   - LogNotifier writes to the structured log
//   - SMSNotifier posts to the Twilio Messages API
//   - RedisNotifier publishes JSON to a Redis channel
//   - Multi fans out to several notifiers
package notify
