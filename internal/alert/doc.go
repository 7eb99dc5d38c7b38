// Package alert turns prices and level interactions into notifications.
//
// The Engine evaluates two sources whenever a symbol's price changes: level
// alerts (price within a level's alert distance) and rules (price_above,
// price_below, level breaks and approaches). Every source has its own
// cooldown, so a rule or level fires at most once per window no matter how
// many ticks arrive. Delivery goes through a Notifier and is best effort.
package alert
