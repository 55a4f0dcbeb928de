// Package tgui holds the Telegram UI helpers shared by the bot handlers:
// inline keyboards, "scope:action:payload" callback data, HTML escaping and
// a small message builder defaulting to HTML parse mode.
package tgui
