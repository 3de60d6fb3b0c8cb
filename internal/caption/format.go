package caption

import "html"

// Telegram-flavored HTML helpers, used for captions and notices alike.

func Bold(text string) string {
	return "<b>" + html.EscapeString(text) + "</b>"
}

func Italic(text string) string {
	return "<i>" + html.EscapeString(text) + "</i>"
}

func Code(text string) string {
	return "<code>" + html.EscapeString(text) + "</code>"
}
