package tgui

import (
	"html"
	"strconv"
	"strings"
	"unicode/utf8"
)

// H is HTML already escaped for ParseMode HTML.
type H string

func (h H) String() string { return string(h) }

func Esc(s string) H { return H(html.EscapeString(s)) }

func tag(name string, s string) H { return H("<" + name + ">" + html.EscapeString(s) + "</" + name + ">") }

func B(s string) H    { return tag("b", s) }
func Code(s string) H { return tag("code", s) }

// Mention links name to the user's profile.
func Mention(name string, userID int64) H {
	href := "tg://user?id=" + strconv.FormatInt(userID, 10)
	return H(`<a href="` + href + `">` + html.EscapeString(name) + `</a>`)
}

// UserRef renders "@handle <id>" with the handle linked, or the bare id
// linked when the handle is unknown.
func UserRef(handle string, userID int64) H {
	id := strconv.FormatInt(userID, 10)
	name := id
	if h := strings.TrimPrefix(strings.TrimSpace(handle), "@"); h != "" {
		name = "@" + h
	}
	return JoinH(" ", Mention(name, userID), Code(id))
}

// JoinH joins the non-blank parts with sep.
func JoinH(sep string, parts ...H) H {
	var sb strings.Builder
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(sep)
		}
		sb.WriteString(string(p))
	}
	return H(sb.String())
}

// TruncRunes keeps at most n runes of s; a cut string ends in "…", which
// counts toward n.
func TruncRunes(s string, n int) string {
	switch {
	case n <= 0:
		return ""
	case utf8.RuneCountInString(s) <= n:
		return s
	}
	rs := []rune(s)
	return string(rs[:n-1]) + "…"
}
