package bot

import (
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/transport/telegram/router"
	"quizbot/pkg/tgui"
)

// Callback scopes.
const (
	scopeMenu    = "menu"
	scopeInfo    = "info"
	scopeUser    = "user"
	scopeStaff   = "staff"
	scopeContent = "content"
	scopeNews    = "news"
	scopeQuiz    = "quiz"
	scopeMail    = "mail"
	scopeBC      = "bc"
	scopeMod     = "mod"
	scopeSub     = "sub"
	scopeChat    = "chat"
)

const pageSize = 8

func backKB() *tgui.Inline {
	return tgui.NewInline().Row(tgui.Btn("⬅️ Menu", tgui.Data(scopeMenu, "main", "")))
}

// userKB is the end-user menu. Staff see it in user mode with a way back.
func userKB(role router.Role) *tgui.Inline {
	kb := tgui.Grid2([]tele.Btn{
		tgui.Btn("ℹ️ About", tgui.Data(scopeInfo, "about", "")),
		tgui.Btn("❓ FAQ", tgui.Data(scopeInfo, "faq", "")),
		tgui.Btn("📜 Rules", tgui.Data(scopeInfo, "rules", "")),
		tgui.Btn("🧩 Quizzes", tgui.Data(scopeInfo, "quizzes", "")),
		tgui.Btn("📰 News", tgui.Data(scopeInfo, "news", "")),
		tgui.Btn("✉️ Ask a question", tgui.Data(scopeUser, "ask", "")),
		tgui.Btn("📧 Change e-mail", tgui.Data(scopeUser, "email", "")),
		tgui.Btn("🆔 My ID", tgui.Data(scopeUser, "id", "")),
	})
	if role.Can(router.CapStaffMenu) {
		kb.Row(tgui.Btn("🛠 Staff menu", tgui.Data(scopeMenu, "main", "")))
	}
	return kb
}

// staffKB grows with the role's capabilities.
func staffKB(role router.Role) *tgui.Inline {
	var btns []tele.Btn
	if role.Can(router.CapEditContent) {
		btns = append(btns,
			tgui.Btn("✏️ About", tgui.Data(scopeContent, "edit", "about")),
			tgui.Btn("✏️ FAQ", tgui.Data(scopeContent, "edit", "faq")),
			tgui.Btn("✏️ Rules", tgui.Data(scopeContent, "edit", "rules")),
			tgui.Btn("📰 News", tgui.Data(scopeNews, "list", "0")),
			tgui.Btn("🧩 Quizzes", tgui.Data(scopeQuiz, "list", "0")),
		)
	}
	if role.Can(router.CapMailing) {
		btns = append(btns, tgui.Btn("📣 Mailing", tgui.Data(scopeMail, "start", "")))
	}
	if role.Can(router.CapConfirmBroadcasts) {
		btns = append(btns, tgui.Btn("✅ Confirm broadcasts", tgui.Data(scopeBC, "list", "0")))
	}
	if role.Can(router.CapManageModerators) {
		btns = append(btns, tgui.Btn("👮 Moderators", tgui.Data(scopeMod, "list", "")))
	}
	if role.Can(router.CapManageSubAdmins) {
		btns = append(btns, tgui.Btn("🧑‍💼 Sub-admins", tgui.Data(scopeSub, "list", "")))
	}
	if role.Can(router.CapViewQuestionsChat) {
		btns = append(btns, tgui.Btn("💬 Questions chat", tgui.Data(scopeStaff, "chat", "")))
	}
	if role.Can(router.CapResetQuestionsChat) {
		btns = append(btns, tgui.Btn("♻️ Reset questions chat", tgui.Data(scopeChat, "reset", "")))
	}
	kb := tgui.Grid2(btns)
	kb.Row(tgui.Btn("👤 User mode", tgui.Data(scopeMenu, "user", "")))
	return kb
}

func mainKB(role router.Role) *tgui.Inline {
	if role.Can(router.CapStaffMenu) {
		return staffKB(role)
	}
	return userKB(role)
}

// listKB renders one page of id-labelled entries with paging controls.
// Buttons open scope:show:<id>; paging uses scope:list:<page>.
func listKB[T any](scope string, page tgui.Page[T], label func(T) (int64, string), extra ...tele.Btn) *tgui.Inline {
	kb := tgui.NewInline()
	for _, it := range page.Items {
		id, text := label(it)
		kb.Row(tgui.Btn(tgui.TruncRunes(text, 40), tgui.DataID(scope, "show", id)))
	}
	var nav []tele.Btn
	if page.HasPrev {
		nav = append(nav, tgui.Btn("◀️", tgui.DataID(scope, "list", int64(page.Index-1))))
	}
	if page.HasNext {
		nav = append(nav, tgui.Btn("▶️", tgui.DataID(scope, "list", int64(page.Index+1))))
	}
	kb.Row(nav...)
	kb.Row(extra...)
	kb.Row(tgui.Btn("⬅️ Menu", tgui.Data(scopeMenu, "main", "")))
	return kb
}
