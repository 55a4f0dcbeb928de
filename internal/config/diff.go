package config

import (
	"reflect"

	"quizbot/pkg/logx"
)

// Change summarizes a reload. Sections in RestartRequired are not applied live.
type Change struct {
	Sections        []string
	RestartRequired []string
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Fields renders the change for a log line. Secrets are never included.
func (c Change) Fields() []logx.Field {
	return []logx.Field{
		logx.Any("sections", c.Sections),
		logx.Any("restart_required", c.RestartRequired),
	}
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	note := func(section string, changed, restart bool) {
		if !changed {
			return
		}
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	note("telegram.token", ot.Token != nt.Token, true)
	note("telegram.admin_user_ids", !reflect.DeepEqual(ot.AdminUserIDs, nt.AdminUserIDs), false)
	note("telegram.questions_chat_id", ot.QuestionsChatID != nt.QuestionsChatID, false)
	note("telegram.timeouts", ot.PollTimeout != nt.PollTimeout || ot.SendTimeout != nt.SendTimeout, true)
	note("telegram.group_log", ot.GroupLog != nt.GroupLog, false)
	note("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging), false)
	note("storage", !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage), true)
	note("router", !reflect.DeepEqual(oldCfg.Router, newCfg.Router), true)
	note("broadcast", !reflect.DeepEqual(oldCfg.Broadcast, newCfg.Broadcast), false)
	note("conversation", !reflect.DeepEqual(oldCfg.Conversation, newCfg.Conversation), false)
	note("metrics", !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics), false)
	return ch
}
