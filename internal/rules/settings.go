package rules

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// RuleSettings is the parsed form of the comma-separated settings string
// that accompanies watched patterns, e.g. "del,type.word,ping.mods,ban.3".
type RuleSettings struct {
	AutoDelete    bool
	CaseSensitive bool
	MatchType     MatchType
	PingGroup     string
	BanSeverity   *int
}

func parseBool(token string) (bool, error) {
	switch strings.ToLower(token) {
	case "true", "yes", "enable", "on":
		return true, nil
	case "false", "no", "disable", "off":
		return false, nil
	}
	return false, errors.Errorf("%q is not a boolean token", token)
}

// ParseSettings parses the rule-definition mini-language: a comma-separated
// list of "key" or "key.value" tokens checked against a fixed key table.
// Unknown keys, malformed values, and incompatible combinations are rejected
// before anything touches the persistent store.
func ParseSettings(s string) (RuleSettings, error) {
	var (
		settings RuleSettings
		sawType  bool
	)

	for _, token := range strings.Split(s, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		key, value := token, ""
		hasValue := false
		if dot := strings.IndexByte(token, '.'); dot != -1 {
			key, value = token[:dot], token[dot+1:]
			hasValue = true
		}

		switch key {
		case "del":
			enabled := true
			if hasValue {
				var err error
				enabled, err = parseBool(value)
				if err != nil {
					return RuleSettings{}, errors.Wrap(err, "setting del")
				}
			}
			settings.AutoDelete = enabled

		case "cased":
			enabled := true
			if hasValue {
				var err error
				enabled, err = parseBool(value)
				if err != nil {
					return RuleSettings{}, errors.Wrap(err, "setting cased")
				}
			}
			settings.CaseSensitive = enabled

		case "type":
			if !hasValue {
				return RuleSettings{}, errors.New("setting type: value required")
			}
			matchType, err := ParseMatchType(value)
			if err != nil {
				return RuleSettings{}, errors.Wrap(err, "setting type")
			}
			settings.MatchType = matchType
			sawType = true

		case "ping":
			if !hasValue {
				return RuleSettings{}, errors.New("setting ping: group name required")
			}
			if enabled, err := parseBool(value); err == nil && !enabled {
				settings.PingGroup = ""
			} else {
				settings.PingGroup = value
			}

		case "ban":
			if !hasValue {
				severity := 0
				settings.BanSeverity = &severity
				continue
			}
			if severity, err := strconv.Atoi(value); err == nil {
				if severity < 0 || severity > MaxBanSeverity {
					return RuleSettings{}, errors.Errorf("setting ban: severity %d out of range 0-%d", severity, MaxBanSeverity)
				}
				settings.BanSeverity = &severity
				continue
			}
			enabled, err := parseBool(value)
			if err != nil {
				return RuleSettings{}, errors.Wrap(err, "setting ban")
			}
			if enabled {
				severity := 0
				settings.BanSeverity = &severity
			} else {
				settings.BanSeverity = nil
			}

		default:
			return RuleSettings{}, errors.Errorf("unknown setting %q", key)
		}
	}

	if !sawType {
		return RuleSettings{}, errors.New("setting type is required")
	}
	if settings.CaseSensitive && settings.MatchType == MatchWord {
		return RuleSettings{}, errors.New("cased is incompatible with type.word")
	}

	return settings, nil
}
