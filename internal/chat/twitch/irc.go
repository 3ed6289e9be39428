package twitch

import "strings"

// ircMessage is one parsed IRC line (IRCv3 tags supported).
type ircMessage struct {
	Tags     map[string]string
	Prefix   string
	Nick     string
	Command  string
	Params   []string
	Trailing string
}

// Channel returns the first parameter without the leading '#', or "" when
// the message is not addressed to a channel.
func (m ircMessage) Channel() string {
	if len(m.Params) == 0 || !strings.HasPrefix(m.Params[0], "#") {
		return ""
	}
	return strings.ToLower(m.Params[0][1:])
}

func parseIRC(line string) (ircMessage, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return ircMessage{}, false
	}
	var m ircMessage

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return ircMessage{}, false
		}
		m.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return ircMessage{}, false
		}
		m.Prefix = line[1:sp]
		if bang := strings.IndexByte(m.Prefix, '!'); bang > 0 {
			m.Nick = strings.ToLower(m.Prefix[:bang])
		}
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if i := strings.Index(line, " :"); i >= 0 {
		m.Trailing = line[i+2:]
		line = line[:i]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ircMessage{}, false
	}
	m.Command = strings.ToUpper(fields[0])
	m.Params = fields[1:]
	return m, true
}

func parseTags(raw string) map[string]string {
	out := map[string]string{}
	for _, kv := range strings.Split(raw, ";") {
		if kv == "" {
			continue
		}
		k, v, _ := strings.Cut(kv, "=")
		out[k] = unescapeTag(v)
	}
	return out
}

var tagUnescaper = strings.NewReplacer(`\:`, ";", `\s`, " ", `\\`, `\`, `\r`, "\r", `\n`, "\n")

func unescapeTag(v string) string {
	if !strings.Contains(v, `\`) {
		return v
	}
	return tagUnescaper.Replace(v)
}

// sanitize keeps a chat line on one IRC line.
func sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
}
