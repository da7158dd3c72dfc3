package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ernie/fragwatch/internal/domain"
)

// LogEvent represents a parsed event from the log
type LogEvent struct {
	Type string
	Seed bool // produced by the startup replay rather than the live follow
	Data interface{}
}

// Event types
const (
	EventTypeMatchStart     = "match_start"
	EventTypeMatchEnd       = "match_end"
	EventTypeIdentityUpdate = "identity_update"
	EventTypeKill           = "kill"
)

// Event data structures
type MatchStartData struct {
	MapName  string
	GameType string
	Hostname string
	Settings map[string]string
}

type MatchEndData struct{}

type IdentityUpdateData struct {
	Slot     int
	Name     string // raw, color codes preserved
	GUID     string
	Userinfo map[string]string
}

type KillData struct {
	KillerSlot int
	VictimSlot int
	KillerName string // raw, color codes preserved; may be <world>
	VictimName string
	Cause      string
}

// elapsedRegex matches the optional minutes:seconds prefix some servers
// write before every line (minute field of arbitrary width).
var elapsedRegex = regexp.MustCompile(`^\s*\d+:\d{2}\s+`)

// lineMatcher pairs a pattern with its event builder. Matchers are tried
// in order; the first full match wins. The keyword is used to surface
// lines that look like a known event but fail the full pattern.
type lineMatcher struct {
	keyword string
	re      *regexp.Regexp
	build   func(match []string) *LogEvent
}

var matchers = []lineMatcher{
	{
		keyword: "InitGame:",
		re:      regexp.MustCompile(`^InitGame:\s*(\\.+)$`),
		build: func(match []string) *LogEvent {
			settings := parseInfoString(match[1])
			return &LogEvent{
				Type: EventTypeMatchStart,
				Data: MatchStartData{
					MapName:  settings["mapname"],
					GameType: domain.GameTypeFromString(settings["g_gametype"]),
					Hostname: settings["sv_hostname"],
					Settings: settings,
				},
			}
		},
	},
	{
		keyword: "ShutdownGame:",
		re:      regexp.MustCompile(`^ShutdownGame:\s*$`),
		build: func(match []string) *LogEvent {
			return &LogEvent{Type: EventTypeMatchEnd, Data: MatchEndData{}}
		},
	},
	{
		keyword: "ClientUserinfoChanged:",
		re:      regexp.MustCompile(`^ClientUserinfoChanged:\s+(\d+)\s+(.+)$`),
		build: func(match []string) *LogEvent {
			slot, _ := strconv.Atoi(match[1])
			userinfo := parseInfoString(match[2])
			name := userinfo["n"]
			if name == "" {
				name = userinfo["name"]
			}
			guid := userinfo["g"]
			if guid == "" {
				guid = userinfo["cl_guid"]
			}
			return &LogEvent{
				Type: EventTypeIdentityUpdate,
				Data: IdentityUpdateData{
					Slot:     slot,
					Name:     name,
					GUID:     guid,
					Userinfo: userinfo,
				},
			}
		},
	},
	{
		keyword: "Kill:",
		// The numeric cause field is optional: some mods log only the
		// two client slots.
		re: regexp.MustCompile(`^Kill:\s+(\d+)\s+(\d+)(?:\s+(\d+))?:\s+(.+) killed (.+) by (\S+)$`),
		build: func(match []string) *LogEvent {
			killerSlot, _ := strconv.Atoi(match[1])
			victimSlot, _ := strconv.Atoi(match[2])
			return &LogEvent{
				Type: EventTypeKill,
				Data: KillData{
					KillerSlot: killerSlot,
					VictimSlot: victimSlot,
					KillerName: match[4],
					VictimName: match[5],
					Cause:      match[6],
				},
			}
		},
	},
}

// ParseLine parses a single log line. It returns (nil, nil) for lines the
// tracker does not care about, and (nil, err) for lines that carry a
// recognized keyword but fail the full pattern; those are diagnostic
// only and never fatal.
func ParseLine(line string) (*LogEvent, error) {
	content := strings.TrimSpace(line)
	if content == "" {
		return nil, nil
	}

	// Strip the optional elapsed-time prefix before matching.
	if loc := elapsedRegex.FindStringIndex(content); loc != nil {
		content = content[loc[1]:]
	}

	for _, m := range matchers {
		if match := m.re.FindStringSubmatch(content); match != nil {
			return m.build(match), nil
		}
	}

	// A known keyword that slipped past its pattern is worth surfacing.
	for _, m := range matchers {
		if strings.HasPrefix(content, m.keyword) {
			return nil, fmt.Errorf("unparsed %s line: %q", strings.TrimSuffix(m.keyword, ":"), content)
		}
	}

	return nil, nil
}

// parseInfoString parses a backslash-separated info string
// Format is \key\value\key\value (may start with a backslash)
func parseInfoString(info string) map[string]string {
	result := make(map[string]string)
	parts := strings.Split(info, "\\")

	// Skip empty first element if string starts with backslash
	start := 0
	if len(parts) > 0 && parts[0] == "" {
		start = 1
	}

	for i := start; i+1 < len(parts); i += 2 {
		result[parts[i]] = parts[i+1]
	}

	return result
}
