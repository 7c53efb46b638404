package rcon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// rosterLine matches one player row of the "players" response:
//
//	0:foo^7 TEAM:RED KILLS:8 DEATHS:5 ASSISTS:0 PING:98 AUTH:foo IP:127.0.0.1:27960
var rosterLine = regexp.MustCompile(
	`^(?P<slot>\d+):(?P<name>.*)\s+` +
		`TEAM:(?P<team>RED|BLUE|SPECTATOR|FREE)\s+` +
		`KILLS:(?P<kills>-?\d+)\s+` +
		`DEATHS:(?P<deaths>\d+)\s+` +
		`ASSISTS:(?P<assists>\d+)\s+` +
		`PING:(?P<ping>\d+|CNCT|ZMBI)\s+` +
		`AUTH:(?P<auth>.*)\s+` +
		`IP:(?P<ip>.*):(?P<port>.*)$`)

// RosterEntry is one player as reported by the control channel.
type RosterEntry struct {
	Slot    int
	Name    string
	Team    string
	Kills   int
	Deaths  int
	Assists int
	Ping    int
	Auth    string
	IP      string
}

// GameInfo is the parsed "players" response: the session header plus the
// authoritative roster.
type GameInfo struct {
	MapName  string
	GameType string
	GameTime string
	Scores   string
	Warmup   bool
	Players  []RosterEntry
}

// ParseGameInfo parses a "players" response:
//
//	Map: ut4_abbey
//	Players: 3
//	GameType: CTF
//	Scores: R:5 B:10
//	MatchMode: OFF
//	WarmupPhase: NO
//	GameTime: 00:12:04
//	0:foo^7 TEAM:RED KILLS:15 DEATHS:22 ASSISTS:0 PING:98 AUTH:foo IP:127.0.0.1:27960
func ParseGameInfo(data string) (*GameInfo, error) {
	info := &GameInfo{}
	declared := -1
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch key {
		case "Map":
			info.MapName = value
		case "Players":
			if n, err := strconv.Atoi(value); err == nil {
				declared = n
			}
		case "GameType":
			info.GameType = value
		case "Scores":
			info.Scores = value
		case "MatchMode":
			// ignored; match mode does not affect reconciliation
		case "WarmupPhase":
			info.Warmup = value != "NO"
		case "GameTime":
			info.GameTime = value
		default:
			if isDigits(key) {
				entry, err := parseRosterLine(line)
				if err != nil {
					return nil, err
				}
				info.Players = append(info.Players, entry)
			}
		}
	}
	if info.MapName == "" {
		return nil, fmt.Errorf("players response missing header: %.80q", data)
	}
	if declared >= 0 && declared != len(info.Players) {
		return nil, fmt.Errorf("players response declared %d players, parsed %d",
			declared, len(info.Players))
	}
	return info, nil
}

func parseRosterLine(line string) (RosterEntry, error) {
	m := rosterLine.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return RosterEntry{}, fmt.Errorf("bad roster line: %q", line)
	}
	get := func(name string) string {
		return m[rosterLine.SubexpIndex(name)]
	}
	slot, err := strconv.Atoi(get("slot"))
	if err != nil {
		return RosterEntry{}, fmt.Errorf("bad roster slot: %q", line)
	}
	ping := 0
	switch p := get("ping"); p {
	case "CNCT":
		ping = -1
	case "ZMBI":
		ping = -2
	default:
		ping, _ = strconv.Atoi(p)
	}
	kills, _ := strconv.Atoi(get("kills"))
	deaths, _ := strconv.Atoi(get("deaths"))
	assists, _ := strconv.Atoi(get("assists"))
	auth := get("auth")
	if auth == "---" {
		auth = ""
	}
	return RosterEntry{
		Slot:    slot,
		Name:    strings.TrimSuffix(get("name"), "^7"),
		Team:    get("team"),
		Kills:   kills,
		Deaths:  deaths,
		Assists: assists,
		Ping:    ping,
		Auth:    auth,
		IP:      get("ip"),
	}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
