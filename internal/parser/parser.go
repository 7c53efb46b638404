// Package parser converts raw game log lines into typed events.
//
// A typical log entry starts with the game time (MMM:SS) left padded with
// spaces, the event name followed by a colon, and then the event data:
//
//	3:17 Kill: 8 5 46: |30+|Mudcat^7 killed |30+|BenderBot^7 by UT_MOD_TOD50
//
// A handful of entries do not follow the "Name: data" shape (bomb actions,
// team scores, "Pop!") and are matched against their known irregular forms.
package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urt30plus/urt30t/internal/events"
)

// ParseError reports a line that failed basic structural sanity. It is
// counted by the pipeline but never stops the stream.
type ParseError struct {
	Line string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable log line: %q", e.Line)
}

// kindByTag maps the lowercased event name from a "Name: data" entry to its
// event kind. The table is closed: anything else becomes KindUnknown.
var kindByTag = map[string]events.Kind{
	"clientconnect":         events.KindConnect,
	"clientbegin":           events.KindBegin,
	"clientspawn":           events.KindSpawn,
	"clientmelted":          events.KindSpawn,
	"clientuserinfo":        events.KindUserInfo,
	"clientuserinfochanged": events.KindUserInfoChanged,
	"accountvalidated":      events.KindAccountValidated,
	"clientdisconnect":      events.KindDisconnect,
	"kill":                  events.KindKill,
	"assist":                events.KindAssist,
	"hit":                   events.KindHit,
	"item":                  events.KindItem,
	"flag":                  events.KindFlag,
	"flagreturn":            events.KindFlagReturn,
	"flagcapturetime":       events.KindFlagCaptureTime,
	"say":                   events.KindSay,
	"sayteam":               events.KindSayTeam,
	"saytell":               events.KindSayTell,
	"radio":                 events.KindRadio,
	"initgame":              events.KindInitGame,
	"initround":             events.KindInitRound,
	"warmup":                events.KindWarmup,
	"exit":                  events.KindExit,
	"shutdowngame":          events.KindShutdownGame,
	"survivorwinner":        events.KindSurvivorWinner,
}

// Parse converts one raw log line into an Event. It is deterministic and
// total for well-formed lines; lines matching no known format come back as
// KindUnknown with the raw text preserved. Only structurally hopeless lines
// (empty after trimming) yield a *ParseError.
func Parse(line string, seq uint64) (events.Event, error) {
	trimmed := strings.TrimRight(line, "\r\n")
	ev := events.Event{
		Seq:     seq,
		Time:    time.Now(),
		RawLine: trimmed,
		Fields:  map[string]string{},
	}

	gameTime, rest := splitGameTime(trimmed)
	if rest == "" {
		if gameTime == "" {
			return ev, &ParseError{Line: trimmed}
		}
		ev.Kind = events.KindUnknown
		ev.GameTime = gameTime
		return ev, nil
	}
	ev.GameTime = gameTime

	name, data, sep := strings.Cut(rest, ":")
	data = strings.TrimSpace(data)

	switch {
	case sep && name == "red":
		// "red:8  blue:5" team scores
		ev.Kind = events.KindTeamScores
		parseTeamScores(&ev, "red:"+data)
		return ev, nil
	case sep:
		tag := strings.ToLower(strings.ReplaceAll(name, " ", ""))
		kind, ok := kindByTag[tag]
		if !ok {
			ev.Kind = events.KindUnknown
			return ev, nil
		}
		ev.Kind = kind
		parseFields(&ev, data)
		return ev, nil
	case strings.HasPrefix(rest, "Bombholder is "):
		ev.Kind = events.KindBombHolder
		ev.Fields[events.FieldSlot] = strings.TrimSpace(rest[len("Bombholder is "):])
		return ev, nil
	case strings.HasPrefix(rest, "Bomb was "):
		ev.Kind = events.KindBomb
		parseBomb(&ev, rest[len("Bomb was "):])
		return ev, nil
	case strings.HasPrefix(rest, "Bomb has been "):
		ev.Kind = events.KindBomb
		parseBomb(&ev, rest[len("Bomb has been "):])
		return ev, nil
	case rest == "Pop!":
		ev.Kind = events.KindPop
		return ev, nil
	default:
		ev.Kind = events.KindUnknown
		return ev, nil
	}
}

// splitGameTime peels the "MMM:SS" prefix off a log line. Long sessions can
// produce times wide enough that no space separates them from the event name
// ("1687:13ClientConnect: 8"), so the split is positional, not token based.
func splitGameTime(line string) (gameTime, rest string) {
	i := 0
	for i < len(line) && line[i] == ' ' {
		i++
	}
	start := i
	for i < len(line) && (line[i] >= '0' && line[i] <= '9') {
		i++
	}
	if i == start || i >= len(line) || line[i] != ':' {
		return "", strings.TrimSpace(line)
	}
	i++ // ':'
	secs := i
	for i < len(line) && (line[i] >= '0' && line[i] <= '9') {
		i++
	}
	if i == secs {
		return "", strings.TrimSpace(line)
	}
	return line[start:i], strings.TrimSpace(line[i:])
}

func parseFields(ev *events.Event, data string) {
	switch ev.Kind {
	case events.KindConnect, events.KindBegin, events.KindSpawn,
		events.KindDisconnect, events.KindBombHolder:
		putSlot(ev, events.FieldSlot, data)

	case events.KindUserInfo, events.KindUserInfoChanged:
		slot, info, _ := strings.Cut(data, " ")
		putSlot(ev, events.FieldSlot, slot)
		for k, v := range parseInfoString(info) {
			ev.Fields[k] = v
		}

	case events.KindAccountValidated:
		// "0 - m0neysh0t - 6 - """
		parts := strings.SplitN(data, " - ", 3)
		if len(parts) >= 2 {
			putSlot(ev, events.FieldSlot, parts[0])
			ev.Fields[events.FieldAuth] = parts[1]
		}

	case events.KindKill:
		// "8 5 46: A killed B by UT_MOD_X"
		head, text, _ := strings.Cut(data, ":")
		parts := strings.Fields(head)
		if len(parts) == 3 {
			putSlot(ev, events.FieldAttacker, parts[0])
			putSlot(ev, events.FieldVictim, parts[1])
			ev.Fields[events.FieldWeapon] = parts[2]
		}
		ev.Fields[events.FieldText] = strings.TrimSpace(text)

	case events.KindAssist:
		// "12 1 0: A assisted B to kill C"
		head, text, _ := strings.Cut(data, ":")
		parts := strings.Fields(head)
		if len(parts) == 3 {
			putSlot(ev, events.FieldSlot, parts[0])
			putSlot(ev, "killer", parts[1])
			putSlot(ev, events.FieldVictim, parts[2])
		}
		ev.Fields[events.FieldText] = strings.TrimSpace(text)

	case events.KindHit:
		// "4 8 4 19: A hit B in the Vest"
		head, _, _ := strings.Cut(data, ":")
		parts := strings.Fields(head)
		if len(parts) == 4 {
			putSlot(ev, events.FieldVictim, parts[0])
			putSlot(ev, events.FieldAttacker, parts[1])
			ev.Fields[events.FieldLocation] = parts[2]
			ev.Fields[events.FieldWeapon] = parts[3]
		}

	case events.KindSay, events.KindSayTeam:
		parseSay(ev, data)

	case events.KindSayTell:
		// "3 4 name: text" - slot, target, then the say form
		slot, rest, ok := strings.Cut(data, " ")
		if !ok {
			putSlot(ev, events.FieldSlot, slot)
			return
		}
		target, rest2, _ := strings.Cut(rest, " ")
		putSlot(ev, events.FieldSlot, slot)
		putSlot(ev, events.FieldTarget, target)
		name, text, ok := strings.Cut(rest2, ": ")
		if ok {
			ev.Fields[events.FieldName] = name
			ev.Fields[events.FieldText] = text
		} else {
			ev.Fields[events.FieldText] = rest2
		}

	case events.KindFlag:
		// "0 2: team_CTF_redflag"
		head, flag, _ := strings.Cut(data, ":")
		parts := strings.Fields(head)
		if len(parts) == 2 {
			putSlot(ev, events.FieldSlot, parts[0])
			ev.Fields[events.FieldAction] = parts[1]
		}
		switch strings.TrimSpace(flag) {
		case "team_CTF_redflag":
			ev.Fields[events.FieldTeam] = "RED"
		case "team_CTF_blueflag":
			ev.Fields[events.FieldTeam] = "BLUE"
		}

	case events.KindFlagReturn:
		ev.Fields[events.FieldTeam] = data

	case events.KindFlagCaptureTime:
		// "0: 6000"
		slot, capTime, _ := strings.Cut(data, ":")
		putSlot(ev, events.FieldSlot, slot)
		ev.Fields[events.FieldCapTime] = strings.TrimSpace(capTime)

	case events.KindInitGame, events.KindInitRound:
		for k, v := range parseInfoString(data) {
			ev.Fields[k] = v
		}

	case events.KindExit:
		ev.Fields[events.FieldReason] = data

	case events.KindSurvivorWinner:
		// either a slot ("0") or a team name ("Red")
		if _, err := strconv.Atoi(data); err == nil {
			ev.Fields[events.FieldSlot] = data
		} else {
			ev.Fields[events.FieldTeam] = strings.ToUpper(data)
		}

	case events.KindItem, events.KindRadio, events.KindWarmup,
		events.KindShutdownGame, events.KindPop:
		if data != "" {
			ev.Fields[events.FieldText] = data
		}
	}
}

// parseSay extracts slot, player name and message from say data. The usual
// form is "3 |30+|money^7: hello"; the name can be absent ("3: hello") when
// the server logs a bare slot.
func parseSay(ev *events.Event, data string) {
	slot, rest, ok := strings.Cut(data, " ")
	if !ok {
		// "3: text" with no name
		s, text, ok2 := strings.Cut(data, ":")
		if ok2 {
			putSlot(ev, events.FieldSlot, s)
			ev.Fields[events.FieldText] = strings.TrimSpace(text)
			return
		}
		putSlot(ev, events.FieldSlot, data)
		return
	}
	if s, ok2 := strings.CutSuffix(slot, ":"); ok2 {
		putSlot(ev, events.FieldSlot, s)
		ev.Fields[events.FieldText] = rest
		return
	}
	putSlot(ev, events.FieldSlot, slot)
	name, text, ok := strings.Cut(rest, ": ")
	if ok {
		ev.Fields[events.FieldName] = name
		ev.Fields[events.FieldText] = text
	} else {
		ev.Fields[events.FieldText] = rest
	}
}

func parseBomb(ev *events.Event, data string) {
	// "planted by 13", "defused by 11!", "collected by 13"
	action, rest, _ := strings.Cut(data, " by ")
	ev.Fields[events.FieldAction] = action
	putSlot(ev, events.FieldSlot, strings.TrimSuffix(strings.TrimSpace(rest), "!"))
}

func parseTeamScores(ev *events.Event, data string) {
	for _, part := range strings.Fields(data) {
		k, v, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		switch k {
		case "red":
			ev.Fields[events.FieldRed] = v
		case "blue":
			ev.Fields[events.FieldBlue] = v
		}
	}
}

// putSlot stores a numeric field, degrading to absent when the value does
// not convert instead of failing the whole line.
func putSlot(ev *events.Event, key, value string) {
	value = strings.TrimSpace(value)
	if _, err := strconv.Atoi(value); err != nil {
		return
	}
	ev.Fields[key] = value
}

// parseInfoString splits a "\key\value\key\value" info string into a map.
func parseInfoString(data string) map[string]string {
	parts := strings.Split(strings.TrimPrefix(data, `\`), `\`)
	m := make(map[string]string, len(parts)/2)
	for i := 0; i+1 < len(parts); i += 2 {
		m[parts[i]] = parts[i+1]
	}
	return m
}
