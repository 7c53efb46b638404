// Package events defines the event model shared by the log parser, the
// dispatcher and the roster synchronizer.
package events

import (
	"strconv"
	"time"
)

// Kind identifies the type of a game event.
type Kind string

const (
	KindConnect          Kind = "clientconnect"
	KindBegin            Kind = "clientbegin"
	KindSpawn            Kind = "clientspawn"
	KindUserInfo         Kind = "clientuserinfo"
	KindUserInfoChanged  Kind = "clientuserinfochanged"
	KindAccountValidated Kind = "accountvalidated"
	KindDisconnect       Kind = "clientdisconnect"
	KindKill             Kind = "kill"
	KindAssist           Kind = "assist"
	KindHit              Kind = "hit"
	KindItem             Kind = "item"
	KindFlag             Kind = "flag"
	KindFlagReturn       Kind = "flagreturn"
	KindFlagCaptureTime  Kind = "flagcapturetime"
	KindBomb             Kind = "bomb"
	KindBombHolder       Kind = "bombholder"
	KindPop              Kind = "pop"
	KindSay              Kind = "say"
	KindSayTeam          Kind = "sayteam"
	KindSayTell          Kind = "saytell"
	KindRadio            Kind = "radio"
	KindInitGame         Kind = "initgame"
	KindInitRound        Kind = "initround"
	KindWarmup           Kind = "warmup"
	KindExit             Kind = "exit"
	KindShutdownGame     Kind = "shutdowngame"
	KindTeamScores       Kind = "teamscores"
	KindSurvivorWinner   Kind = "survivorwinner"

	// KindLogRotate marks a discontinuity in the log stream (rotation or
	// truncation). Downstream state that depends on log continuity should
	// reset when it sees one.
	KindLogRotate Kind = "logrotate"

	// KindUnknown carries lines that are well formed but match no known
	// format. The raw text is preserved so no data is dropped silently.
	KindUnknown Kind = "unknown"

	// KindAny subscribes a handler to every event kind.
	KindAny Kind = "*"
)

// Well-known field keys used in Event.Fields.
const (
	FieldSlot     = "slot"
	FieldTarget   = "target"
	FieldAttacker = "attacker"
	FieldVictim   = "victim"
	FieldWeapon   = "weapon"
	FieldLocation = "location"
	FieldName     = "name"
	FieldText     = "text"
	FieldAction   = "action"
	FieldTeam     = "team"
	FieldReason   = "reason"
	FieldRed      = "red"
	FieldBlue     = "blue"
	FieldAuth     = "auth"
	FieldCapTime  = "captime"
)

// Event is an immutable record derived from one log line (or synthesized by
// the roster synchronizer). Handlers must not mutate it.
type Event struct {
	Kind     Kind
	Seq      uint64
	Time     time.Time
	GameTime string
	RawLine  string
	Fields   map[string]string

	// Synthetic is set on events not derived from a log line: roster
	// reconciliation connects/disconnects and log rotation markers.
	// Handlers that only want ground-truth log events can filter on it.
	Synthetic bool
}

// Slot returns the slot field as an int, with ok=false when the field is
// absent or not numeric.
func (e Event) Slot() (int, bool) {
	return intField(e.Fields, FieldSlot)
}

// IntField returns the named field parsed as an int.
func (e Event) IntField(key string) (int, bool) {
	return intField(e.Fields, key)
}

func intField(fields map[string]string, key string) (int, bool) {
	s, ok := fields[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// IsChat reports whether the event carries player chat that the command
// dispatcher should inspect.
func (e Event) IsChat() bool {
	switch e.Kind {
	case KindSay, KindSayTeam, KindSayTell:
		return true
	}
	return false
}
