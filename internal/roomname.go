package internal

import (
	"fmt"
	"strings"
)

// Hero is a member whose display name stands in for the room name when the room
// has no m.room.name or canonical alias, e.g DMs.
type Hero struct {
	ID   string
	Name string
}

type HeroInfo struct {
	Heroes      []Hero
	JoinCount   int
	InviteCount int
}

// CalculateRoomName implements the room name calculation algorithm from the client-server
// spec. The result feeds the alphabetic sort key, which is why membership changes can
// reposition a room: a DM's name is derived from the other members.
func CalculateRoomName(roomName, canonicalAlias string, maxNumNamesPerRoom int, heroInfo HeroInfo) string {
	// If the room has an m.room.name state event with a non-empty name field, use the name given by that field.
	if roomName != "" {
		return roomName
	}
	// If the room has an m.room.canonical_alias state event with a valid alias field, use the alias given by that field as the name.
	if canonicalAlias != "" {
		return canonicalAlias
	}
	// If none of the above conditions are met, a name should be composed based on the members of the room.
	disambiguatedNames := disambiguate(heroInfo.Heroes)
	totalNumOtherUsers := heroInfo.JoinCount + heroInfo.InviteCount - 1
	isAlone := totalNumOtherUsers <= 0

	if len(heroInfo.Heroes) == 0 && isAlone {
		return "Empty Room"
	}

	// If there are enough heroes to name every other member, concatenate their
	// disambiguated names.
	if len(heroInfo.Heroes) >= totalNumOtherUsers {
		if len(disambiguatedNames) == 1 {
			return disambiguatedNames[0]
		}
		calculatedRoomName := strings.Join(disambiguatedNames[:len(disambiguatedNames)-1], ", ") + " and " + disambiguatedNames[len(disambiguatedNames)-1]
		if isAlone {
			return fmt.Sprintf("Empty Room (was %s)", calculatedRoomName)
		}
		return calculatedRoomName
	}

	// if we're here then len(heroes) < (joinedCount + invitedCount - 1)
	numEntries := len(disambiguatedNames)
	if numEntries > maxNumNamesPerRoom {
		numEntries = maxNumNamesPerRoom
	}
	calculatedRoomName := fmt.Sprintf(
		"%s and %d others", strings.Join(disambiguatedNames[:numEntries], ", "), totalNumOtherUsers-numEntries,
	)

	if (heroInfo.JoinCount + heroInfo.InviteCount) > 1 {
		return calculatedRoomName
	}

	return fmt.Sprintf("Empty Room (was %s)", calculatedRoomName)
}

// CanonicaliseRoomName produces the collation input for the alphabetic sort: lowercased
// with sigils and list punctuation stripped so '#foo' sorts next to 'Foo'.
func CanonicaliseRoomName(name string) string {
	return strings.ToLower(strings.Trim(name, "#!():_@"))
}

func disambiguate(heroes []Hero) []string {
	displayNames := make(map[string][]int)
	for i, h := range heroes {
		displayNames[h.Name] = append(displayNames[h.Name], i)
	}
	disambiguatedNames := make([]string, len(heroes))
	for _, indexes := range displayNames {
		if len(indexes) == 1 {
			disambiguatedNames[indexes[0]] = heroes[indexes[0]].Name
			continue
		}
		// disambiguate all these heroes
		for _, i := range indexes {
			h := heroes[i]
			disambiguatedNames[i] = fmt.Sprintf("%s (%s)", h.Name, h.ID)
		}
	}
	return disambiguatedNames
}
