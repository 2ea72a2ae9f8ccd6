package os2l

import (
	"fmt"
	"strings"
	"time"
)

// handshakeGroup is a burst of subscriptions followed by a pause
type handshakeGroup struct {
	messages []Subscribed
	pause    time.Duration
}

const nullSoundSwitchID = "{00000000-0000-0000-0000-000000000000}"

func soundSwitchIDTrigger(deck int) string {
	return fmt.Sprintf("deck %d get_text '%%SOUNDSWITCH_ID'", deck)
}

func loopRollTrigger(deck int) string {
	lengths := []string{"0.03125", "0.0625", "0.125", "0.25", "0.5", "0.75", "1", "2", "4"}
	parts := make([]string, 0, len(lengths)+1)
	for _, l := range lengths {
		parts = append(parts, fmt.Sprintf("deck %d loop_roll %s ? constant %s", deck, l, l))
	}
	parts = append(parts, "constant 0")
	return strings.Join(parts, " : ")
}

func perDeck(decks []int, fn func(deck int) Subscribed) []Subscribed {
	out := make([]Subscribed, 0, len(decks))
	for _, d := range decks {
		out = append(out, fn(d))
	}
	return out
}

// handshake mirrors what a four-deck DJ application announces on connect.
// SoundSwitch does not start following beats without it.
func handshake() []handshakeGroup {
	all := []int{1, 2, 3, 4}

	levels := perDeck(all, func(d int) Subscribed {
		return NewSubscribed(fmt.Sprintf("deck %d level", d), 1)
	})
	levels = append(levels, NewSubscribed("crossfader", 0.5))

	transport := perDeck(all, func(d int) Subscribed {
		return NewSubscribed(fmt.Sprintf("deck %d play", d), "off")
	})
	transport = append(transport, perDeck(all, func(d int) Subscribed {
		return NewSubscribed(fmt.Sprintf("deck %d loop", d), "off")
	})...)

	loopLengths := map[int]int{1: 8, 2: 16, 3: 8, 4: 8}

	return []handshakeGroup{
		{
			messages: []Subscribed{NewSubscribed(soundSwitchIDTrigger(1), "")},
			pause:    20 * time.Millisecond,
		},
		{
			messages: perDeck([]int{2, 3, 4}, func(d int) Subscribed {
				return NewSubscribed(soundSwitchIDTrigger(d), "")
			}),
			pause: 30 * time.Millisecond,
		},
		{messages: levels, pause: 50 * time.Millisecond},
		{
			messages: perDeck(all, func(d int) Subscribed {
				return NewSubscribed(fmt.Sprintf("deck %d get_bpm", d), 120)
			}),
			pause: 50 * time.Millisecond,
		},
		{messages: transport, pause: 50 * time.Millisecond},
		{
			messages: perDeck(all, func(d int) Subscribed {
				return NewSubscribed(fmt.Sprintf("deck %d get_loop", d), loopLengths[d])
			}),
			pause: 50 * time.Millisecond,
		},
		{
			messages: perDeck(all, func(d int) Subscribed {
				return NewSubscribed(loopRollTrigger(d), 0)
			}),
			pause: 50 * time.Millisecond,
		},
		{
			messages: perDeck([]int{1, 3, 4}, func(d int) Subscribed {
				return NewSubscribed(soundSwitchIDTrigger(d), nullSoundSwitchID)
			}),
			pause: 50 * time.Millisecond,
		},
	}
}
