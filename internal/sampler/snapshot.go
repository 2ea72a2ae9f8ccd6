package sampler

// Snapshot is one poll tick's worth of raw values from the target
type Snapshot struct {
	Tempo        float32 `json:"tempo"`
	Deck1Beats   int32   `json:"deck1_beats"`
	Deck2Beats   int32   `json:"deck2_beats"`
	MasterDeck   uint8   `json:"master_deck"`
	Deck1TrackID int32   `json:"deck1_track_id"`
	Deck2TrackID int32   `json:"deck2_track_id"`
	Deck1Time    int32   `json:"deck1_time"`
	Deck2Time    int32   `json:"deck2_time"`
}

// Decks is the number of decks tracked
const Decks = 2

// MasterIndex maps the master-deck indicator to a deck index: 0 for deck 1,
// 1 for anything else.
func (s Snapshot) MasterIndex() int {
	if s.MasterDeck == 0 {
		return 0
	}
	return 1
}

// Beats returns the absolute beat count of a deck
func (s Snapshot) Beats(deck int) int32 {
	if deck == 0 {
		return s.Deck1Beats
	}
	return s.Deck2Beats
}

// TrackID returns the track loaded on a deck (<= 0 means none)
func (s Snapshot) TrackID(deck int) int32 {
	if deck == 0 {
		return s.Deck1TrackID
	}
	return s.Deck2TrackID
}

// Time returns a deck's elapsed playback time in milliseconds
func (s Snapshot) Time(deck int) int32 {
	if deck == 0 {
		return s.Deck1Time
	}
	return s.Deck2Time
}

func (s Snapshot) MasterBeats() int32   { return s.Beats(s.MasterIndex()) }
func (s Snapshot) MasterTime() int32    { return s.Time(s.MasterIndex()) }
func (s Snapshot) MasterTrackID() int32 { return s.TrackID(s.MasterIndex()) }
