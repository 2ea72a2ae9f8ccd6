// Package timeouts defines the timeout constants shared across the bridge.
package timeouts

import "time"

// MetadataRequest caps a single track lookup against the local API. The
// lookup blocks the polling tick it happens in.
const MetadataRequest = 2 * time.Second

// PeerDial caps one attempt to open the OS2L connection.
const PeerDial = 3 * time.Second

// PeerReconnect caps the total time spent retrying a lost OS2L connection
// before giving up until the next send.
const PeerReconnect = 30 * time.Second

// DiscoveryBrowse is how long an mDNS browse waits for answers.
const DiscoveryBrowse = 3 * time.Second

// TrackResetGap is the pause between the empty path and the real path when
// forcing the receiver to reload the current track.
const TrackResetGap = 50 * time.Millisecond

// ControlReply caps how long a control client waits for the polling loop to
// pick up its command.
const ControlReply = 2 * time.Second

// OffsetsDownload caps fetching the offsets file.
const OffsetsDownload = 30 * time.Second

// Shutdown limits how long background services get to stop.
const Shutdown = 5 * time.Second
