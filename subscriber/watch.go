package subscriber

import "encoding/json"

// WatchOptions is the parsed form of a `?WATCH={...}` command (spec §6
// table): which record classes and passthrough modes a connection has
// requested.
type WatchOptions struct {
	Enable  bool   `json:"enable"`
	JSON    bool   `json:"json"`
	NMEA    bool   `json:"nmea"`
	Raw     int    `json:"raw"`
	Scaled  bool   `json:"scaled"`
	Split24 bool   `json:"split24"`
	Timing  bool   `json:"timing"`
	PPS     bool   `json:"pps"`
	Device  string `json:"device"`
	Remote  string `json:"remote"`
}

// DefaultWatchOptions matches gpsd's own default: JSON enabled, raw
// passthrough and split24 off.
func DefaultWatchOptions() WatchOptions {
	return WatchOptions{Enable: true, JSON: true}
}

// ParseWatch parses the `{...}` JSON body following `?WATCH=`.
// An empty body (bare `?WATCH;`) returns DefaultWatchOptions unchanged.
func ParseWatch(body string) (WatchOptions, error) {
	opts := DefaultWatchOptions()
	if body == "" {
		return opts, nil
	}
	if err := json.Unmarshal([]byte(body), &opts); err != nil {
		return WatchOptions{}, err
	}
	return opts, nil
}

// ToWatchRecord renders the applied options as the WATCH class the
// server echoes back to the client.
func (o WatchOptions) ToWatchRecord() Watch {
	return Watch{
		Class: "WATCH", Enable: o.Enable, JSON: o.JSON, NMEA: o.NMEA,
		Raw: o.Raw, Scaled: o.Scaled, Split24: o.Split24,
		Timing: o.Timing, PPS: o.PPS, Device: o.Device, Remote: o.Remote,
	}
}
