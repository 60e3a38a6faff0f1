package ntrip

import (
	"bufio"
	"io"
	"strconv"
	"strings"
)

// Format is the correction stream format enum spec §4.6 restricts
// acceptance to (formats outside RTCM2/RTCM3 are logged-and-rejected).
type Format int

const (
	FormatUnknown Format = iota
	FormatRTCM2
	FormatRTCM3
	FormatCMRPlus
)

// ParseFormat maps a sourcetable STR record's format field to the enum,
// accepting the RTCM2.x/RTCM3.x family and recognizing (but rejecting)
// CMR+.
func ParseFormat(s string) Format {
	switch {
	case strings.HasPrefix(s, "RTCM 3") || strings.HasPrefix(s, "RTCM3"):
		return FormatRTCM3
	case strings.HasPrefix(s, "RTCM 2") || strings.HasPrefix(s, "RTCM2"):
		return FormatRTCM2
	case strings.HasPrefix(s, "CMR+"):
		return FormatCMRPlus
	default:
		return FormatUnknown
	}
}

// Accepted reports whether the format is in the RTCM2/RTCM3 family spec
// §4.6 accepts; CMR+ and anything else are logged-and-rejected.
func (f Format) Accepted() bool { return f == FormatRTCM2 || f == FormatRTCM3 }

// AuthType is the authentication scheme a sourcetable STR record
// advertises. Only None and Basic are accepted (spec §4.6); Digest is
// recognized so it can be logged and rejected rather than silently
// misparsed.
type AuthType int

const (
	AuthUnknown AuthType = iota
	AuthNone
	AuthBasic
	AuthDigest
)

func ParseAuthType(s string) AuthType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "n", "none":
		return AuthNone
	case "b", "basic":
		return AuthBasic
	case "d", "digest":
		return AuthDigest
	default:
		return AuthUnknown
	}
}

// Accepted reports whether the client will attempt this auth scheme.
func (a AuthType) Accepted() bool { return a == AuthNone || a == AuthBasic }

// StreamEntry is a parsed STR sourcetable record (spec §4.6, fields
// "format/carrier/nmea/authentication/compression/lat/lon" captured on
// mountpoint match). Field layout grounded on
// pkg/caster/sourcetable.go's StreamEntry.String(), read in reverse.
type StreamEntry struct {
	Mountpoint     string
	Format         Format
	FormatDetails  string
	Carrier        string
	NavSystem      string
	Network        string
	CountryCode    string
	Latitude       float64
	Longitude      float64
	NMEA           bool
	Solution       bool
	Generator      string
	Compression    string
	Authentication AuthType
	Fee            bool
	Bitrate        int
}

// Sourcetable is the parsed caster catalogue spec §4.6 matches
// mountpoints against.
type Sourcetable struct {
	Streams []StreamEntry
}

// FindMountpoint returns the STR record matching mount, if any.
func (st *Sourcetable) FindMountpoint(mount string) (StreamEntry, bool) {
	for _, s := range st.Streams {
		if s.Mountpoint == mount {
			return s, true
		}
	}
	return StreamEntry{}, false
}

// ParseSourcetable reads an NTRIP/1.0 ("SOURCETABLE 200 OK") or
// NTRIP/2.0 ("HTTP/1.1 200 OK" + "Content-Type: gnss/sourcetable")
// response body and extracts STR records, up to "ENDSOURCETABLE".
func ParseSourcetable(r io.Reader) (*Sourcetable, error) {
	scanner := bufio.NewScanner(r)
	st := &Sourcetable{}
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "ENDSOURCETABLE" {
			break
		}
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "STR;") {
			continue // CAS/NET records and header lines are skipped
		}
		entry, err := parseSTR(line)
		if err != nil {
			continue
		}
		st.Streams = append(st.Streams, entry)
	}
	return st, scanner.Err()
}

// parseSTR splits an STR record on unescaped ";", the field iterator
// spec §4.6 requires "respects \";\" quoted semicolons inside field
// values" is modeled here as literal backslash-escaping, since the STR
// grammar itself carries no native quoting mechanism beyond that.
func parseSTR(line string) (StreamEntry, error) {
	fields := splitUnescaped(line, ';')
	// index: 0 STR, 1 mountpoint, 2 identifier, 3 format, 4 format-details,
	// 5 carrier, 6 nav-system, 7 network, 8 country, 9 lat, 10 lon,
	// 11 nmea, 12 solution, 13 generator, 14 compression,
	// 15 authentication, 16 fee, 17 bitrate, 18 misc
	if len(fields) < 19 {
		return StreamEntry{}, ErrMalformedURL
	}
	lat, _ := strconv.ParseFloat(fields[9], 64)
	lon, _ := strconv.ParseFloat(fields[10], 64)
	bitrate, _ := strconv.Atoi(fields[17])

	return StreamEntry{
		Mountpoint:     fields[1],
		Format:         ParseFormat(fields[3]),
		FormatDetails:  fields[4],
		Carrier:        fields[5],
		NavSystem:      fields[6],
		Network:        fields[7],
		CountryCode:    fields[8],
		Latitude:       lat,
		Longitude:      lon,
		NMEA:           fields[11] == "1",
		Solution:       fields[12] == "1",
		Generator:      fields[13],
		Compression:    fields[14],
		Authentication: ParseAuthType(fields[15]),
		Fee:            fields[16] == "Y",
		Bitrate:        bitrate,
	}, nil
}

func splitUnescaped(s string, sep byte) []string {
	var fields []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) && s[i+1] == sep {
			cur.WriteByte(sep)
			i++
			continue
		}
		if s[i] == sep {
			fields = append(fields, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(s[i])
	}
	fields = append(fields, cur.String())
	return fields
}

// IsNTRIPv2Header reports whether line is the HTTP/1.1 status line an
// NTRIP/2.0 caster uses for its sourcetable and stream responses.
func IsNTRIPv2Header(line string) bool {
	return strings.HasPrefix(line, "HTTP/1.")
}

// IsSourcetableStatus reports whether line is the NTRIP/1.0 sourcetable
// status line.
func IsSourcetableStatus(line string) bool {
	return strings.HasPrefix(line, "SOURCETABLE")
}
