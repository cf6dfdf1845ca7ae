package sdp

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// H264FormatParameters models the `a=fmtp` parameter list for an H.264
// payload type (RFC 6184 Section 8.1): the subset the negotiation layer
// needs to decide codec compatibility, plus out-of-band parameter sets.
type H264FormatParameters struct {
	LevelAsymmetryAllowed bool
	PacketizationMode     int
	ProfileLevelID        int
	SpropParameterSets    [][]byte
}

// Marshal renders the semicolon-separated parameter list.
func (f *H264FormatParameters) Marshal() string {
	params := []string{fmt.Sprintf("profile-level-id=%06x", f.ProfileLevelID)}
	if f.LevelAsymmetryAllowed {
		params = append(params, "level-asymmetry-allowed=1")
	}
	if f.PacketizationMode > 0 {
		params = append(params, fmt.Sprintf("packetization-mode=%d", f.PacketizationMode))
	}
	if len(f.SpropParameterSets) > 0 {
		sets := make([]string, len(f.SpropParameterSets))
		for i, ps := range f.SpropParameterSets {
			sets[i] = base64.StdEncoding.EncodeToString(ps)
		}
		params = append(params, "sprop-parameter-sets="+strings.Join(sets, ","))
	}
	return strings.Join(params, ";")
}

// Unmarshal parses a parameter list. Parameters outside the model are
// ignored; recognized parameters with out-of-range values are an error.
func (f *H264FormatParameters) Unmarshal(format string) error {
	for _, param := range strings.Split(format, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok {
			return fmt.Errorf("malformed fmtp parameter %q", param)
		}

		switch name {
		case "level-asymmetry-allowed":
			switch value {
			case "0":
				f.LevelAsymmetryAllowed = false
			case "1":
				f.LevelAsymmetryAllowed = true
			default:
				return fmt.Errorf("bad level-asymmetry-allowed %q", value)
			}
		case "packetization-mode":
			mode, err := strconv.Atoi(value)
			if err != nil || mode < 0 || mode > 2 {
				return fmt.Errorf("bad packetization-mode %q", value)
			}
			f.PacketizationMode = mode
		case "profile-level-id":
			id, err := strconv.ParseUint(value, 16, 24)
			if err != nil {
				return fmt.Errorf("bad profile-level-id %q", value)
			}
			f.ProfileLevelID = int(id)
		case "sprop-parameter-sets":
			for _, set := range strings.Split(value, ",") {
				ps, err := base64.StdEncoding.DecodeString(set)
				if err != nil {
					return fmt.Errorf("bad sprop-parameter-sets %q", value)
				}
				f.SpropParameterSets = append(f.SpropParameterSets, ps)
			}
		}
	}
	return nil
}
