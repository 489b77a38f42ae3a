package daynight

import "strconv"

// StreamParams are the mode-dependent encoder parameters applied to the
// ingest command.
type StreamParams struct {
	CRF         string
	GOPSize     string
	KeyintMin   string
	SCThreshold string
	Grayscale   bool
}

// StreamParams is a pure function of the current mode; callers building
// ingest commands read it at command-construction time.
func (c *Controller) StreamParams(fps int) StreamParams {
	params := StreamParams{
		CRF:         "23",
		GOPSize:     strconv.Itoa(fps * 2),
		KeyintMin:   strconv.Itoa(fps),
		SCThreshold: "0",
	}
	if c.Mode() == ModeNight {
		// Night frames are near-monochrome with sensor noise; a slightly
		// higher quality target and desaturation keep bitrate stable.
		params.CRF = "22"
		params.Grayscale = true
	}
	return params
}
