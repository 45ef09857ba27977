package handlers

import "time"

// CheckRequest is the request body for checking a key against its quota.
type CheckRequest struct {
	Body struct {
		Key  string `doc:"The key to check. IPv6 addresses are grouped by subnet" example:"2001:db8::1" json:"key" minLength:"1"`
		Cost int64  `doc:"Points the request consumes, 1 when omitted"             example:"1"           json:"cost,omitempty" minimum:"0"`
	}
}

// CheckResponse is the decision for a checked key.
type CheckResponse struct {
	Body struct {
		Key       string    `doc:"The key as it was counted"             example:"2001:db8:0:0:0:0:0:0/56" json:"key"`
		Allowed   bool      `doc:"Whether the request is admitted"       example:"true"                    json:"allowed"`
		Reason    string    `doc:"How the decision was reached"          example:"limit"                   json:"reason"`
		Limit     int64     `doc:"Quota per window"                      example:"100"                     json:"limit"`
		Remaining int64     `doc:"Points left in the current window"     example:"99"                      json:"remaining"`
		Reset     time.Time `doc:"When the current window ends"                                           json:"reset"`
	}
}

// AdjustRequest adds or returns points for a key.
type AdjustRequest struct {
	Key  string `doc:"The key to adjust" example:"client-42" path:"key"`
	Body struct {
		Points int64 `doc:"Number of points" example:"5" json:"points" minimum:"0"`
	}
}

// ResetRequest clears the counters of a key.
type ResetRequest struct {
	Key string `doc:"The key to reset" example:"client-42" path:"key"`
}

// MaskRequest asks how an address is grouped for rate limiting.
type MaskRequest struct {
	IP     string `doc:"Address to mask, the caller's address when empty" example:"2001:db8:1234:5678::1" query:"ip"`
	Prefix int    `default:"56" doc:"IPv6 prefix length, -1 disables masking" maximum:"128" minimum:"-1" query:"prefix"`
}

// MaskResponse is the masked form of an address.
type MaskResponse struct {
	Body struct {
		IP     string `doc:"The address as given"        example:"2001:db8:1234:5678::1"   json:"ip"`
		Masked string `doc:"The address used as the key" example:"2001:db8:1234:5600:0:0:0:0/56" json:"masked"`
		Prefix int    `doc:"The prefix length applied"   example:"56"                      json:"prefix"`
	}
}
