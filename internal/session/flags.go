package session

// NegotiationFlags track the offer/answer exchange of one connection
// instance. They are never reset in place: a new instance starts from the
// zero value.
type NegotiationFlags struct {
	OfferSent     bool
	OfferReceived bool
	AnswerSent    bool
}

// Used reports whether negotiation has started on this instance.
func (f NegotiationFlags) Used() bool {
	return f.OfferSent || f.OfferReceived || f.AnswerSent
}

// Phase is the negotiation progress of one connection instance.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseOfferSent
	PhaseOfferReceived
	// PhaseNegotiated means the SDP exchange is complete: the answer was
	// sent or applied. Connectivity is reported separately by the transport.
	PhaseNegotiated
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseOfferSent:
		return "offer-sent"
	case PhaseOfferReceived:
		return "offer-received"
	case PhaseNegotiated:
		return "negotiated"
	}
	return "unknown"
}

// phase derives the negotiation phase from the flags and whether the remote
// description has been applied.
func phase(f NegotiationFlags, remoteSet bool) Phase {
	switch {
	case f.OfferSent && remoteSet:
		return PhaseNegotiated
	case f.OfferSent:
		return PhaseOfferSent
	case f.AnswerSent:
		return PhaseNegotiated
	case f.OfferReceived:
		return PhaseOfferReceived
	}
	return PhaseIdle
}
