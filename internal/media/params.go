package media

// CodecCapability mirrors the subset of RTP codec parameters clients need
// to configure their side of a transport.
type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels,omitempty"`
	FMTP      string `json:"fmtp,omitempty"`
}

type Capabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

// TransportParams is handed to the client after createWebRtcTransport so it
// can build its peer connection.
type TransportParams struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	ICEServers []string  `json:"iceServers,omitempty"`
}

type ConnectParams struct {
	TransportID string `json:"transportId"`
	OfferSDP    string `json:"offerSdp"`
}

type ConnectResult struct {
	AnswerSDP string `json:"answerSdp"`
}

type ProduceParams struct {
	TransportID string `json:"transportId"`
	Kind        Kind   `json:"kind"`
	// TrackID lets the engine match the producer to the remote track
	// announced in the client's SDP.
	TrackID string `json:"trackId,omitempty"`
	Paused  bool   `json:"paused,omitempty"`
}

type ConsumeParams struct {
	TransportID string `json:"transportId"`
	ProducerID  string `json:"producerId"`
}
