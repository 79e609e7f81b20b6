package feed

// Subscription narrows the upstream stream. Zero values subscribe to every
// UPDATE from every collector.
type Subscription struct {
	Host         string
	Prefix       string
	MoreSpecific bool
	Path         string
	Peer         string
}

type subscribeMessage struct {
	Type string        `json:"type"`
	Data subscribeData `json:"data"`
}

type subscribeData struct {
	Type         string `json:"type"`
	Host         string `json:"host,omitempty"`
	Prefix       string `json:"prefix,omitempty"`
	MoreSpecific bool   `json:"moreSpecific,omitempty"`
	Path         string `json:"path,omitempty"`
	Peer         string `json:"peer,omitempty"`
}

func (s Subscription) message() subscribeMessage {
	return subscribeMessage{
		Type: "ris_sub",
		Data: subscribeData{
			Type:         "UPDATE",
			Host:         s.Host,
			Prefix:       s.Prefix,
			MoreSpecific: s.MoreSpecific,
			Path:         s.Path,
			Peer:         s.Peer,
		},
	}
}
