package server

import (
	"net/url"
	"strconv"

	"read2me/internal/session"
	"read2me/internal/speech"

	"github.com/twilio/twilio-go/twiml"
)

// voice builds TwiML documents with absolute URLs under the public base URL
type voice struct {
	base          string
	flip          string
	gatherTimeout int
}

func (v voice) audioURL(file string) string {
	return v.base + "/audio/" + url.PathEscape(file)
}

func (v voice) nextURL(nodeID string, digits string) string {
	q := url.Values{"id": {nodeID}}
	if digits != "" {
		q.Set("Digits", digits)
	}
	return v.base + "/next?" + q.Encode()
}

func (v voice) play(file string) twiml.Element {
	return &twiml.VoicePlay{Url: v.audioURL(file)}
}

// gather waits for one digit against nodeID while inner plays
func (v voice) gather(nodeID string, inner twiml.Element) twiml.Element {
	return &twiml.VoiceGather{
		Action:        v.nextURL(nodeID, ""),
		Method:        "POST",
		NumDigits:     "1",
		Timeout:       strconv.Itoa(v.gatherTimeout),
		InnerElements: []twiml.Element{inner},
	}
}

// elements renders a session turn
func (v voice) elements(turn session.Turn, lines responses) []twiml.Element {
	switch turn.Outcome {
	case session.Intro:
		return []twiml.Element{
			v.play(speech.IntroFile(turn.IntroIndex)),
			v.play(v.flip),
			v.gather(turn.NodeID, v.play(speech.NodeFile(turn.NodeID))),
		}
	case session.Advanced:
		return []twiml.Element{
			v.play(v.flip),
			v.gather(turn.NodeID, v.play(speech.NodeFile(turn.NodeID))),
		}
	case session.InvalidChoice:
		return []twiml.Element{
			v.gather(turn.NodeID, &twiml.VoiceSay{Message: lines.invalidChoice}),
		}
	case session.NotReady:
		return []twiml.Element{
			v.play(v.flip),
			&twiml.VoicePause{Length: "1"},
			&twiml.VoiceRedirect{Url: v.nextURL(turn.NodeID, turn.Digits), Method: "POST"},
		}
	case session.Restart:
		return []twiml.Element{
			&twiml.VoiceSay{Message: lines.pageMissing},
			&twiml.VoiceRedirect{Url: v.base + "/", Method: "POST"},
		}
	default:
		return []twiml.Element{
			&twiml.VoiceSay{Message: lines.failure},
			&twiml.VoiceHangup{},
		}
	}
}

type responses struct {
	invalidChoice string
	pageMissing   string
	failure       string
}
