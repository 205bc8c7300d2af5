package signaling

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v3"

	"github.com/isqad/livelook-party/internal/core"
	"github.com/isqad/livelook-party/internal/store"
)

type Kind string

const (
	OfferKind        Kind = "offer"
	AnswerKind       Kind = "answer"
	ICECandidateKind Kind = "iceCandidate"
)

var (
	errUndefinedKind    = errors.New("undefined message kind")
	errMalformedMessage = errors.New("malformed signaling message")
)

// Collection is the mailbox sub-collection holding messages of this kind.
func (k Kind) Collection() string {
	switch k {
	case OfferKind:
		return store.OffersCollection
	case AnswerKind:
		return store.AnswersCollection
	case ICECandidateKind:
		return store.ICECandidatesCollection
	}
	return ""
}

func kindOf(collection string) (Kind, error) {
	switch collection {
	case store.OffersCollection:
		return OfferKind, nil
	case store.AnswersCollection:
		return AnswerKind, nil
	case store.ICECandidatesCollection:
		return ICECandidateKind, nil
	}
	return "", fmt.Errorf("%w: %s", errUndefinedKind, collection)
}

type OfferMessage struct {
	From  core.ParticipantID         `json:"from"`
	Offer *webrtc.SessionDescription `json:"offer"`
}

type AnswerMessage struct {
	From   core.ParticipantID         `json:"from"`
	Answer *webrtc.SessionDescription `json:"answer"`
}

type ICECandidateMessage struct {
	From      core.ParticipantID       `json:"from"`
	Candidate *webrtc.ICECandidateInit `json:"candidate"`
}

func NewOfferMessage(from core.ParticipantID, sdp webrtc.SessionDescription) OfferMessage {
	return OfferMessage{From: from, Offer: &sdp}
}

func NewAnswerMessage(from core.ParticipantID, sdp webrtc.SessionDescription) AnswerMessage {
	return AnswerMessage{From: from, Answer: &sdp}
}

func NewICECandidateMessage(from core.ParticipantID, candidate webrtc.ICECandidateInit) ICECandidateMessage {
	return ICECandidateMessage{From: from, Candidate: &candidate}
}

func decodeOffer(doc store.Document) (OfferMessage, error) {
	msg := OfferMessage{}
	if err := doc.Decode(&msg); err != nil {
		return msg, err
	}
	if msg.From == "" || msg.Offer == nil {
		return msg, errMalformedMessage
	}
	return msg, nil
}

func decodeAnswer(doc store.Document) (AnswerMessage, error) {
	msg := AnswerMessage{}
	if err := doc.Decode(&msg); err != nil {
		return msg, err
	}
	if msg.From == "" || msg.Answer == nil {
		return msg, errMalformedMessage
	}
	return msg, nil
}

func decodeICECandidate(doc store.Document) (ICECandidateMessage, error) {
	msg := ICECandidateMessage{}
	if err := doc.Decode(&msg); err != nil {
		return msg, err
	}
	if msg.From == "" || msg.Candidate == nil {
		return msg, errMalformedMessage
	}
	return msg, nil
}
