package store

import "github.com/isqad/livelook-party/internal/core"

// Mailbox sub-collections of a participant.
const (
	OffersCollection        = "offers"
	AnswersCollection       = "answers"
	ICECandidatesCollection = "iceCandidates"
)

// MailboxCollections lists every sub-collection a participant owns as a mailbox.
var MailboxCollections = []string{OffersCollection, AnswersCollection, ICECandidatesCollection}

// SessionsPath is the collection of every session.
func SessionsPath() Path {
	return NewPath("sessions")
}

// SessionPath is sessions/{sessionID}.
func SessionPath(sessionID core.SessionID) Path {
	return SessionsPath().Child(string(sessionID))
}

// PeersPath is the presence collection of a session.
func PeersPath(sessionID core.SessionID) Path {
	return SessionPath(sessionID).Child("peers")
}

// PeerPath is the presence record of a participant.
func PeerPath(sessionID core.SessionID, id core.ParticipantID) Path {
	return PeersPath(sessionID).Child(string(id))
}

// MailboxPath is one of the mailbox sub-collections of a participant.
func MailboxPath(sessionID core.SessionID, id core.ParticipantID, collection string) Path {
	return PeerPath(sessionID, id).Child(collection)
}

// MessagesPath is the conversation history of a session.
func MessagesPath(sessionID core.SessionID) Path {
	return SessionPath(sessionID).Child("messages")
}
