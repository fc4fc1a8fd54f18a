package service

// Document paths in the shared state store. Participants, presence and
// finishers live under their room so collection subscriptions stay scoped
// to one session.
func examPath(examID string) string { return "exams/" + examID }

func roomPath(roomID string) string { return "rooms/" + roomID }

func participantsCollection(roomID string) string { return "rooms/" + roomID + "/participants" }

func participantPath(roomID, studentID string) string {
	return participantsCollection(roomID) + "/" + studentID
}

func presenceCollection(roomID string) string { return "rooms/" + roomID + "/presence" }

func presencePath(roomID, studentID string) string {
	return presenceCollection(roomID) + "/" + studentID
}

func finishersCollection(roomID string) string { return "rooms/" + roomID + "/finishers" }

func finisherPath(roomID, studentID string) string {
	return finishersCollection(roomID) + "/" + studentID
}

func submissionPath(submissionID string) string { return "submissions/" + submissionID }
