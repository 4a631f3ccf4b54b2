package realtime

import "hash/fnv"

// MembersRoom is the broadcast group of every connected member and admin.
const MembersRoom = "members"

const shardCount = 16

// PersonalRoom is the room every session of userID is seeded with.
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// TicketRoom is the room for a ticket's conversation.
func TicketRoom(ticketID string) string {
	return "ticket:" + ticketID
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}
