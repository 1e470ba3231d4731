package types

// Room name conventions. Rooms are opaque strings to the broadcaster; these
// prefixes are the contract between the coordinators and the transport.

func ChatRoom(chatId string) string { return "chat:" + chatId }

func SessionRoom(sessionId string) string { return "session:" + sessionId }

func UserRoom(userId string) string { return "user:" + userId }
