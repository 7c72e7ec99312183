package mirror

// Channel naming for the mirror bus. Room traffic shares one channel;
// direct messages land on the recipient's private channel.
const (
	ChannelRoom       = "room:main"
	UserChannelPrefix = "user:"
)

// Event types published by the chat server.
const (
	EventMessage = "message"
)

// UserChannel returns the private channel for one username.
func UserChannel(username string) string {
	return UserChannelPrefix + username
}
