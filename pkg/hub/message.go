// Package hub fans path updates out to watching websocket clients. When a
// redis client is configured, broadcasts are relayed through redis so that
// watchers connected to another collector instance receive them too.
package hub

import "strings"

// Message is one payload for the watchers of a topic. Topics are path ids.
type Message struct {
	Topic string
	Data  []byte
}

// envelope is the redis wire form. Origin lets a hub skip its own echoes.
type envelope struct {
	Origin string `json:"origin"`
	Data   []byte `json:"data"`
}

const (
	channelPrefix  = "pathsync:"
	channelSuffix  = ":watch"
	channelPattern = channelPrefix + "*" + channelSuffix
)

func redisChannel(topic string) string {
	return channelPrefix + topic + channelSuffix
}

// topicFromChannel reverses redisChannel. It returns "" for foreign channels.
func topicFromChannel(ch string) string {
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
