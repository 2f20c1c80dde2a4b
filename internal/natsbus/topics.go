package natsbus

import (
	"fmt"
	"strings"
)

const (
	TopicEventsAll     = "events.>"
	TopicEventsMission = "events.mission.*"
	TopicEventsChat    = "events.chat.*"
	TopicAlerts        = "events.alert"

	missionPrefix = "events.mission."
	chatPrefix    = "events.chat."
)

// TopicMissionEvents carries every event emitted for one mission run.
func TopicMissionEvents(missionID string) string {
	return fmt.Sprintf("events.mission.%s", missionID)
}

func TopicChatEvents(missionID string) string {
	return fmt.Sprintf("events.chat.%s", missionID)
}

// MissionFromTopic extracts the mission id from a mission or chat subject.
func MissionFromTopic(topic string) (string, bool) {
	for _, p := range []string{missionPrefix, chatPrefix} {
		if id, ok := strings.CutPrefix(topic, p); ok && id != "" {
			return id, true
		}
	}
	return "", false
}
