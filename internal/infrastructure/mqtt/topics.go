package mqtt

import (
	"fmt"
	"strings"
)

// Topic layout for the 163 IoT platform device namespace.
//
// Every device (gateway or sub-device) is addressed by its product key and
// device name pair embedded in the topic:
//
//	sys/{productKey}/{deviceName}/service/CommonService        commands (cloud -> bridge)
//	sys/{productKey}/{deviceName}/service/CommonService_reply  command replies (bridge -> cloud)
//	sys/{productKey}/{deviceName}/event/property/post          property reports (bridge -> cloud)
const (
	// topicPrefix is the root of the device namespace.
	topicPrefix = "sys"

	// commandService is the service name used for property set commands.
	commandService = "CommonService"

	// topicParts is the number of segments in a device topic.
	topicParts = 5
)

// Topics provides builders for 163 IoT platform topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// Command returns the topic on which the cloud sends commands to a device.
//
// Example: sys/pk123/plug-kitchen/service/CommonService
func (Topics) Command(productKey, deviceName string) string {
	return fmt.Sprintf("%s/%s/%s/service/%s", topicPrefix, productKey, deviceName, commandService)
}

// CommandReply returns the topic on which command replies are published.
//
// Example: sys/pk123/plug-kitchen/service/CommonService_reply
func (Topics) CommandReply(productKey, deviceName string) string {
	return fmt.Sprintf("%s/%s/%s/service/%s_reply", topicPrefix, productKey, deviceName, commandService)
}

// PropertyPost returns the topic on which property reports are published.
//
// Example: sys/pk123/plug-kitchen/event/property/post
func (Topics) PropertyPost(productKey, deviceName string) string {
	return fmt.Sprintf("%s/%s/%s/event/property/post", topicPrefix, productKey, deviceName)
}

// ParseCommand extracts the device identity from a command topic.
// It returns ok=false for topics that are not CommonService commands.
func ParseCommand(topic string) (productKey, deviceName string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != topicParts {
		return "", "", false
	}
	if parts[0] != topicPrefix || parts[3] != "service" || parts[4] != commandService {
		return "", "", false
	}
	return parts[1], parts[2], true
}
