package mqtt

import "testing"

func TestTopics_Builders(t *testing.T) {
	topics := Topics{}

	if got, want := topics.Command("pk123", "plug-kitchen"), "sys/pk123/plug-kitchen/service/CommonService"; got != want {
		t.Errorf("Command() = %q, want %q", got, want)
	}

	if got, want := topics.CommandReply("pk123", "plug-kitchen"), "sys/pk123/plug-kitchen/service/CommonService_reply"; got != want {
		t.Errorf("CommandReply() = %q, want %q", got, want)
	}

	if got, want := topics.PropertyPost("pk123", "plug-kitchen"), "sys/pk123/plug-kitchen/event/property/post"; got != want {
		t.Errorf("PropertyPost() = %q, want %q", got, want)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name       string
		topic      string
		productKey string
		deviceName string
		ok         bool
	}{
		{
			name:       "valid command topic",
			topic:      "sys/pk123/plug-kitchen/service/CommonService",
			productKey: "pk123",
			deviceName: "plug-kitchen",
			ok:         true,
		},
		{
			name:  "reply topic is not a command",
			topic: "sys/pk123/plug-kitchen/service/CommonService_reply",
			ok:    false,
		},
		{
			name:  "property post is not a command",
			topic: "sys/pk123/plug-kitchen/event/property/post",
			ok:    false,
		},
		{
			name:  "wrong prefix",
			topic: "other/pk123/plug-kitchen/service/CommonService",
			ok:    false,
		},
		{
			name:  "too few segments",
			topic: "sys/pk123/service/CommonService",
			ok:    false,
		},
		{
			name:  "empty topic",
			topic: "",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pk, dn, ok := ParseCommand(tt.topic)
			if ok != tt.ok {
				t.Fatalf("ParseCommand(%q) ok = %v, want %v", tt.topic, ok, tt.ok)
			}
			if !ok {
				return
			}
			if pk != tt.productKey || dn != tt.deviceName {
				t.Errorf("ParseCommand(%q) = (%q, %q), want (%q, %q)", tt.topic, pk, dn, tt.productKey, tt.deviceName)
			}
		})
	}
}

func TestParseCommand_RoundTrip(t *testing.T) {
	topic := Topics{}.Command("pk9", "gw-main")
	pk, dn, ok := ParseCommand(topic)
	if !ok {
		t.Fatalf("ParseCommand(%q) ok = false", topic)
	}
	if pk != "pk9" || dn != "gw-main" {
		t.Errorf("ParseCommand(%q) = (%q, %q), want (pk9, gw-main)", topic, pk, dn)
	}
}
