package relay

import (
	"encoding/json"
	"fmt"

	"foodstr/models"
)

// Nostr frames are JSON arrays with a leading label. Client side we send
// ["REQ", <subID>, <filter>] and ["CLOSE", <subID>]; relays answer with
// ["EVENT", <subID>, <event>], ["EOSE", <subID>] and ["NOTICE", <message>].

const (
	labelEvent  = "EVENT"
	labelEose   = "EOSE"
	labelNotice = "NOTICE"
	labelClosed = "CLOSED"
)

func reqFrame(subID string, filter models.Filter) ([]byte, error) {
	return json.Marshal([]interface{}{"REQ", subID, filter})
}

func closeFrame(subID string) ([]byte, error) {
	return json.Marshal([]interface{}{"CLOSE", subID})
}

// frame is one parsed relay-to-client message.
type frame struct {
	Label  string
	SubID  string
	Event  *models.Note
	Notice string
}

func parseFrame(data []byte) (*frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	f := &frame{}
	if err := json.Unmarshal(parts[0], &f.Label); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame label: %w", err)
	}

	switch f.Label {
	case labelEvent:
		if len(parts) < 3 {
			return nil, fmt.Errorf("EVENT frame with %d elements", len(parts))
		}
		if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
			return nil, fmt.Errorf("failed to unmarshal subscription id: %w", err)
		}
		var note models.Note
		if err := json.Unmarshal(parts[2], &note); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event: %w", err)
		}
		f.Event = &note
	case labelEose, labelClosed:
		if len(parts) >= 2 {
			if err := json.Unmarshal(parts[1], &f.SubID); err != nil {
				return nil, fmt.Errorf("failed to unmarshal subscription id: %w", err)
			}
		}
	case labelNotice:
		if len(parts) >= 2 {
			// Notices are free text; a malformed one is not worth an error.
			_ = json.Unmarshal(parts[1], &f.Notice)
		}
	}

	return f, nil
}
